package models

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query   string   `json:"query"`
	Terms   []string `json:"terms"`
	Partial bool     `json:"partial"`
	// Total counts every matching document, not just this page.
	Total     int        `json:"total"`
	Truncated bool       `json:"truncated,omitempty"`
	Results   []Document `json:"results"`
	QueryTime int64      `json:"took_ms"`
}

// IndexStats describes the index currently being served.
type IndexStats struct {
	Backend        string `json:"backend"`
	Path           string `json:"path"`
	Documents      int    `json:"documents"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
