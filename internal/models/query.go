package models

import "fmt"

// SearchQuery represents a title search request.
type SearchQuery struct {
	Query   string `json:"query"`
	Partial bool   `json:"partial,omitempty"` // match every term inside words instead of exactly
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Validate ensures the search query has valid fields and applies paging defaults.
// defaultLimit is used when Limit is unset; Limit is capped at maxLimit.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
