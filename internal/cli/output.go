// Package cli provides the input parsing and output formatting shared by the
// cdpindex commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// maxTitleWidth caps titles in text output.
const maxTitleWidth = 72

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, doc := range response.Results {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", doc.Title, doc.Link); err != nil {
				return err
			}
		}
		return nil
	default:
		return writeSearchResultsText(w, response)
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) error {
	mode := "exact"
	if response.Partial {
		mode = "partial"
	}
	more := ""
	if response.Truncated {
		more = "+"
	}
	if _, err := fmt.Fprintf(w, "\nFound %d%s %s matches for %v in %dms\n\n",
		response.Total, more, mode, response.Terms, response.QueryTime); err != nil {
		return err
	}
	for _, doc := range response.Results {
		if err := writeOneDocument(w, doc); err != nil {
			return err
		}
	}
	return nil
}

func writeOneDocument(w io.Writer, doc models.Document) error {
	marker := " "
	if doc.RecordType == models.RecordRedirect {
		marker = "→"
	}
	_, err := fmt.Fprintf(w, "%s %-*s  %s\n", marker, maxTitleWidth, utils.Truncate(doc.Title, maxTitleWidth), doc.Link)
	return err
}

// WriteDocument writes a single document.
func WriteDocument(w io.Writer, doc models.Document, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, doc)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "%s\t%s\n", doc.Title, doc.Link)
		return err
	default:
		_, err := fmt.Fprintf(w, "title:        %s\nlink:         %s\nrecord_type:  %s\nscore:        %d\n",
			doc.Title, doc.Link, doc.RecordType, doc.Score)
		return err
	}
}

// WriteStats writes index status.
func WriteStats(w io.Writer, stats *models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	_, err := fmt.Fprintf(w,
		"backend:           %s\npath:              %s\ndocuments:         %d   # count of indexed documents\ndisk_usage_bytes:  %d   # index entry on disk\n",
		stats.Backend, stats.Path, stats.Documents, stats.DiskUsageBytes)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
