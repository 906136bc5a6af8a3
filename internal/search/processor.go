package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

// ErrBadQuery marks queries rejected before they reach the index.
var ErrBadQuery = errors.New("bad query")

// ProcessQuery validates the query, applies paging defaults, and returns the
// normalized terms. A query whose words all normalize away yields no terms.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) ([]string, error) {
	query.Query = strings.TrimSpace(query.Query)
	if err := query.Validate(cfg.DefaultLimit, cfg.MaxLimit); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadQuery, err)
	}
	return index.QueryTerms(strings.Fields(query.Query)), nil
}
