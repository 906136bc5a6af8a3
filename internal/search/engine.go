// Package search provides the query service in front of an open title index.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cdpedia/cdpindex/internal/cache"
	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/metrics"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/storage"
)

// matchSet is the full, presentation-ordered result of one query.
type matchSet struct {
	docs      []models.Document
	truncated bool
}

// Engine serves queries from the index currently loaded. It may start without
// one; queries then fail with index.ErrMissingIndex until Swap or Reload succeeds.
type Engine struct {
	store  *storage.Store
	config *config.SearchConfig

	mu  sync.RWMutex
	idx index.Index
	gen uint64

	cache   *cache.LRU[string, *matchSet]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records query and reload metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine for the index kept by store. Call Reload or Swap to load one.
func NewEngine(store *storage.Store, cfg *config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		config: cfg,
		cache:  cache.New[string, *matchSet](cfg.CacheSize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Swap installs idx as the served index. In-flight queries finish on the old
// index before it is closed.
func (e *Engine) Swap(idx index.Index) {
	e.mu.Lock()
	old := e.idx
	e.idx = idx
	e.gen++
	e.mu.Unlock()

	e.cache.Purge()
	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close previous index", zap.Error(err))
		}
	}
	if e.metrics != nil && idx != nil {
		e.metrics.IndexDocuments.Set(float64(idx.Len()))
	}
}

// Reload opens the stored index and swaps it in. On failure the current index keeps serving.
func (e *Engine) Reload(ctx context.Context) error {
	idx, err := e.store.Open(ctx)
	if err != nil {
		e.recordReload("error")
		return err
	}
	e.Swap(idx)
	e.recordReload("ok")
	e.logger.Info("index loaded",
		zap.String("backend", e.store.Backend.Name()),
		zap.String("path", e.store.Path()),
		zap.Int("documents", idx.Len()))
	return nil
}

func (e *Engine) recordReload(status string) {
	if e.metrics != nil {
		e.metrics.IndexReloadsTotal.WithLabelValues(status).Inc()
	}
}

// Close closes the served index.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx == nil {
		return nil
	}
	err := e.idx.Close()
	e.idx = nil
	return err
}

// acquire read-locks the served index. The caller must call release.
func (e *Engine) acquire(op string) (index.Index, uint64, error) {
	e.mu.RLock()
	if e.idx == nil {
		e.mu.RUnlock()
		return nil, 0, index.Missing(op, e.store.Path())
	}
	return e.idx, e.gen, nil
}

func (e *Engine) release() { e.mu.RUnlock() }

// Search runs an exact or partial query and returns one page of results ordered by title, then link.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	terms, err := ProcessQuery(query, e.config)
	if err != nil {
		return nil, err
	}
	mode := "exact"
	if query.Partial {
		mode = "partial"
	}

	resp := &models.SearchResponse{
		Query:   query.Query,
		Terms:   terms,
		Partial: query.Partial,
		Results: []models.Document{},
	}
	if len(terms) == 0 {
		e.recordQuery(mode, metrics.ResultZeroResult, "none", 0, start)
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}

	set, cacheStatus, err := e.lookup(ctx, terms, query.Partial)
	if err != nil {
		e.recordQuery(mode, metrics.ResultError, cacheStatus, 0, start)
		return nil, err
	}

	resp.Total = len(set.docs)
	resp.Truncated = set.truncated
	lo := min(query.Offset, len(set.docs))
	hi := min(lo+query.Limit, len(set.docs))
	resp.Results = slices.Clone(set.docs[lo:hi])
	if resp.Results == nil {
		resp.Results = []models.Document{}
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	result := metrics.ResultHit
	if resp.Total == 0 {
		result = metrics.ResultZeroResult
	}
	e.recordQuery(mode, result, cacheStatus, resp.Total, start)
	return resp, nil
}

func (e *Engine) recordQuery(mode, result, cacheStatus string, total int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(mode, result).Inc()
	e.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if result != metrics.ResultError {
		e.metrics.SearchResultsCount.Observe(float64(total))
	}
}

// lookup returns the cached result set for the query or computes it once for
// all concurrent callers. The shared computation ignores the leader's
// cancellation, since the other callers wait on it too.
func (e *Engine) lookup(ctx context.Context, terms []string, partial bool) (*matchSet, string, error) {
	idx, gen, err := e.acquire("search")
	if err != nil {
		return nil, "none", err
	}
	defer e.release()

	key := cacheKey(gen, terms, partial)
	if set, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.CacheHitsTotal.Inc()
		}
		return set, "hit", nil
	}
	if e.metrics != nil {
		e.metrics.CacheMissesTotal.Inc()
	}

	shared := context.WithoutCancel(ctx)
	v, err, _ := e.group.Do(key, func() (any, error) {
		set, err := e.collect(shared, idx, terms, partial)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, set)
		return set, nil
	})
	if err != nil {
		return nil, "miss", err
	}
	return v.(*matchSet), "miss", nil
}

func (e *Engine) collect(ctx context.Context, idx index.Index, terms []string, partial bool) (*matchSet, error) {
	seq := idx.Search(ctx, terms)
	if partial {
		seq = idx.PartialSearch(ctx, terms)
	}
	set := &matchSet{}
	for d, err := range seq {
		if err != nil {
			return nil, err
		}
		if e.config.MaxResults > 0 && len(set.docs) >= e.config.MaxResults {
			set.truncated = true
			break
		}
		set.docs = append(set.docs, d)
	}
	slices.SortFunc(set.docs, func(a, b models.Document) int {
		return cmp.Or(strings.Compare(a.Title, b.Title), strings.Compare(a.Link, b.Link))
	})
	return set, nil
}

func cacheKey(gen uint64, terms []string, partial bool) string {
	mode := 'e'
	if partial {
		mode = 'p'
	}
	return fmt.Sprintf("%d:%c:%s", gen, mode, strings.Join(terms, "\x00"))
}

// Random returns a uniformly drawn document.
func (e *Engine) Random(ctx context.Context) (models.Document, error) {
	idx, _, err := e.acquire("random")
	if err != nil {
		return models.Document{}, err
	}
	defer e.release()
	return idx.Random(ctx)
}

// Contains reports whether token is in the vocabulary.
func (e *Engine) Contains(ctx context.Context, token string) (bool, error) {
	idx, _, err := e.acquire("contains")
	if err != nil {
		return false, err
	}
	defer e.release()
	return idx.Contains(ctx, token)
}

// Stats describes the served index.
func (e *Engine) Stats(context.Context) (*models.IndexStats, error) {
	idx, _, err := e.acquire("stats")
	if err != nil {
		return nil, err
	}
	defer e.release()

	stats := &models.IndexStats{
		Backend:   e.store.Backend.Name(),
		Path:      e.store.Path(),
		Documents: idx.Len(),
	}
	usage, err := e.store.DiskUsage()
	if err != nil {
		return nil, fmt.Errorf("failed to measure index size: %w", err)
	}
	stats.DiskUsageBytes = usage
	return stats, nil
}

// Ready reports whether an index is loaded.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx != nil
}

// IsBadQuery reports whether err came from query validation.
func IsBadQuery(err error) bool {
	return errors.Is(err, ErrBadQuery)
}
