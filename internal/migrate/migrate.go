// Package migrate rebuilds an index from legacy interchange files or from
// another backend's index, removing duplicate and untitled records on the way.
package migrate

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
	"github.com/cdpedia/cdpindex/internal/storage"
)

// Stats counts what happened to the source records.
type Stats struct {
	Read      int `json:"read"`
	Repeated  int `json:"repeated"`
	NullTitle int `json:"null_title"`
	Written   int `json:"written"`
}

// Option configures Run.
type Option func(*runner)

type runner struct {
	logger *zap.Logger
}

// WithLogger sets the logger for progress and the final counts.
func WithLogger(l *zap.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// FromIndex adapts an open index into a record source.
func FromIndex(ctx context.Context, idx index.Index) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for d, err := range idx.Values(ctx) {
			if err != nil {
				yield(Record{}, err)
				return
			}
			r := Record{HTML: d.Link, Title: d.Title, Score: d.Score}
			if d.RecordType == models.RecordRedirect {
				r.Redirect = d.Link
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Entry converts a surviving record into a builder entry, re-tokenizing its title.
func Entry(r Record) models.Entry {
	rt := models.RecordOriginal
	if r.Redirect != "" {
		rt = models.RecordRedirect
	}
	return models.Entry{
		Tokens: normalize.Tokenize(r.Title),
		Score:  r.Score,
		Payload: models.Payload{
			RecordType: rt,
			Title:      r.Title,
			Link:       r.HTML,
		},
	}
}

// Filter yields the entries of the records that survive: the first copy of
// each distinct record, and only records with a title.
func Filter(src iter.Seq2[Record, error], stats *Stats) iter.Seq2[models.Entry, error] {
	return func(yield func(models.Entry, error) bool) {
		seen := make(map[Record]struct{})
		for r, err := range src {
			if err != nil {
				yield(models.Entry{}, err)
				return
			}
			stats.Read++
			if _, dup := seen[r]; dup {
				stats.Repeated++
				continue
			}
			seen[r] = struct{}{}
			if r.Title == "" {
				stats.NullTitle++
				continue
			}
			stats.Written++
			if !yield(Entry(r), nil) {
				return
			}
		}
	}
}

// Run builds a fresh index in store from src.
func Run(ctx context.Context, src iter.Seq2[Record, error], store *storage.Store, opts ...Option) (Stats, error) {
	r := &runner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	start := time.Now()

	var stats Stats
	err := index.Create(ctx, store.Backend, store.Dir, Filter(src, &stats), index.WithLogger(r.logger))
	fields := []zap.Field{
		zap.String("backend", store.Backend.Name()),
		zap.Int("read", stats.Read),
		zap.Int("repeated", stats.Repeated),
		zap.Int("null_title", stats.NullTitle),
		zap.Int("written", stats.Written),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		r.logger.Error("migration failed", append(fields, zap.Error(err))...)
		return stats, err
	}
	r.logger.Info("migration complete", fields...)
	return stats, nil
}
