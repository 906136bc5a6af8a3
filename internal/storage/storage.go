// Package storage maps index configuration to a concrete backend and wraps the
// build and open entry points around it.
package storage

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/backend/archive"
	"github.com/cdpedia/cdpindex/internal/backend/fulltext"
	"github.com/cdpedia/cdpindex/internal/backend/memory"
	"github.com/cdpedia/cdpindex/internal/backend/relational"
	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

// Backends lists the backend identifiers accepted in configuration.
var Backends = []string{memory.Name, archive.Name, relational.Name, fulltext.Name}

// NewBackend returns the backend selected by cfg.
func NewBackend(cfg config.IndexConfig) (index.Backend, error) {
	switch cfg.Backend {
	case memory.Name:
		return memory.New(), nil
	case archive.Name:
		codec, err := archive.ParseCodec(cfg.Compression)
		if err != nil {
			return nil, err
		}
		return archive.New(
			archive.WithCodec(codec),
			archive.WithCacheBlocks(cfg.BlockCacheSize),
			archive.WithVerifyChecksum(cfg.VerifyChecksumOrDefault()),
		), nil
	case relational.Name:
		return relational.New(cfg.SQLiteDriver)
	case fulltext.Name:
		return fulltext.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (supported: %v)", cfg.Backend, Backends)
	}
}

// Store is a configured backend bound to its index directory.
type Store struct {
	Backend index.Backend
	Dir     string
	logger  *zap.Logger
}

// New resolves the backend for cfg.
func New(cfg config.IndexConfig, logger *zap.Logger) (*Store, error) {
	b, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Backend: b, Dir: cfg.Directory, logger: logger}, nil
}

// Path is the index entry inside the directory.
func (s *Store) Path() string { return index.Path(s.Backend, s.Dir) }

// Create builds a fresh index from entries, replacing any previous one.
func (s *Store) Create(ctx context.Context, entries iter.Seq2[models.Entry, error]) error {
	return index.Create(ctx, s.Backend, s.Dir, entries, index.WithLogger(s.logger))
}

// Open opens the current index.
func (s *Store) Open(ctx context.Context) (index.Index, error) {
	return index.Open(ctx, s.Backend, s.Dir, index.WithLogger(s.logger))
}

// DiskUsage reports the bytes the index entry occupies.
func (s *Store) DiskUsage() (int64, error) {
	return DiskUsageBytes(s.Path())
}
