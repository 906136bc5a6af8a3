package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/models"
)

// Option configures Create and Open.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets a logger for build and open progress.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Path returns where backend b keeps its index inside dir.
func Path(b Backend, dir string) string {
	return filepath.Join(dir, b.Filename())
}

// LockPath is the file whose lock serializes builds of backend b in dir.
func LockPath(b Backend, dir string) string {
	return filepath.Join(dir, "."+b.Filename()+".lock")
}

// IsLeftover reports whether name is a temporary that an interrupted build of
// backend b left behind: an unfinished write or a previous index moved aside.
func IsLeftover(b Backend, name string) bool {
	return strings.HasPrefix(name, "."+b.Filename()+".tmp-") ||
		strings.HasPrefix(name, b.Filename()+".old-")
}

// Create builds an index from entries and stores it in dir with backend b.
//
// Documents get dense ids in input order. Entries are consumed before anything
// is written, so an empty input fails with ErrEmptyIndex without touching dir.
// The backend writes to a temporary sibling which then replaces any previous
// index in one rename; readers never observe a partially written index.
// Concurrent builds of the same target fail with ErrBuildLocked.
func Create(ctx context.Context, b Backend, dir string, entries iter.Seq2[models.Entry, error], opts ...Option) error {
	o := newOptions(opts)
	start := time.Now()

	arena, err := BuildArena(ctx, entries)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Failure("create", fmt.Errorf("failed to create index directory: %w", err))
	}
	target := Path(b, dir)

	lock := flock.New(LockPath(b, dir))
	locked, err := lock.TryLock()
	if err != nil {
		return Failure("create", fmt.Errorf("failed to acquire build lock: %w", err))
	}
	if !locked {
		return &Error{Kind: ErrBuildLocked, Op: "create", Path: target}
	}
	defer func() { _ = lock.Unlock() }()

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", b.Filename(), uuid.NewString()))
	o.logger.Debug("writing index",
		zap.String("backend", b.Name()),
		zap.String("tmp", tmp),
		zap.Int("documents", arena.Len()),
		zap.Int("tokens", len(arena.Postings)),
	)
	if err := b.Write(ctx, tmp, arena); err != nil {
		_ = os.RemoveAll(tmp)
		return Failure("create", err)
	}
	if err := replace(tmp, target); err != nil {
		_ = os.RemoveAll(tmp)
		return Failure("create", err)
	}

	o.logger.Info("index built",
		zap.String("backend", b.Name()),
		zap.String("path", target),
		zap.Int("documents", arena.Len()),
		zap.Int("tokens", len(arena.Postings)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Open opens the index backend b keeps in dir.
func Open(ctx context.Context, b Backend, dir string, opts ...Option) (Index, error) {
	o := newOptions(opts)
	path := Path(b, dir)
	if err := CheckExists(path); err != nil {
		return nil, err
	}
	idx, err := b.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("index opened", zap.String("backend", b.Name()), zap.String("path", path), zap.Int("documents", idx.Len()))
	return idx, nil
}

// CheckExists returns ErrMissingIndex when nothing exists at path.
func CheckExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing("open", path)
		}
		return Failure("open", err)
	}
	return nil
}

// replace moves tmp onto target. Files are swapped by a single rename;
// a directory target is moved aside first because rename cannot replace it.
func replace(tmp, target string) error {
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("failed to stat built index: %w", err)
	}
	if info.IsDir() {
		if _, err := os.Stat(target); err == nil {
			old := fmt.Sprintf("%s.old-%s", target, uuid.NewString())
			if err := os.Rename(target, old); err != nil {
				return fmt.Errorf("failed to move previous index aside: %w", err)
			}
			defer os.RemoveAll(old)
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to rename index into place: %w", err)
	}
	syncDir(filepath.Dir(target))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
