package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/index"
)

// DiskUsageBytes returns the size in bytes of an index entry. The entry may
// be a file or a directory (recursively summed). A missing entry is 0.
func DiskUsageBytes(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

// Leftovers lists what interrupted builds left in the index directory.
func (s *Store) Leftovers() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if index.IsLeftover(s.Backend, e.Name()) {
			out = append(out, filepath.Join(s.Dir, e.Name()))
		}
	}
	return out, nil
}

// Clean removes build leftovers and returns how many bytes were freed. It
// takes the build lock, so it fails with ErrBuildLocked while a build runs.
func (s *Store) Clean() (int64, error) {
	if _, err := os.Stat(s.Dir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	lock := flock.New(index.LockPath(s.Backend, s.Dir))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, index.Failure("clean", fmt.Errorf("failed to acquire build lock: %w", err))
	}
	if !locked {
		return 0, &index.Error{Kind: index.ErrBuildLocked, Op: "clean", Path: s.Path()}
	}
	defer func() { _ = lock.Unlock() }()

	paths, err := s.Leftovers()
	if err != nil {
		return 0, index.Failure("clean", err)
	}
	var freed int64
	for _, p := range paths {
		n, err := DiskUsageBytes(p)
		if err != nil {
			return freed, index.Failure("clean", err)
		}
		if err := os.RemoveAll(p); err != nil {
			return freed, index.Failure("clean", err)
		}
		freed += n
		s.logger.Info("removed build leftover", zap.String("path", p), zap.Int64("bytes", n))
	}
	return freed, nil
}
