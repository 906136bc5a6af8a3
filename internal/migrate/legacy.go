package migrate

import (
	"bufio"
	"compress/bzip2"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"
)

// Legacy interchange header values.
const (
	LegacyFormat  = "cdpedia-legacy-index"
	LegacyVersion = 1

	legacyPattern = "compindex-*.jsonl*"
)

// Header is the first line of every legacy file.
type Header struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
}

// Record is one legacy index entry. It is comparable, so whole records can key a set.
type Record struct {
	HTML        string `json:"html"`
	Title       string `json:"title"`
	Score       int64  `json:"score"`
	Redirect    string `json:"redirect"`
	PrimaryText string `json:"primary_text"`
}

// LegacyFiles lists the legacy index files in dir in name order.
func LegacyFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, legacyPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy files: %w", err)
	}
	files := matches[:0]
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".jsonl", ".bz2", ".zst", ".lz4":
			files = append(files, m)
		}
	}
	slices.Sort(files)
	return files, nil
}

// ReadLegacy decodes every legacy file in dir with up to workers files in
// flight. Records of one file keep their order; files interleave.
func ReadLegacy(ctx context.Context, dir string, workers int) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		files, err := LegacyFiles(dir)
		if err != nil {
			yield(Record{}, err)
			return
		}
		if len(files) == 0 {
			yield(Record{}, fmt.Errorf("no legacy index files (%s) in %s", legacyPattern, dir))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(workers, 1))

		records := make(chan Record, 1024)
		var readErr error
		go func() {
			for _, file := range files {
				g.Go(func() error { return readFile(gctx, file, records) })
			}
			readErr = g.Wait()
			close(records)
		}()

		for r := range records {
			if !yield(r, nil) {
				cancel()
				for range records {
				}
				return
			}
		}
		if readErr != nil && !errors.Is(readErr, context.Canceled) {
			yield(Record{}, readErr)
		} else if err := ctx.Err(); err != nil {
			yield(Record{}, err)
		}
	}
}

func openLegacy(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = bufio.NewReaderSize(f, 256<<10)
	switch filepath.Ext(path) {
	case ".bz2":
		r = bzip2.NewReader(r)
	case ".zst":
		dec, err := zstd.NewReader(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{dec, closerFunc(func() error { dec.Close(); return f.Close() })}, nil
	case ".lz4":
		r = lz4.NewReader(r)
	}
	return struct {
		io.Reader
		io.Closer
	}{r, f}, nil
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

func readFile(ctx context.Context, path string, out chan<- Record) error {
	rc, err := openLegacy(path)
	if err != nil {
		return fmt.Errorf("failed to open legacy file: %w", err)
	}
	defer rc.Close()

	name := filepath.Base(path)
	dec := json.NewDecoder(rc)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("%s: failed to read header: %w", name, err)
	}
	if h.Format != LegacyFormat {
		return fmt.Errorf("%s: unknown format %q", name, h.Format)
	}
	if h.Version != LegacyVersion {
		return fmt.Errorf("%s: unsupported %s version %d", name, LegacyFormat, h.Version)
	}

	for n := 1; ; n++ {
		var r Record
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: record %d: %w", name, n, err)
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteLegacy writes records as one legacy file, compressed according to the
// extension of path.
func WriteLegacy(path string, records []Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create legacy file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var (
		w     io.Writer = f
		flush func() error
	)
	switch ext := filepath.Ext(path); ext {
	case ".zst":
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		w, flush = enc, enc.Close
	case ".lz4":
		lw := lz4.NewWriter(f)
		w, flush = lw, lw.Close
	case ".jsonl":
	default:
		return fmt.Errorf("cannot write legacy files with extension %q", ext)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(Header{Format: LegacyFormat, Version: LegacyVersion}); err != nil {
		return err
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	if flush != nil {
		return flush()
	}
	return nil
}
