// Package memory provides the resident index backend: a flat binary dump read
// entirely into memory at open. Exact lookups hash the token; partial lookups
// scan the sorted vocabulary.
package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"math/rand/v2"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

const (
	// Name identifies this backend in configuration.
	Name = "memory"

	filename = "index.mem"
	magic    = "CDPM"
	version  = 1
)

// Backend writes and opens flat dump files.
type Backend struct{}

// New returns the memory backend.
func New() *Backend { return &Backend{} }

// Name implements index.Backend.
func (*Backend) Name() string { return Name }

// Filename implements index.Backend.
func (*Backend) Filename() string { return filename }

// Write serializes the arena: magic, version, documents, sorted (token, posting)
// pairs, and a CRC-32 of everything before it.
func (*Backend) Write(ctx context.Context, path string, a *index.Arena) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	sum := crc32.NewIEEE()
	w := bufio.NewWriterSize(io.MultiWriter(f, sum), 1<<20)

	var buf []byte
	buf = append(buf, magic...)
	buf = append(buf, version)
	buf = binary.AppendUvarint(buf, uint64(a.Len()))
	for _, d := range a.Docs {
		buf = index.AppendDocument(buf, d)
		if len(buf) >= 64<<10 {
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("failed to write documents: %w", err)
			}
			buf = buf[:0]
		}
	}

	tokens := a.Tokens()
	buf = binary.AppendUvarint(buf, uint64(len(tokens)))
	var bmBuf bytes.Buffer
	for i, tok := range tokens {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		bmBuf.Reset()
		if _, err := a.Postings[tok].WriteTo(&bmBuf); err != nil {
			return fmt.Errorf("failed to serialize posting %q: %w", tok, err)
		}
		buf = index.AppendString(buf, tok)
		buf = index.AppendBytes(buf, bmBuf.Bytes())
		if len(buf) >= 64<<10 {
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("failed to write postings: %w", err)
			}
			buf = buf[:0]
		}
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write postings: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, sum.Sum32()); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	return f.Close()
}

// Open reads and validates the whole dump.
func (*Backend) Open(_ context.Context, path string) (index.Index, error) {
	if err := index.CheckExists(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, index.Failure("open", fmt.Errorf("failed to read index file: %w", err))
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*Index, error) {
	if len(data) < len(magic)+1+4 {
		return nil, index.Corruptf("open", path, "file too short: %d bytes", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, index.Corruptf("open", path, "bad magic %q", data[:len(magic)])
	}
	if v := data[len(magic)]; v != version {
		return nil, index.Corruptf("open", path, "unsupported version %d", v)
	}
	body, tail := data[:len(data)-4], data[len(data)-4:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(tail); got != want {
		return nil, index.Corruptf("open", path, "checksum mismatch: %08x != %08x", got, want)
	}

	dec := index.NewDecoder(body[len(magic)+1:])
	docCount := dec.Uvarint()
	if dec.Err() == nil && docCount > uint64(dec.Remaining()) {
		return nil, index.Corruptf("open", path, "document count %d exceeds file size", docCount)
	}
	docs := make([]models.Document, 0, docCount)
	for i := uint64(0); i < docCount && dec.Err() == nil; i++ {
		docs = append(docs, dec.Document())
	}
	tokenCount := dec.Uvarint()
	if dec.Err() == nil && tokenCount > uint64(dec.Remaining()) {
		return nil, index.Corruptf("open", path, "token count %d exceeds file size", tokenCount)
	}
	idx := &Index{
		docs:     docs,
		postings: make(map[string]*roaring.Bitmap, tokenCount),
		tokens:   make([]string, 0, tokenCount),
	}
	for i := uint64(0); i < tokenCount && dec.Err() == nil; i++ {
		tok := dec.String()
		raw := dec.Bytes()
		if dec.Err() != nil {
			break
		}
		if n := len(idx.tokens); n > 0 && idx.tokens[n-1] >= tok {
			return nil, index.Corruptf("open", path, "vocabulary out of order at %q", tok)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(raw); err != nil {
			return nil, index.Corrupt("open", path, fmt.Errorf("posting %q: %w", tok, err))
		}
		if bm.IsEmpty() || uint64(bm.Maximum()) >= docCount {
			return nil, index.Corruptf("open", path, "posting %q references unknown documents", tok)
		}
		idx.tokens = append(idx.tokens, tok)
		idx.postings[tok] = bm
	}
	if err := dec.Err(); err != nil {
		return nil, index.Corrupt("open", path, err)
	}
	if dec.Remaining() != 0 {
		return nil, index.Corruptf("open", path, "%d trailing bytes", dec.Remaining())
	}
	if len(docs) == 0 {
		return nil, index.Corruptf("open", path, "no documents")
	}
	return idx, nil
}

// Index is a fully resident index.
type Index struct {
	docs     []models.Document
	postings map[string]*roaring.Bitmap
	tokens   []string // sorted
}

// Posting implements index.PostingSource.
func (x *Index) Posting(_ context.Context, token string) (*roaring.Bitmap, error) {
	return x.postings[token], nil
}

// SubstringUnion implements index.PostingSource.
func (x *Index) SubstringUnion(_ context.Context, fragment string) (*roaring.Bitmap, error) {
	toks := index.MatchingTokens(x.tokens, fragment)
	if len(toks) == 0 {
		return nil, nil
	}
	sets := make([]*roaring.Bitmap, len(toks))
	for i, tok := range toks {
		sets[i] = x.postings[tok]
	}
	return roaring.FastOr(sets...), nil
}

// Keys implements index.Index.
func (x *Index) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, tok := range x.tokens {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

// Values implements index.Index.
func (x *Index) Values(ctx context.Context) iter.Seq2[models.Document, error] {
	return func(yield func(models.Document, error) bool) {
		for i, d := range x.docs {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					yield(models.Document{}, err)
					return
				}
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Contains implements index.Index.
func (x *Index) Contains(_ context.Context, token string) (bool, error) {
	tok, ok := index.SingleToken(token)
	if !ok {
		return false, nil
	}
	_, ok = x.postings[tok]
	return ok, nil
}

// Random implements index.Index.
func (x *Index) Random(context.Context) (models.Document, error) {
	return x.docs[rand.IntN(len(x.docs))], nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, terms, false)
}

// PartialSearch implements index.Index.
func (x *Index) PartialSearch(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, terms, true)
}

func (x *Index) match(ctx context.Context, terms []string, partial bool) iter.Seq2[models.Document, error] {
	bm, err := index.Match(ctx, x, index.QueryTerms(terms), partial)
	if err != nil {
		return index.Failed[models.Document](err)
	}
	return index.Documents(ctx, bm, x.get)
}

func (x *Index) get(id uint32) (models.Document, error) {
	return x.docs[id], nil
}

// Len implements index.Index.
func (x *Index) Len() int { return len(x.docs) }

// Close implements index.Index.
func (x *Index) Close() error { return nil }
