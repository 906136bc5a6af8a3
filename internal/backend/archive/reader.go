package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"iter"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cdpedia/cdpindex/internal/cache"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/mmap"
	"github.com/cdpedia/cdpindex/internal/models"
)

// Index is an open archive. Blocks are decoded on demand.
type Index struct {
	path  string
	m     *mmap.File
	data  []byte
	codec Codec

	docCount      int
	tokenCount    int
	termIndexOff  uint64
	termBlocks    int
	docIndexOff   uint64
	docBlocks     int
	termsPerBlock int
	docsPerBlock  int

	terms *cache.LRU[int, *termBlock]
	docs  *cache.LRU[int, []models.Document]
}

type termBlock struct {
	tokens   []string
	postings []*roaring.Bitmap
}

// Open implements index.Backend. It validates the header, footer, section
// bounds and block index eagerly; block contents are decoded lazily.
func (b *Backend) Open(_ context.Context, path string) (index.Index, error) {
	if err := index.CheckExists(path); err != nil {
		return nil, err
	}
	m, err := mmap.Open(path)
	if err != nil {
		return nil, index.Failure("open", fmt.Errorf("failed to map archive: %w", err))
	}
	x := &Index{
		path:  path,
		m:     m,
		data:  m.Data,
		terms: cache.New[int, *termBlock](b.cacheBlocks),
		docs:  cache.New[int, []models.Document](b.cacheBlocks),
	}
	if err := x.validate(b.verify); err != nil {
		_ = m.Close()
		return nil, index.Corrupt("open", path, err)
	}
	return x, nil
}

func (x *Index) validate(verify bool) error {
	size := uint64(len(x.data))
	if size < headerSize+footerSize {
		return fmt.Errorf("file too short: %d bytes", size)
	}
	if string(x.data[:4]) != headMagic {
		return fmt.Errorf("bad magic %q", x.data[:4])
	}
	if x.data[4] != version {
		return fmt.Errorf("unsupported version %d", x.data[4])
	}
	x.codec = Codec(x.data[5])
	if !x.codec.valid() {
		return fmt.Errorf("unknown codec %d", x.data[5])
	}
	x.docCount = int(binary.LittleEndian.Uint32(x.data[8:]))
	x.tokenCount = int(binary.LittleEndian.Uint32(x.data[12:]))

	foot := x.data[size-footerSize:]
	if string(foot[footerSize-4:]) != footMagic {
		return errors.New("bad footer magic")
	}
	if verify {
		want := binary.LittleEndian.Uint32(foot[crcOffsetFt:])
		if got := crc32.ChecksumIEEE(x.data[:size-8]); got != want {
			return fmt.Errorf("checksum mismatch: %08x != %08x", got, want)
		}
	}
	x.termIndexOff = binary.LittleEndian.Uint64(foot[0:])
	x.termBlocks = int(binary.LittleEndian.Uint32(foot[8:]))
	x.docIndexOff = binary.LittleEndian.Uint64(foot[12:])
	x.docBlocks = int(binary.LittleEndian.Uint32(foot[20:]))
	x.termsPerBlock = int(binary.LittleEndian.Uint16(foot[24:]))
	x.docsPerBlock = int(binary.LittleEndian.Uint16(foot[26:]))

	if x.docCount == 0 {
		return errors.New("no documents")
	}
	if x.termsPerBlock == 0 || x.docsPerBlock == 0 {
		return errors.New("zero block size")
	}
	if x.termBlocks != ceilDiv(x.tokenCount, x.termsPerBlock) || x.docBlocks != ceilDiv(x.docCount, x.docsPerBlock) {
		return errors.New("block counts do not match header")
	}
	if x.termIndexOff+uint64(x.termBlocks)*termEntry != x.docIndexOff ||
		x.docIndexOff+uint64(x.docBlocks)*docEntry != size-footerSize {
		return errors.New("section offsets out of range")
	}

	limit := x.termIndexOff
	prev := ""
	for i := 0; i < x.termBlocks; i++ {
		off, n, koff, klen := x.termEntryAt(i)
		if off < headerSize || off+n > limit || koff+klen > limit {
			return fmt.Errorf("term block %d out of range", i)
		}
		key := string(x.data[koff : koff+klen])
		if i > 0 && key <= prev {
			return fmt.Errorf("term block %d out of order", i)
		}
		prev = key
	}
	for i := 0; i < x.docBlocks; i++ {
		off, n := x.docEntryAt(i)
		if off < headerSize || off+n > limit {
			return fmt.Errorf("document block %d out of range", i)
		}
	}
	return nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func (x *Index) termEntryAt(i int) (off, n, koff, klen uint64) {
	e := x.data[x.termIndexOff+uint64(i)*termEntry:]
	return binary.LittleEndian.Uint64(e[0:]),
		uint64(binary.LittleEndian.Uint32(e[8:])),
		binary.LittleEndian.Uint64(e[12:]),
		uint64(binary.LittleEndian.Uint32(e[20:]))
}

func (x *Index) docEntryAt(i int) (off, n uint64) {
	e := x.data[x.docIndexOff+uint64(i)*docEntry:]
	return binary.LittleEndian.Uint64(e[0:]), uint64(binary.LittleEndian.Uint32(e[8:]))
}

func (x *Index) firstKey(i int) string {
	_, _, koff, klen := x.termEntryAt(i)
	return string(x.data[koff : koff+klen])
}

// findBlock returns the last term block whose first key is <= token, or -1.
func (x *Index) findBlock(token string) int {
	return sort.Search(x.termBlocks, func(i int) bool { return x.firstKey(i) > token }) - 1
}

func (x *Index) termBlock(i int) (*termBlock, error) {
	if tb, ok := x.terms.Get(i); ok {
		return tb, nil
	}
	off, n, _, _ := x.termEntryAt(i)
	raw, err := decompressBlock(x.data[off:off+n], x.codec)
	if err != nil {
		return nil, index.Corrupt("read", x.path, fmt.Errorf("term block %d: %w", i, err))
	}
	dec := index.NewDecoder(raw)
	count := min(x.termsPerBlock, x.tokenCount-i*x.termsPerBlock)
	tb := &termBlock{
		tokens:   make([]string, 0, count),
		postings: make([]*roaring.Bitmap, 0, count),
	}
	for j := 0; j < count && dec.Err() == nil; j++ {
		tok := dec.String()
		body := dec.Bytes()
		if dec.Err() != nil {
			break
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(body); err != nil {
			return nil, index.Corrupt("read", x.path, fmt.Errorf("posting %q: %w", tok, err))
		}
		if bm.IsEmpty() || int(bm.Maximum()) >= x.docCount {
			return nil, index.Corruptf("read", x.path, "posting %q references unknown documents", tok)
		}
		tb.tokens = append(tb.tokens, tok)
		tb.postings = append(tb.postings, bm)
	}
	if err := dec.Err(); err != nil {
		return nil, index.Corrupt("read", x.path, fmt.Errorf("term block %d: %w", i, err))
	}
	x.terms.Set(i, tb)
	return tb, nil
}

func (x *Index) docBlock(i int) ([]models.Document, error) {
	if docs, ok := x.docs.Get(i); ok {
		return docs, nil
	}
	off, n := x.docEntryAt(i)
	raw, err := decompressBlock(x.data[off:off+n], x.codec)
	if err != nil {
		return nil, index.Corrupt("read", x.path, fmt.Errorf("document block %d: %w", i, err))
	}
	dec := index.NewDecoder(raw)
	count := min(x.docsPerBlock, x.docCount-i*x.docsPerBlock)
	docs := make([]models.Document, 0, count)
	for j := 0; j < count; j++ {
		docs = append(docs, dec.Document())
	}
	if err := dec.Err(); err != nil {
		return nil, index.Corrupt("read", x.path, fmt.Errorf("document block %d: %w", i, err))
	}
	x.docs.Set(i, docs)
	return docs, nil
}

func (x *Index) get(id uint32) (models.Document, error) {
	docs, err := x.docBlock(int(id) / x.docsPerBlock)
	if err != nil {
		return models.Document{}, err
	}
	return docs[int(id)%x.docsPerBlock], nil
}

// Posting implements index.PostingSource.
func (x *Index) Posting(_ context.Context, token string) (*roaring.Bitmap, error) {
	bi := x.findBlock(token)
	if bi < 0 {
		return nil, nil
	}
	tb, err := x.termBlock(bi)
	if err != nil {
		return nil, err
	}
	j := sort.SearchStrings(tb.tokens, token)
	if j < len(tb.tokens) && tb.tokens[j] == token {
		return tb.postings[j], nil
	}
	return nil, nil
}

// SubstringUnion implements index.PostingSource. A fragment can sit anywhere
// in a token, so every term block is scanned.
func (x *Index) SubstringUnion(ctx context.Context, fragment string) (*roaring.Bitmap, error) {
	var sets []*roaring.Bitmap
	for bi := 0; bi < x.termBlocks; bi++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tb, err := x.termBlock(bi)
		if err != nil {
			return nil, err
		}
		for j, tok := range tb.tokens {
			if strings.Contains(tok, fragment) {
				sets = append(sets, tb.postings[j])
			}
		}
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return roaring.FastOr(sets...), nil
}

// Keys implements index.Index.
func (x *Index) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for bi := 0; bi < x.termBlocks; bi++ {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			tb, err := x.termBlock(bi)
			if err != nil {
				yield("", err)
				return
			}
			for _, tok := range tb.tokens {
				if !yield(tok, nil) {
					return
				}
			}
		}
	}
}

// Values implements index.Index.
func (x *Index) Values(ctx context.Context) iter.Seq2[models.Document, error] {
	return func(yield func(models.Document, error) bool) {
		for bi := 0; bi < x.docBlocks; bi++ {
			if err := ctx.Err(); err != nil {
				yield(models.Document{}, err)
				return
			}
			docs, err := x.docBlock(bi)
			if err != nil {
				yield(models.Document{}, err)
				return
			}
			for _, d := range docs {
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

// Contains implements index.Index.
func (x *Index) Contains(ctx context.Context, token string) (bool, error) {
	tok, ok := index.SingleToken(token)
	if !ok {
		return false, nil
	}
	bm, err := x.Posting(ctx, tok)
	return bm != nil, err
}

// Random implements index.Index.
func (x *Index) Random(context.Context) (models.Document, error) {
	return x.get(uint32(rand.IntN(x.docCount)))
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

// Len implements index.Index.
func (x *Index) Len() int { return x.docCount }

// Codec returns the compression the archive was written with.
func (x *Index) Codec() Codec { return x.codec }

// Close unmaps the archive. The index must not be used afterwards.
func (x *Index) Close() error {
	x.terms.Purge()
	x.docs.Purge()
	return x.m.Close()
}
