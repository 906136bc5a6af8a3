// Package archive provides the compressed index backend: one archive file,
// memory-mapped at open, whose term and document sections are split into
// independently compressed blocks. Only the blocks a query touches are
// decoded, and decoded blocks are kept in a bounded cache, so working memory
// does not grow with the corpus.
//
// Layout (little endian):
//
//	header   magic "CDPZ" | version u8 | codec u8 | reserved u16 | documents u32 | tokens u32
//	term blocks      sorted (token, roaring posting) entries, termsPerBlock per block
//	document blocks  documents in id order, docsPerBlock per block
//	key area         first token of every term block
//	term index       per block: offset u64 | length u32 | key offset u64 | key length u32
//	document index   per block: offset u64 | length u32
//	footer   term index offset u64 | term blocks u32 | document index offset u64 |
//	         document blocks u32 | termsPerBlock u16 | docsPerBlock u16 | reserved u32 |
//	         crc32 u32 | magic "ZPDC"
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/cdpedia/cdpindex/internal/index"
)

const (
	// Name identifies this backend in configuration.
	Name = "compressed"

	filename    = "index.cdx"
	headMagic   = "CDPZ"
	footMagic   = "ZPDC"
	version     = 1
	headerSize  = 16
	footerSize  = 40
	termEntry   = 24
	docEntry    = 12
	defaultTPB  = 128
	defaultDPB  = 128
	defaultLRU  = 256
	crcOffsetFt = footerSize - 8
)

// Backend writes and opens archives.
type Backend struct {
	codec         Codec
	cacheBlocks   int
	verify        bool
	termsPerBlock int
	docsPerBlock  int
}

// Option configures the backend.
type Option func(*Backend)

// WithCodec selects the block compression used when writing.
func WithCodec(c Codec) Option {
	return func(b *Backend) { b.codec = c }
}

// WithCacheBlocks bounds how many decoded blocks of each kind an open archive keeps.
func WithCacheBlocks(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.cacheBlocks = n
		}
	}
}

// WithVerifyChecksum controls whether Open checks the whole-file CRC.
func WithVerifyChecksum(v bool) Option {
	return func(b *Backend) { b.verify = v }
}

// WithBlockSizes sets how many tokens and documents go into one block.
func WithBlockSizes(terms, docs int) Option {
	return func(b *Backend) {
		if terms > 0 && terms <= 0xffff {
			b.termsPerBlock = terms
		}
		if docs > 0 && docs <= 0xffff {
			b.docsPerBlock = docs
		}
	}
}

// New returns the compressed backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		codec:         CodecZstd,
		cacheBlocks:   defaultLRU,
		verify:        true,
		termsPerBlock: defaultTPB,
		docsPerBlock:  defaultDPB,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements index.Backend.
func (*Backend) Name() string { return Name }

// Filename implements index.Backend.
func (*Backend) Filename() string { return filename }

// countingWriter tracks the offset of everything written through it.
type countingWriter struct {
	w   io.Writer
	off uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.off += uint64(n)
	return n, err
}

type blockRef struct {
	off, n uint64
}

// Write implements index.Backend.
func (b *Backend) Write(ctx context.Context, path string, a *index.Arena) error {
	if !b.codec.valid() {
		return fmt.Errorf("invalid codec %d", b.codec)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	sum := crc32.NewIEEE()
	bw := bufio.NewWriterSize(io.MultiWriter(f, sum), 1<<20)
	w := &countingWriter{w: bw}

	tokens := a.Tokens()
	var head [headerSize]byte
	copy(head[:], headMagic)
	head[4] = version
	head[5] = byte(b.codec)
	binary.LittleEndian.PutUint32(head[8:], uint32(a.Len()))
	binary.LittleEndian.PutUint32(head[12:], uint32(len(tokens)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	writeBlock := func(raw []byte) (blockRef, error) {
		framed, err := compressBlock(raw, b.codec)
		if err != nil {
			return blockRef{}, err
		}
		ref := blockRef{off: w.off, n: uint64(len(framed))}
		_, err = w.Write(framed)
		return ref, err
	}

	var (
		termRefs  []blockRef
		firstKeys []string
		raw       []byte
		bmBuf     bytes.Buffer
	)
	for start := 0; start < len(tokens); start += b.termsPerBlock {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+b.termsPerBlock, len(tokens))
		raw = raw[:0]
		for _, tok := range tokens[start:end] {
			bmBuf.Reset()
			if _, err := a.Postings[tok].WriteTo(&bmBuf); err != nil {
				return fmt.Errorf("failed to serialize posting %q: %w", tok, err)
			}
			raw = index.AppendString(raw, tok)
			raw = index.AppendBytes(raw, bmBuf.Bytes())
		}
		ref, err := writeBlock(raw)
		if err != nil {
			return fmt.Errorf("failed to write term block: %w", err)
		}
		termRefs = append(termRefs, ref)
		firstKeys = append(firstKeys, tokens[start])
	}

	var docRefs []blockRef
	for start := 0; start < a.Len(); start += b.docsPerBlock {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+b.docsPerBlock, a.Len())
		raw = raw[:0]
		for _, d := range a.Docs[start:end] {
			raw = index.AppendDocument(raw, d)
		}
		ref, err := writeBlock(raw)
		if err != nil {
			return fmt.Errorf("failed to write document block: %w", err)
		}
		docRefs = append(docRefs, ref)
	}

	keyOffs := make([]uint64, len(firstKeys))
	for i, k := range firstKeys {
		keyOffs[i] = w.off
		if _, err := io.WriteString(w, k); err != nil {
			return fmt.Errorf("failed to write key area: %w", err)
		}
	}

	termIndexOff := w.off
	var entry [termEntry]byte
	for i, ref := range termRefs {
		binary.LittleEndian.PutUint64(entry[0:], ref.off)
		binary.LittleEndian.PutUint32(entry[8:], uint32(ref.n))
		binary.LittleEndian.PutUint64(entry[12:], keyOffs[i])
		binary.LittleEndian.PutUint32(entry[20:], uint32(len(firstKeys[i])))
		if _, err := w.Write(entry[:]); err != nil {
			return fmt.Errorf("failed to write term index: %w", err)
		}
	}

	docIndexOff := w.off
	var dentry [docEntry]byte
	for _, ref := range docRefs {
		binary.LittleEndian.PutUint64(dentry[0:], ref.off)
		binary.LittleEndian.PutUint32(dentry[8:], uint32(ref.n))
		if _, err := w.Write(dentry[:]); err != nil {
			return fmt.Errorf("failed to write document index: %w", err)
		}
	}

	var foot [crcOffsetFt]byte
	binary.LittleEndian.PutUint64(foot[0:], termIndexOff)
	binary.LittleEndian.PutUint32(foot[8:], uint32(len(termRefs)))
	binary.LittleEndian.PutUint64(foot[12:], docIndexOff)
	binary.LittleEndian.PutUint32(foot[20:], uint32(len(docRefs)))
	binary.LittleEndian.PutUint16(foot[24:], uint16(b.termsPerBlock))
	binary.LittleEndian.PutUint16(foot[26:], uint16(b.docsPerBlock))
	if _, err := w.Write(foot[:]); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}

	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:], sum.Sum32())
	copy(tail[4:], footMagic)
	if _, err := f.Write(tail[:]); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return f.Close()
}
