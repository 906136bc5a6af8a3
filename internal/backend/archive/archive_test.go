package archive

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
)

func numbered(n int) []models.Entry {
	entries := make([]models.Entry, n)
	for i := range entries {
		title := fmt.Sprintf("Palabra%03d común", i)
		entries[i] = models.Entry{
			Tokens:  normalize.Tokenize(title),
			Score:   int64(i),
			Payload: models.Payload{RecordType: models.RecordOriginal, Title: title, Link: fmt.Sprintf("p/%d", i)},
		}
	}
	return entries
}

func buildArchive(t *testing.T, b *Backend, entries []models.Entry) (*Index, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, index.Create(context.Background(), b, dir, index.Entries(entries)))
	idx, err := index.Open(context.Background(), b, dir)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx.(*Index), index.Path(b, dir)
}

func TestCodecRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("conejo blanco "), 500)
	noise := make([]byte, 4096)
	for i := range noise {
		noise[i] = byte(rand.IntN(256))
	}
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		for name, data := range map[string][]byte{"compressible": compressible, "noise": noise, "empty": {}} {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				framed, err := compressBlock(data, codec)
				require.NoError(t, err)
				if codec != CodecNone && name == "compressible" {
					assert.Less(t, len(framed), len(data))
				}
				got, err := decompressBlock(framed, codec)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(got))
				assert.True(t, bytes.Equal(data, got))
			})
		}
	}
}

func TestDecompressBlock_Malformed(t *testing.T) {
	framed, err := compressBlock(bytes.Repeat([]byte("ab"), 1000), CodecZstd)
	require.NoError(t, err)

	_, err = decompressBlock(framed[:4], CodecZstd)
	assert.Error(t, err)
	_, err = decompressBlock(framed[:len(framed)-1], CodecZstd)
	assert.Error(t, err)
	_, err = decompressBlock(framed, CodecNone)
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": CodecZstd, "zstd": CodecZstd, "LZ4": CodecLZ4, "none": CodecNone} {
		got, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseCodec("snappy")
	assert.Error(t, err)
}

func TestBlockBoundaries(t *testing.T) {
	ctx := context.Background()
	entries := numbered(300)
	for _, sizes := range [][2]int{{4, 3}, {128, 128}, {1, 1}} {
		t.Run(fmt.Sprintf("%dx%d", sizes[0], sizes[1]), func(t *testing.T) {
			x, _ := buildArchive(t, New(WithBlockSizes(sizes[0], sizes[1]), WithCacheBlocks(2)), entries)
			require.Equal(t, 300, x.Len())

			keys, err := index.Collect(x.Keys(ctx))
			require.NoError(t, err)
			assert.Len(t, keys, 301)
			assert.True(t, slices.IsSorted(keys))

			docs, err := index.Collect(x.Values(ctx))
			require.NoError(t, err)
			for i, d := range docs {
				assert.Equal(t, entries[i].Document(), d)
			}

			for _, i := range []int{0, 3, 4, 127, 128, 129, 255, 299} {
				tok := fmt.Sprintf("palabra%03d", i)
				ok, err := x.Contains(ctx, tok)
				require.NoError(t, err)
				assert.True(t, ok, tok)
				got, err := index.Collect(x.Search(ctx, []string{tok, "comun"}))
				require.NoError(t, err)
				require.Len(t, got, 1, tok)
				assert.Equal(t, entries[i].Document(), got[0])
			}

			hundreds, err := index.Collect(x.PartialSearch(ctx, []string{"palabra1"}))
			require.NoError(t, err)
			assert.Len(t, hundreds, 100)
			tens, err := index.Collect(x.PartialSearch(ctx, []string{"palabra05", "com"}))
			require.NoError(t, err)
			assert.Len(t, tens, 10)
			all, err := index.Collect(x.PartialSearch(ctx, []string{"p"}))
			require.NoError(t, err)
			assert.Len(t, all, 300)
			// fragments inside a token match across every term block
			nines, err := index.Collect(x.PartialSearch(ctx, []string{"99"}))
			require.NoError(t, err)
			assert.Len(t, nines, 3)
			units, err := index.Collect(x.PartialSearch(ctx, []string{"bra00", "mun"}))
			require.NoError(t, err)
			assert.Len(t, units, 10)

			for _, miss := range []string{"a", "palabra", "palabra300", "zzz"} {
				ok, err := x.Contains(ctx, miss)
				require.NoError(t, err)
				assert.False(t, ok, miss)
			}
			none, err := index.Collect(x.PartialSearch(ctx, []string{"zz"}))
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			x, _ := buildArchive(t, New(WithCodec(codec)), numbered(50))
			assert.Equal(t, codec, x.Codec())
			got, err := index.Collect(x.Search(context.Background(), []string{"palabra042"}))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "Palabra042 común", got[0].Title)
		})
	}
}

func TestOpen_Corrupt(t *testing.T) {
	ctx := context.Background()
	_, path := buildArchive(t, New(), numbered(40))
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
		{"too short", func(b []byte) []byte { return b[:20] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = 9; return b }},
		{"bad footer magic", func(b []byte) []byte { b[len(b)-1] = 'X'; return b }},
		{"flipped byte", func(b []byte) []byte { b[len(b)/2] ^= 0xff; return b }},
		{"bad codec", func(b []byte) []byte { b[5] = 7; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			bad := tt.mutate(slices.Clone(good))
			require.NoError(t, os.WriteFile(filepath.Join(dir, filename), bad, 0644))
			_, err := index.Open(ctx, New(), dir)
			require.ErrorIs(t, err, index.ErrCorruptIndex)
		})
	}
}

func TestOpen_SkipChecksum(t *testing.T) {
	ctx := context.Background()
	b := New(WithVerifyChecksum(false))
	_, path := buildArchive(t, b, numbered(10))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-5] ^= 0xff // crc byte
	require.NoError(t, os.WriteFile(path, data, 0644))

	idx, err := b.Open(ctx, path)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 10, idx.Len())

	_, err = New().Open(ctx, path)
	require.ErrorIs(t, err, index.ErrCorruptIndex)
}

func TestOpen_Missing(t *testing.T) {
	_, err := New().Open(context.Background(), filepath.Join(t.TempDir(), filename))
	require.ErrorIs(t, err, index.ErrMissingIndex)
}

func TestWrite_InvalidCodec(t *testing.T) {
	dir := t.TempDir()
	err := index.Create(context.Background(), New(WithCodec(Codec(9))), dir, index.Entries(numbered(3)))
	require.ErrorIs(t, err, index.ErrStorageFailure)
	_, statErr := os.Stat(filepath.Join(dir, filename))
	assert.True(t, os.IsNotExist(statErr))
}
