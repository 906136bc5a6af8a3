package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdpedia/cdpindex/internal/backend/archive"
	"github.com/cdpedia/cdpindex/internal/backend/fulltext"
	"github.com/cdpedia/cdpindex/internal/backend/memory"
	"github.com/cdpedia/cdpindex/internal/backend/relational"
	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
)

type backendCase struct {
	name string
	new  func(t *testing.T) index.Backend
}

func backendCases() []backendCase {
	sqlite := func(driver string) func(t *testing.T) index.Backend {
		return func(t *testing.T) index.Backend {
			b, err := relational.New(driver)
			require.NoError(t, err)
			return b
		}
	}
	return []backendCase{
		{"memory", func(*testing.T) index.Backend { return memory.New() }},
		{"compressed/zstd", func(*testing.T) index.Backend { return archive.New(archive.WithCodec(archive.CodecZstd)) }},
		{"compressed/lz4", func(*testing.T) index.Backend { return archive.New(archive.WithCodec(archive.CodecLZ4)) }},
		{"compressed/none", func(*testing.T) index.Backend { return archive.New(archive.WithCodec(archive.CodecNone)) }},
		{"sqlite/mattn", sqlite(relational.DriverCgo)},
		{"sqlite/modernc", sqlite(relational.DriverPure)},
		{"bleve", func(*testing.T) index.Backend { return fulltext.New() }},
	}
}

func entriesFor(titles ...string) []models.Entry {
	out := make([]models.Entry, len(titles))
	for i, title := range titles {
		out[i] = models.Entry{
			Tokens: normalize.Tokenize(title),
			Score:  int64(i + 1),
			Payload: models.Payload{
				RecordType: models.RecordOriginal,
				Title:      title,
				Link:       "wiki/" + title,
			},
		}
	}
	return out
}

func build(t *testing.T, b index.Backend, titles ...string) index.Index {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, index.Create(ctx, b, dir, index.Entries(entriesFor(titles...))))
	idx, err := index.Open(ctx, b, dir)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func titlesOf(t *testing.T, docs []models.Document) []string {
	t.Helper()
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Title
	}
	slices.Sort(out)
	return out
}

func search(t *testing.T, idx index.Index, terms ...string) []string {
	t.Helper()
	docs, err := index.Collect(idx.Search(context.Background(), terms))
	require.NoError(t, err)
	return titlesOf(t, docs)
}

func partial(t *testing.T, idx index.Index, terms ...string) []string {
	t.Helper()
	docs, err := index.Collect(idx.PartialSearch(context.Background(), terms))
	require.NoError(t, err)
	return titlesOf(t, docs)
}

var rabbits = []string{"ala blanca", "conejo blanco", "conejo negro"}

// runScenarios evaluates every fixture query and returns the results keyed by scenario.
func runScenarios(t *testing.T, b index.Backend) map[string][]string {
	ctx := context.Background()
	out := make(map[string][]string)

	idx := build(t, b, rabbits...)
	docs, err := index.Collect(idx.Values(ctx))
	require.NoError(t, err)
	out["values"] = titlesOf(t, docs)
	out["search ala"] = search(t, idx, "ala")
	out["search conejo"] = search(t, idx, "conejo")
	out["search conejo negro"] = search(t, idx, "conejo", "negro")
	out["partial blanc"] = partial(t, idx, "blanc")
	out["search Alá"] = search(t, idx, "Alá")
	out["search ála"] = search(t, idx, "ála")
	out["search ALA"] = search(t, idx, "ALA")

	letters := build(t, b, "aaa", "abc", "bcd", "abd", "bbd")
	out["partial a b"] = partial(t, letters, "a", "b")
	out["partial b c"] = partial(t, letters, "b", "c")
	out["partial c"] = partial(t, letters, "c")
	out["partial d"] = partial(t, letters, "d")
	out["partial o"] = partial(t, letters, "o")

	boats := build(t, b, "botero")
	ok, err := boats.Contains(ctx, "bote")
	require.NoError(t, err)
	out["contains bote"] = []string{fmt.Sprint(ok)}
	out["partial bote"] = partial(t, boats, "bote")
	return out
}

func TestConformance(t *testing.T) {
	ctx := context.Background()
	results := make(map[string]map[string][]string)

	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.new(t)

			t.Run("values are the input documents", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				docs, err := index.Collect(idx.Values(ctx))
				require.NoError(t, err)
				assert.Equal(t, rabbits, titlesOf(t, docs))
				assert.Equal(t, 3, idx.Len())
				for i, d := range docs {
					assert.Equal(t, models.RecordOriginal, d.RecordType, "doc %d", i)
					assert.Equal(t, "wiki/"+d.Title, d.Link)
				}
			})

			t.Run("exact search", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				assert.Equal(t, []string{"ala blanca"}, search(t, idx, "ala"))
				assert.Equal(t, []string{"conejo blanco", "conejo negro"}, search(t, idx, "conejo"))
				assert.Equal(t, []string{"conejo negro"}, search(t, idx, "conejo", "negro"))
				assert.Empty(t, search(t, idx, "blanc"))
				assert.Empty(t, search(t, idx, "conejo", "gato"))
			})

			t.Run("partial search", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				assert.Equal(t, []string{"ala blanca", "conejo blanco"}, partial(t, idx, "blanc"))

				letters := build(t, b, "aaa", "abc", "bcd", "abd", "bbd")
				assert.Equal(t, []string{"abc", "abd"}, partial(t, letters, "a", "b"))
				assert.Equal(t, []string{"abc", "bcd"}, partial(t, letters, "b", "c"))
				assert.Empty(t, partial(t, letters, "a", "o"))
				assert.Empty(t, partial(t, idx, "zz"))
			})

			t.Run("partial terms match inside tokens", func(t *testing.T) {
				letters := build(t, b, "aaa", "abc", "bcd", "abd", "bbd")
				assert.Equal(t, []string{"aaa", "abc", "abd"}, partial(t, letters, "a"))
				assert.Equal(t, []string{"abc", "abd", "bbd", "bcd"}, partial(t, letters, "b"))
				assert.Equal(t, []string{"abc", "bcd"}, partial(t, letters, "c"))
				assert.Equal(t, []string{"abd", "bbd", "bcd"}, partial(t, letters, "d"))
				assert.Empty(t, partial(t, letters, "o"))
			})

			t.Run("invalid record type is rejected", func(t *testing.T) {
				dir := t.TempDir()
				entries := entriesFor("ala blanca", "conejo negro")
				entries[1].Payload.RecordType = 0
				err := index.Create(ctx, b, dir, index.Entries(entries))
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid record type")
				_, err = index.Open(ctx, b, dir)
				require.ErrorIs(t, err, index.ErrMissingIndex)
			})

			t.Run("normalization equivalence", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				accented := search(t, idx, "Alá")
				assert.Equal(t, accented, search(t, idx, "ála"))
				assert.Equal(t, []string{"ala blanca"}, accented)
				assert.Equal(t, []string{"conejo negro"}, partial(t, idx, "NEG"))
			})

			t.Run("empty build", func(t *testing.T) {
				dir := t.TempDir()
				err := index.Create(ctx, b, dir, index.Entries(nil))
				require.ErrorIs(t, err, index.ErrEmptyIndex)
				_, statErr := os.Stat(index.Path(b, dir))
				assert.True(t, os.IsNotExist(statErr))
			})

			t.Run("random", func(t *testing.T) {
				single := build(t, b, "única")
				for range 20 {
					d, err := single.Random(ctx)
					require.NoError(t, err)
					assert.Equal(t, "única", d.Title)
				}

				idx := build(t, b, rabbits...)
				for range 50 {
					d, err := idx.Random(ctx)
					require.NoError(t, err)
					assert.Contains(t, rabbits, d.Title)
				}
			})

			t.Run("membership is exact", func(t *testing.T) {
				idx := build(t, b, "botero")
				ok, err := idx.Contains(ctx, "bote")
				require.NoError(t, err)
				assert.False(t, ok)
				ok, err = idx.Contains(ctx, "Botero")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []string{"botero"}, partial(t, idx, "bote"))
			})

			t.Run("keys", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				keys, err := index.Collect(idx.Keys(ctx))
				require.NoError(t, err)
				slices.Sort(keys)
				assert.Equal(t, []string{"ala", "blanca", "blanco", "conejo", "negro"}, keys)
			})

			t.Run("empty queries", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				assert.Empty(t, search(t, idx))
				assert.Empty(t, partial(t, idx))
				assert.Empty(t, search(t, idx, "¡¿?!"))
				ok, err := idx.Contains(ctx, "")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("untokenized documents are stored", func(t *testing.T) {
				dir := t.TempDir()
				entries := entriesFor("ala blanca", "---")
				require.NoError(t, index.Create(ctx, b, dir, index.Entries(entries)))
				idx, err := index.Open(ctx, b, dir)
				require.NoError(t, err)
				defer idx.Close()
				docs, err := index.Collect(idx.Values(ctx))
				require.NoError(t, err)
				assert.Equal(t, []string{"---", "ala blanca"}, titlesOf(t, docs))
			})

			t.Run("many results", func(t *testing.T) {
				titles := make([]string, 0, 12)
				for i := range 11 {
					titles = append(titles, fmt.Sprintf("blanca %d", i))
				}
				titles = append(titles, "negra")
				idx := build(t, b, titles...)
				got := search(t, idx, "blanca")
				assert.Len(t, got, 11)
				assert.NotContains(t, got, "negra")
			})

			t.Run("redirects and scores survive", func(t *testing.T) {
				dir := t.TempDir()
				entries := []models.Entry{
					{Tokens: []string{"ala"}, Score: -7, Payload: models.Payload{RecordType: models.RecordRedirect, Title: "Ala", Link: "Ala_(anatomía)"}},
					{Tokens: []string{"ala"}, Score: 1 << 40, Payload: models.Payload{RecordType: models.RecordOriginal, Title: "Ala", Link: "Ala"}},
				}
				require.NoError(t, index.Create(ctx, b, dir, index.Entries(entries)))
				idx, err := index.Open(ctx, b, dir)
				require.NoError(t, err)
				defer idx.Close()
				docs, err := index.Collect(idx.Search(ctx, []string{"ala"}))
				require.NoError(t, err)
				assert.ElementsMatch(t, []models.Document{entries[0].Document(), entries[1].Document()}, docs)
			})

			t.Run("missing index", func(t *testing.T) {
				_, err := index.Open(ctx, b, t.TempDir())
				require.ErrorIs(t, err, index.ErrMissingIndex)
			})

			t.Run("corrupt index", func(t *testing.T) {
				dir := t.TempDir()
				target := index.Path(b, dir)
				if b.Name() == fulltext.Name {
					require.NoError(t, os.MkdirAll(target, 0755))
					require.NoError(t, os.WriteFile(filepath.Join(target, "index_meta.json"), []byte("{not json"), 0644))
				} else {
					require.NoError(t, os.WriteFile(target, []byte("definitely not an index"), 0644))
				}
				_, err := index.Open(ctx, b, dir)
				require.ErrorIs(t, err, index.ErrCorruptIndex)
				assert.NotErrorIs(t, err, index.ErrMissingIndex)
				assert.NotErrorIs(t, err, index.ErrStorageFailure)
			})

			t.Run("rebuild replaces", func(t *testing.T) {
				dir := t.TempDir()
				require.NoError(t, index.Create(ctx, b, dir, index.Entries(entriesFor(rabbits...))))
				require.NoError(t, index.Create(ctx, b, dir, index.Entries(entriesFor("gato pardo"))))
				idx, err := index.Open(ctx, b, dir)
				require.NoError(t, err)
				defer idx.Close()
				assert.Equal(t, 1, idx.Len())
				assert.Empty(t, search(t, idx, "conejo"))
				assert.Equal(t, []string{"gato pardo"}, search(t, idx, "gato"))
			})

			t.Run("concurrent readers", func(t *testing.T) {
				idx := build(t, b, rabbits...)
				errs := make(chan error, 8)
				for range 8 {
					go func() {
						for range 20 {
							docs, err := index.Collect(idx.PartialSearch(ctx, []string{"con"}))
							if err == nil && len(docs) != 2 {
								err = fmt.Errorf("got %d documents", len(docs))
							}
							if err != nil {
								errs <- err
								return
							}
						}
						errs <- nil
					}()
				}
				for range 8 {
					assert.NoError(t, <-errs)
				}
			})

			results[tc.name] = runScenarios(t, b)
		})
	}

	t.Run("backends agree", func(t *testing.T) {
		ref, ok := results["memory"]
		require.True(t, ok)
		assert.Equal(t, []string{"false"}, ref["contains bote"])
		for name, got := range results {
			assert.Equal(t, ref, got, "backend %s", name)
		}
	})
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		cfg      config.IndexConfig
		wantName string
		wantErr  bool
	}{
		{cfg: config.IndexConfig{Backend: "memory"}, wantName: memory.Name},
		{cfg: config.IndexConfig{Backend: "compressed", Compression: "lz4"}, wantName: archive.Name},
		{cfg: config.IndexConfig{Backend: "compressed", Compression: "brotli"}, wantErr: true},
		{cfg: config.IndexConfig{Backend: "sqlite", SQLiteDriver: "sqlite"}, wantName: relational.Name},
		{cfg: config.IndexConfig{Backend: "sqlite", SQLiteDriver: "postgres"}, wantErr: true},
		{cfg: config.IndexConfig{Backend: "bleve"}, wantName: fulltext.Name},
		{cfg: config.IndexConfig{Backend: "faiss"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Backend+"/"+tt.cfg.Compression+tt.cfg.SQLiteDriver, func(t *testing.T) {
			b, err := NewBackend(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, b.Name())
		})
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(config.IndexConfig{Backend: "memory", Directory: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "index.mem"), s.Path())

	_, err = s.Open(ctx)
	require.ErrorIs(t, err, index.ErrMissingIndex)

	require.NoError(t, s.Create(ctx, index.Entries(entriesFor(rabbits...))))
	idx, err := s.Open(ctx)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 3, idx.Len())

	n, err := s.DiskUsage()
	require.NoError(t, err)
	assert.Positive(t, n)
}
