package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
	"github.com/cdpedia/cdpindex/internal/storage"
)

var benchWords = []string{"guerra", "río", "batalla", "plata", "canción", "iglesia", "san", "club", "historia", "provincia"}

func benchEntries(n int) []models.Entry {
	out := make([]models.Entry, n)
	for i := range out {
		title := fmt.Sprintf("%s %s %d", benchWords[i%len(benchWords)], benchWords[(i/7)%len(benchWords)], i%1000)
		out[i] = models.Entry{
			Tokens:  normalize.Tokenize(title),
			Score:   int64(i),
			Payload: models.Payload{RecordType: models.RecordOriginal, Title: title, Link: fmt.Sprintf("wiki/%d", i)},
		}
	}
	return out
}

func openBench(b *testing.B, cfg config.IndexConfig, n int) index.Index {
	b.Helper()
	ctx := context.Background()
	cfg.Directory = b.TempDir()
	store, err := storage.New(cfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	if err := store.Create(ctx, index.Entries(benchEntries(n))); err != nil {
		b.Fatal(err)
	}
	idx, err := store.Open(ctx)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Close() })
	return idx
}

var benchBackends = []config.IndexConfig{
	{Backend: "memory"},
	{Backend: "compressed", Compression: "zstd", BlockCacheSize: 64},
	{Backend: "compressed", Compression: "lz4", BlockCacheSize: 64},
	{Backend: "sqlite", SQLiteDriver: "sqlite3"},
	{Backend: "bleve"},
}

func BenchmarkSearch(b *testing.B) {
	ctx := context.Background()
	for _, cfg := range benchBackends {
		b.Run(cfg.Backend+cfg.Compression, func(b *testing.B) {
			idx := openBench(b, cfg, 20000)
			terms := []string{"guerra", "plata"}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := index.Collect(idx.Search(ctx, terms)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkPartialSearch(b *testing.B) {
	ctx := context.Background()
	for _, cfg := range benchBackends {
		b.Run(cfg.Backend+cfg.Compression, func(b *testing.B) {
			idx := openBench(b, cfg, 20000)
			terms := []string{"hist", "1"}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := index.Collect(idx.PartialSearch(ctx, terms)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRandom(b *testing.B) {
	ctx := context.Background()
	for _, cfg := range benchBackends {
		b.Run(cfg.Backend+cfg.Compression, func(b *testing.B) {
			idx := openBench(b, cfg, 20000)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Random(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkTokenize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = normalize.Tokenize("Batalla de San Lorenzo (1813) – Provincia de Santa Fe")
	}
}
