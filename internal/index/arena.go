package index

import (
	"context"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cdpedia/cdpindex/internal/models"
)

// Arena owns every document of a build, addressed by dense id, and the posting
// set of every token. Ids are the only cross references.
type Arena struct {
	Docs     []models.Document
	Postings map[string]*roaring.Bitmap
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{Postings: make(map[string]*roaring.Bitmap)}
}

// Add stores the entry's document under the next id and posts it under each of its tokens.
// Entries with an unknown record type are rejected, as no backend could read them back.
func (a *Arena) Add(e models.Entry) (uint32, error) {
	if len(a.Docs) >= math.MaxUint32 {
		return 0, fmt.Errorf("too many documents: %d", len(a.Docs))
	}
	if !e.Payload.RecordType.Valid() {
		return 0, fmt.Errorf("entry %d (%q): invalid record type %d", len(a.Docs), e.Payload.Title, uint8(e.Payload.RecordType))
	}
	id := uint32(len(a.Docs))
	a.Docs = append(a.Docs, e.Document())
	for _, tok := range e.Tokens {
		if tok == "" {
			continue
		}
		bm, ok := a.Postings[tok]
		if !ok {
			bm = roaring.New()
			a.Postings[tok] = bm
		}
		bm.Add(id)
	}
	return id, nil
}

// Len returns the number of documents.
func (a *Arena) Len() int { return len(a.Docs) }

// Get returns the document with the given id.
func (a *Arena) Get(id uint32) models.Document { return a.Docs[id] }

// Random returns a uniformly drawn document.
func (a *Arena) Random() models.Document {
	return a.Docs[rand.IntN(len(a.Docs))]
}

// All yields the documents in id order.
func (a *Arena) All() iter.Seq2[uint32, models.Document] {
	return func(yield func(uint32, models.Document) bool) {
		for i, d := range a.Docs {
			if !yield(uint32(i), d) {
				return
			}
		}
	}
}

// Tokens returns the vocabulary sorted bytewise.
func (a *Arena) Tokens() []string {
	tokens := make([]string, 0, len(a.Postings))
	for tok := range a.Postings {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)
	return tokens
}

// Optimize compacts every posting set before it is serialized.
func (a *Arena) Optimize() {
	for _, bm := range a.Postings {
		bm.RunOptimize()
	}
}

// BuildArena consumes entries into a new arena. It fails with ErrEmptyIndex when
// entries yields nothing and stops at the first entry error.
func BuildArena(ctx context.Context, entries iter.Seq2[models.Entry, error]) (*Arena, error) {
	a := NewArena()
	for e, err := range entries {
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", a.Len(), err)
		}
		if a.Len()%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, err := a.Add(e); err != nil {
			return nil, err
		}
	}
	if a.Len() == 0 {
		return nil, &Error{Kind: ErrEmptyIndex, Op: "create"}
	}
	a.Optimize()
	return a, nil
}

// Entries adapts a slice to the sequence form Create consumes.
func Entries(entries []models.Entry) iter.Seq2[models.Entry, error] {
	return func(yield func(models.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}
