package index

import (
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
)

// QueryTerms normalizes caller terms into the distinct tokens to match.
// A term that splits into several words contributes each of them.
func QueryTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		for _, tok := range normalize.Tokenize(term) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

// SingleToken normalizes a membership query. ok is false when it is not exactly one token.
func SingleToken(token string) (string, bool) {
	toks := normalize.Tokenize(token)
	if len(toks) != 1 {
		return "", false
	}
	return toks[0], true
}

// PostingSource gives the query engine access to a backend's posting sets.
// Returned bitmaps may be shared and must not be modified.
type PostingSource interface {
	// Posting returns the posting set of token, or nil when token is not in the vocabulary.
	Posting(ctx context.Context, token string) (*roaring.Bitmap, error)
	// SubstringUnion returns the union of the posting sets of every token
	// that contains fragment.
	SubstringUnion(ctx context.Context, fragment string) (*roaring.Bitmap, error)
}

// Match evaluates a query over src: the set of each term (exact posting, or the
// substring union when partial is true), intersected across terms.
func Match(ctx context.Context, src PostingSource, terms []string, partial bool) (*roaring.Bitmap, error) {
	if len(terms) == 0 {
		return roaring.New(), nil
	}
	sets := make([]*roaring.Bitmap, 0, len(terms))
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			bm  *roaring.Bitmap
			err error
		)
		if partial {
			bm, err = src.SubstringUnion(ctx, term)
		} else {
			bm, err = src.Posting(ctx, term)
		}
		if err != nil {
			return nil, err
		}
		if bm == nil || bm.IsEmpty() {
			return roaring.New(), nil
		}
		sets = append(sets, bm)
	}
	return Intersect(sets), nil
}

// Intersect returns a new bitmap holding the ids present in every set.
// Sets are combined smallest first so the running result shrinks quickly.
func Intersect(sets []*roaring.Bitmap) *roaring.Bitmap {
	if len(sets) == 0 {
		return roaring.New()
	}
	ordered := slices.Clone(sets)
	slices.SortFunc(ordered, func(a, b *roaring.Bitmap) int {
		ca, cb := a.GetCardinality(), b.GetCardinality()
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})
	result := ordered[0].Clone()
	for _, bm := range ordered[1:] {
		result.And(bm)
		if result.IsEmpty() {
			break
		}
	}
	return result
}

// MatchingTokens returns the tokens of vocab that contain fragment, in vocab order.
func MatchingTokens(vocab []string, fragment string) []string {
	var out []string
	for _, tok := range vocab {
		if strings.Contains(tok, fragment) {
			out = append(out, tok)
		}
	}
	return out
}

// Documents yields the document of every id in bm, in id order.
func Documents(ctx context.Context, bm *roaring.Bitmap, get func(uint32) (models.Document, error)) iter.Seq2[models.Document, error] {
	return func(yield func(models.Document, error) bool) {
		it := bm.Iterator()
		for it.HasNext() {
			if err := ctx.Err(); err != nil {
				yield(models.Document{}, err)
				return
			}
			doc, err := get(it.Next())
			if err != nil {
				yield(models.Document{}, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Failed returns a sequence that yields only err.
func Failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Empty returns a sequence with no items.
func Empty[T any]() iter.Seq2[T, error] {
	return func(func(T, error) bool) {}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
