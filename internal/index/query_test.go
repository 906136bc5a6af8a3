package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]*roaring.Bitmap

func (m mapSource) Posting(_ context.Context, token string) (*roaring.Bitmap, error) {
	return m[token], nil
}

func (m mapSource) SubstringUnion(_ context.Context, fragment string) (*roaring.Bitmap, error) {
	out := roaring.New()
	for tok, bm := range m {
		if strings.Contains(tok, fragment) {
			out.Or(bm)
		}
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) Posting(context.Context, string) (*roaring.Bitmap, error) {
	return nil, errors.New("disk on fire")
}

func (failingSource) SubstringUnion(context.Context, string) (*roaring.Bitmap, error) {
	return nil, errors.New("disk on fire")
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"ala"}, QueryTerms([]string{"Alá"}))
	assert.Equal(t, []string{"ala"}, QueryTerms([]string{"ála", "ALA"}))
	assert.Equal(t, []string{"conejo", "negro"}, QueryTerms([]string{"conejo-negro"}))
	assert.Empty(t, QueryTerms([]string{"", "--"}))
	assert.Empty(t, QueryTerms(nil))
}

func TestSingleToken(t *testing.T) {
	tok, ok := SingleToken("Alá")
	assert.True(t, ok)
	assert.Equal(t, "ala", tok)

	_, ok = SingleToken("conejo negro")
	assert.False(t, ok)
	_, ok = SingleToken("!")
	assert.False(t, ok)
}

func TestMatchingTokens(t *testing.T) {
	vocab := []string{"aaa", "abc", "abd", "bbd", "bcd", "botero"}
	assert.Equal(t, []string{"abc", "abd"}, MatchingTokens(vocab, "ab"))
	assert.Equal(t, []string{"abc", "bcd"}, MatchingTokens(vocab, "c"))
	assert.Equal(t, []string{"botero"}, MatchingTokens(vocab, "ter"))
	assert.Empty(t, MatchingTokens(vocab, "z"))
	assert.Equal(t, vocab, MatchingTokens(vocab, ""))
}

func TestIntersect(t *testing.T) {
	a := roaring.BitmapOf(1, 2, 3, 4)
	b := roaring.BitmapOf(2, 4, 6)
	c := roaring.BitmapOf(4, 2)

	got := Intersect([]*roaring.Bitmap{a, b, c})
	assert.Equal(t, []uint32{2, 4}, got.ToArray())
	// inputs are left untouched
	assert.Equal(t, uint64(4), a.GetCardinality())
	assert.Equal(t, uint64(3), b.GetCardinality())

	assert.True(t, Intersect(nil).IsEmpty())
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	// aaa=0 abc=1 bcd=2 abd=3 bbd=4, one token per document
	src := mapSource{
		"aaa": roaring.BitmapOf(0),
		"abc": roaring.BitmapOf(1),
		"bcd": roaring.BitmapOf(2),
		"abd": roaring.BitmapOf(3),
		"bbd": roaring.BitmapOf(4),
	}

	got, err := Match(ctx, src, []string{"abc"}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, got.ToArray())

	got, err = Match(ctx, src, []string{"ab"}, false)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	got, err = Match(ctx, src, []string{"ab"}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, got.ToArray())

	got, err = Match(ctx, src, []string{"a", "b"}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, got.ToArray())

	got, err = Match(ctx, src, []string{"b", "c"}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, got.ToArray())

	got, err = Match(ctx, src, []string{"d"}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 4}, got.ToArray())

	got, err = Match(ctx, src, []string{"a", "zz"}, true)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	got, err = Match(ctx, src, nil, true)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	_, err = Match(ctx, failingSource{}, []string{"x"}, false)
	assert.Error(t, err)
}

func TestMatch_MultiTokenDocuments(t *testing.T) {
	// 0 "ala blanca", 1 "conejo blanco", 2 "conejo negro"
	src := mapSource{
		"ala":    roaring.BitmapOf(0),
		"blanca": roaring.BitmapOf(0),
		"blanco": roaring.BitmapOf(1),
		"conejo": roaring.BitmapOf(1, 2),
		"negro":  roaring.BitmapOf(2),
	}
	ctx := context.Background()

	got, err := Match(ctx, src, []string{"conejo", "negro"}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, got.ToArray())

	got, err = Match(ctx, src, []string{"blanc"}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, got.ToArray())

	// the shared posting must not be changed by intersection
	assert.Equal(t, []uint32{1, 2}, src["conejo"].ToArray())
}
