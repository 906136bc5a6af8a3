// Package normalize folds titles and query terms into comparable tokens.
//
// The fold is pinned: canonical decomposition, removal of nonspacing marks,
// locale-independent case folding, then recomposition. The same input
// always produces the same tokens, at build time and at query time.
package normalize

import (
	"sync"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transform chains hold state between calls, so each goroutine gets its own.
var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			cases.Fold(),
			norm.NFC,
		)
	},
}

// Normalize strips diacritics and case-folds text.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := foldPool.Get().(transform.Transformer)
	defer foldPool.Put(t)
	out, _, err := transform.String(t, text)
	if err != nil {
		// Only reachable on invalid UTF-8 that the chain refuses; fall back to the input.
		return text
	}
	return out
}

// Tokenize normalizes text and splits it on Unicode word boundaries.
// Segments with no letter or digit are dropped. Order and repeats are kept.
func Tokenize(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	var tokens []string
	segs := words.FromString(normalized)
	for segs.Next() {
		seg := segs.Value()
		if isWord(seg) {
			tokens = append(tokens, seg)
		}
	}
	return tokens
}

func isWord(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
