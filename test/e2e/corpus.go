// Package e2e runs a generated title corpus through every backend and checks
// each query against a brute-force scan of the titles.
package e2e

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
)

// QueryTestCase is one query to run against every backend.
type QueryTestCase struct {
	Query       string
	Partial     bool
	Description string
}

// Corpus holds documents and query test cases for E2E tests.
type Corpus struct {
	Documents []models.Document
	TestCases []QueryTestCase
}

// vocabulary mixes accents, case and shared word fragments so normalization
// and partial unions are both exercised.
var vocabulary = []string{
	"Ala", "alas", "álamo", "Blanca", "blanco", "blancura", "Canción", "cancionero",
	"conejo", "Córdoba", "cordobés", "día", "Días", "Ñandú", "nandu", "río",
	"Río", "ríos", "Plata", "plátano", "Botero", "bote", "botella", "Perón",
	"pera", "península", "Iberia", "ibérica", "guerra", "guerrero", "año", "años",
	"São", "Paulo", "Zürich", "Øresund", "straße", "1810", "1816", "XIX",
}

// Entries converts the corpus into builder input.
func (c *Corpus) Entries() []models.Entry {
	entries := make([]models.Entry, len(c.Documents))
	for i, d := range c.Documents {
		entries[i] = models.Entry{
			Tokens:  normalize.Tokenize(d.Title),
			Score:   d.Score,
			Payload: models.Payload{RecordType: d.RecordType, Title: d.Title, Link: d.Link},
		}
	}
	return entries
}

// BuildCorpus returns n generated documents and the queries to check. The
// same seed always yields the same corpus.
func BuildCorpus(n int, seed uint64) *Corpus {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	docs := make([]models.Document, 0, n)
	for i := range n {
		words := make([]string, 1+r.IntN(5))
		for j := range words {
			words[j] = vocabulary[r.IntN(len(vocabulary))]
		}
		title := strings.Join(words, " ")
		doc := models.Document{
			RecordType: models.RecordOriginal,
			Title:      title,
			Link:       fmt.Sprintf("wiki/%s_%d", strings.ReplaceAll(title, " ", "_"), i),
			Score:      r.Int64N(1000),
		}
		if i%7 == 3 && i > 0 {
			doc.RecordType = models.RecordRedirect
			doc.Link = docs[r.IntN(len(docs))].Link
		}
		docs = append(docs, doc)
	}
	return &Corpus{Documents: docs, TestCases: buildQueryTestCases()}
}

func buildQueryTestCases() []QueryTestCase {
	cases := []QueryTestCase{
		{Query: "ALA", Description: "case folded"},
		{Query: "alamo", Description: "accent folded"},
		{Query: "nandu", Description: "ñ folds to n"},
		{Query: "rio plata", Description: "two terms"},
		{Query: "plata rio", Description: "term order does not matter"},
		{Query: "Córdoba cordobés dia", Description: "three terms"},
		{Query: "1810", Description: "digits"},
		{Query: "sao paulo", Description: "tilde on a"},
		{Query: "zurich", Description: "umlaut"},
		{Query: "strasse", Description: "ß folds to ss"},
		{Query: "inexistente", Description: "no match"},
		{Query: "al", Partial: true, Description: "short fragment"},
		{Query: "blanc", Partial: true, Description: "fragment union"},
		{Query: "bot ber", Partial: true, Description: "two fragments"},
		{Query: "ri pl", Partial: true, Description: "fragment intersection"},
		{Query: "gue año", Partial: true, Description: "fragment with ñ"},
		{Query: "18", Partial: true, Description: "numeric fragment"},
		{Query: "ero", Partial: true, Description: "word endings"},
		{Query: "anc ob", Partial: true, Description: "fragments inside words"},
		{Query: "xyz", Partial: true, Description: "no fragment match"},
		{Query: "botella", Partial: true, Description: "whole word as fragment"},
	}
	for _, w := range vocabulary {
		cases = append(cases, QueryTestCase{Query: w, Description: "vocabulary word " + w})
	}
	return cases
}

// Expected scans every title and returns the matching documents ordered by
// title, then link.
func (c *Corpus) Expected(tc QueryTestCase) []models.Document {
	terms := index.QueryTerms(strings.Fields(tc.Query))
	var out []models.Document
	for _, d := range c.Documents {
		if matches(normalize.Tokenize(d.Title), terms, tc.Partial) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		return cmp.Or(strings.Compare(a.Title, b.Title), strings.Compare(a.Link, b.Link))
	})
	return out
}

func matches(tokens, terms []string, partial bool) bool {
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if !slices.ContainsFunc(tokens, func(tok string) bool {
			if partial {
				return strings.Contains(tok, term)
			}
			return tok == term
		}) {
			return false
		}
	}
	return true
}
