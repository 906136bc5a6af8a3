// Package fulltext provides the Bleve index backend. Every document is one
// Bleve document whose normalized tokens go into a keyword field; the other
// fields are stored only.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"regexp"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

const (
	// Name identifies this backend in configuration.
	Name = "bleve"

	dirname       = "index.bleve"
	formatVersion = "1"
	batchSize     = 5000
	pageSize      = 1000

	fieldTokens     = "tokens"
	fieldTitle      = "title"
	fieldLink       = "link"
	fieldRecordType = "record_type"
	fieldScore      = "score"
)

var (
	keyVersion  = []byte("format_version")
	keyDocCount = []byte("doc_count")

	storedFields = []string{fieldTitle, fieldLink, fieldRecordType, fieldScore}
)

// Backend writes and opens Bleve index directories.
type Backend struct{}

// New returns the Bleve backend.
func New() *Backend { return &Backend{} }

// Name implements index.Backend.
func (*Backend) Name() string { return Name }

// Filename implements index.Backend. The entry is a directory.
func (*Backend) Filename() string { return dirname }

func newMapping() mapping.IndexMapping {
	tokens := bleve.NewKeywordFieldMapping()
	tokens.Analyzer = keyword.Name
	tokens.Store = false
	tokens.IncludeInAll = false
	tokens.IncludeTermVectors = false
	tokens.DocValues = false

	stored := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Index = false
		f.Store = true
		f.IncludeInAll = false
		f.IncludeTermVectors = false
		f.DocValues = false
		return f
	}

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldTokens, tokens)
	for _, name := range storedFields {
		doc.AddFieldMappingsAt(name, stored())
	}

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	return im
}

// docID renders dense ids so that _id order is id order.
func docID(id int) string { return fmt.Sprintf("%010d", id) }

// Write implements index.Backend. Scorch's Close must run exactly once.
func (*Backend) Write(ctx context.Context, path string, a *index.Arena) error {
	bi, err := bleve.New(path, newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	if err := fill(ctx, bi, a); err != nil {
		_ = bi.Close()
		return err
	}
	return bi.Close()
}

func fill(ctx context.Context, bi bleve.Index, a *index.Arena) error {
	tokens := make([][]string, a.Len())
	for _, tok := range a.Tokens() {
		it := a.Postings[tok].Iterator()
		for it.HasNext() {
			id := it.Next()
			tokens[id] = append(tokens[id], tok)
		}
	}

	batch := bi.NewBatch()
	for i, d := range a.Docs {
		if err := batch.Index(docID(i), map[string]any{
			fieldTokens:     tokens[i],
			fieldTitle:      d.Title,
			fieldLink:       d.Link,
			fieldRecordType: strconv.Itoa(int(d.RecordType)),
			fieldScore:      strconv.FormatInt(d.Score, 10),
		}); err != nil {
			return fmt.Errorf("failed to index document %d: %w", i, err)
		}
		if batch.Size() >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := bi.Batch(batch); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := bi.Batch(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
	}

	if err := bi.SetInternal(keyVersion, []byte(formatVersion)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := bi.SetInternal(keyDocCount, []byte(strconv.Itoa(a.Len()))); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Open implements index.Backend. The directory is opened read-only, so any
// number of handles may share it.
func (*Backend) Open(ctx context.Context, path string) (index.Index, error) {
	if err := index.CheckExists(path); err != nil {
		return nil, err
	}
	bi, err := bleve.OpenUsing(path, map[string]any{"read_only": true})
	if err != nil {
		return nil, index.Corrupt("open", path, err)
	}
	x := &Index{bi: bi, path: path}
	if err := x.load(); err != nil {
		bi.Close()
		return nil, err
	}
	return x, nil
}

// Index is an open Bleve index.
type Index struct {
	bi       bleve.Index
	path     string
	docCount int
}

func (x *Index) load() error {
	ver, err := x.bi.GetInternal(keyVersion)
	if err != nil {
		return index.Failure("open", err)
	}
	if string(ver) != formatVersion {
		return index.Corruptf("open", x.path, "unsupported format version %q", ver)
	}
	raw, err := x.bi.GetInternal(keyDocCount)
	if err != nil {
		return index.Failure("open", err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= 0 {
		return index.Corruptf("open", x.path, "invalid document count %q", raw)
	}
	stored, err := x.bi.DocCount()
	if err != nil {
		return index.Failure("open", err)
	}
	if stored != uint64(n) {
		return index.Corruptf("open", x.path, "holds %d documents, metadata says %d", stored, n)
	}
	x.docCount = n
	return nil
}

func hitDocument(fields map[string]any) (models.Document, error) {
	str := func(name string) (string, error) {
		s, ok := fields[name].(string)
		if !ok {
			return "", fmt.Errorf("stored field %q missing", name)
		}
		return s, nil
	}
	var (
		d    models.Document
		errs []error
		err  error
	)
	d.Title, err = str(fieldTitle)
	errs = append(errs, err)
	d.Link, err = str(fieldLink)
	errs = append(errs, err)
	if s, err := str(fieldRecordType); err != nil {
		errs = append(errs, err)
	} else if rt, err := strconv.Atoi(s); err != nil || !models.RecordType(rt).Valid() {
		errs = append(errs, fmt.Errorf("invalid record type %q", s))
	} else {
		d.RecordType = models.RecordType(rt)
	}
	if s, err := str(fieldScore); err != nil {
		errs = append(errs, err)
	} else if d.Score, err = strconv.ParseInt(s, 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid score %q", s))
	}
	return d, errors.Join(errs...)
}

// run yields the stored documents matching q in id order, paging with search_after.
func (x *Index) run(ctx context.Context, op string, q blevequery.Query) iter.Seq2[models.Document, error] {
	return func(yield func(models.Document, error) bool) {
		var after []string
		for {
			req := bleve.NewSearchRequestOptions(q, pageSize, 0, false)
			req.Fields = storedFields
			req.SortBy([]string{"_id"})
			req.SearchAfter = after
			res, err := x.bi.SearchInContext(ctx, req)
			if err != nil {
				yield(models.Document{}, index.Failure(op, err))
				return
			}
			for _, hit := range res.Hits {
				d, err := hitDocument(hit.Fields)
				if err != nil {
					yield(models.Document{}, index.Corrupt(op, x.path, fmt.Errorf("document %s: %w", hit.ID, err)))
					return
				}
				if !yield(d, nil) {
					return
				}
			}
			if len(res.Hits) < pageSize {
				return
			}
			after = []string{res.Hits[len(res.Hits)-1].ID}
		}
	}
}

// Keys implements index.Index. The term dictionary is already sorted.
func (x *Index) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dict, err := x.bi.FieldDict(fieldTokens)
		if err != nil {
			yield("", index.Failure("keys", err))
			return
		}
		defer dict.Close()
		for i := 0; ; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
			}
			entry, err := dict.Next()
			if err != nil {
				yield("", index.Failure("keys", err))
				return
			}
			if entry == nil {
				return
			}
			if !yield(entry.Term, nil) {
				return
			}
		}
	}
}

// Values implements index.Index.
func (x *Index) Values(ctx context.Context) iter.Seq2[models.Document, error] {
	return x.run(ctx, "values", bleve.NewMatchAllQuery())
}

func termQuery(tok string) blevequery.Query {
	q := bleve.NewTermQuery(tok)
	q.SetField(fieldTokens)
	return q
}

// substringQuery matches every token containing fragment. Regexp queries
// must match the whole term, hence the surrounding wildcards.
func substringQuery(fragment string) blevequery.Query {
	q := bleve.NewRegexpQuery(".*" + regexp.QuoteMeta(fragment) + ".*")
	q.SetField(fieldTokens)
	return q
}

// Contains implements index.Index.
func (x *Index) Contains(ctx context.Context, token string) (bool, error) {
	tok, ok := index.SingleToken(token)
	if !ok {
		return false, nil
	}
	req := bleve.NewSearchRequestOptions(termQuery(tok), 0, 0, false)
	res, err := x.bi.SearchInContext(ctx, req)
	if err != nil {
		return false, index.Failure("contains", err)
	}
	return res.Total > 0, nil
}

// Random implements index.Index.
func (x *Index) Random(ctx context.Context) (models.Document, error) {
	id := docID(rand.IntN(x.docCount))
	for d, err := range x.run(ctx, "random", bleve.NewDocIDQuery([]string{id})) {
		return d, err
	}
	return models.Document{}, index.Corruptf("random", x.path, "document %s missing", id)
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, "search", terms, termQuery)
}

// PartialSearch implements index.Index.
func (x *Index) PartialSearch(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, "partial_search", terms, substringQuery)
}

func (x *Index) match(ctx context.Context, op string, terms []string, leaf func(string) blevequery.Query) iter.Seq2[models.Document, error] {
	toks := index.QueryTerms(terms)
	if len(toks) == 0 {
		return index.Empty[models.Document]()
	}
	qs := make([]blevequery.Query, len(toks))
	for i, tok := range toks {
		qs[i] = leaf(tok)
	}
	return x.run(ctx, op, bleve.NewConjunctionQuery(qs...))
}

// Len implements index.Index.
func (x *Index) Len() int { return x.docCount }

// Close implements index.Index.
func (x *Index) Close() error { return x.bi.Close() }
