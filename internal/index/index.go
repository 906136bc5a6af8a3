// Package index defines the title index contract shared by every storage backend:
// the read interface, the backend writer/opener, the in-memory arena the builder
// produces, and the posting-set query engine.
package index

import (
	"context"
	"iter"

	"github.com/cdpedia/cdpindex/internal/models"
)

// Index is a built, immutable title index opened for reading.
// All methods are safe for concurrent use. Sequences yield each item once;
// a non-nil error ends the sequence.
type Index interface {
	// Keys yields every distinct token.
	Keys(ctx context.Context) iter.Seq2[string, error]
	// Values yields every document.
	Values(ctx context.Context) iter.Seq2[models.Document, error]
	// Contains reports exact vocabulary membership of the normalized token.
	Contains(ctx context.Context, token string) (bool, error)
	// Random returns a document drawn uniformly from the whole index.
	Random(ctx context.Context) (models.Document, error)
	// Search yields documents containing every term exactly.
	Search(ctx context.Context, terms []string) iter.Seq2[models.Document, error]
	// PartialSearch yields documents that, for every term, contain a token starting with it.
	PartialSearch(ctx context.Context, terms []string) iter.Seq2[models.Document, error]
	// Len returns the number of documents.
	Len() int
	Close() error
}

// Backend is one physical layout of the index.
type Backend interface {
	// Name is the identifier used in configuration.
	Name() string
	// Filename is the entry the backend owns inside an index directory.
	Filename() string
	// Write persists a built arena at path. path does not exist yet.
	Write(ctx context.Context, path string, a *Arena) error
	// Open loads the index stored at path, validating it eagerly.
	Open(ctx context.Context, path string) (Index, error)
}
