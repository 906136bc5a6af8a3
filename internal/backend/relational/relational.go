// Package relational provides the SQLite index backend. Documents and postings
// live in two tables; the storage engine's token index answers exact lookups
// and is scanned for partial ones.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"runtime"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

const (
	// Name identifies this backend in configuration.
	Name = "sqlite"

	// DriverCgo is github.com/mattn/go-sqlite3.
	DriverCgo = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"

	filename      = "index.sqlite"
	formatVersion = "1"
	insertBatch   = 10000
)

const schema = `
CREATE TABLE documents (
	id INTEGER PRIMARY KEY,
	record_type INTEGER NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	score INTEGER NOT NULL
);

CREATE TABLE postings (
	token TEXT NOT NULL,
	doc_id INTEGER NOT NULL
);

CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Backend writes and opens SQLite index databases.
type Backend struct {
	driver string
}

// New returns the SQLite backend using driver, DriverCgo when empty.
func New(driver string) (*Backend, error) {
	switch driver {
	case "", DriverCgo:
		return &Backend{driver: DriverCgo}, nil
	case DriverPure:
		return &Backend{driver: DriverPure}, nil
	default:
		return nil, fmt.Errorf("unknown sqlite driver: %s (supported: %s, %s)", driver, DriverCgo, DriverPure)
	}
}

// Name implements index.Backend.
func (*Backend) Name() string { return Name }

// Filename implements index.Backend.
func (*Backend) Filename() string { return filename }

// Driver returns the database/sql driver name in use.
func (b *Backend) Driver() string { return b.driver }

// Write implements index.Backend. The token index is created after the bulk
// insert, and the database is left in rollback-journal mode so it is a single file.
func (b *Backend) Write(ctx context.Context, path string, a *index.Arena) error {
	db, err := sql.Open(b.driver, path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=OFF",
		"PRAGMA synchronous=OFF",
		"PRAGMA page_size=4096",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := b.insertDocuments(ctx, db, a); err != nil {
		return err
	}
	if err := b.insertPostings(ctx, db, a); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX idx_postings_token ON postings(token, doc_id)`); err != nil {
		return fmt.Errorf("failed to create token index: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('format_version', ?), ('doc_count', ?)`,
		formatVersion, strconv.Itoa(a.Len()),
	); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("failed to reset journal mode: %w", err)
	}
	return db.Close()
}

// inBatches runs fn over n items in transactions of insertBatch rows.
func inBatches(ctx context.Context, db *sql.DB, query string, n int, fn func(stmt *sql.Stmt, i int) error) error {
	for start := 0; start < n; start += insertBatch {
		end := min(start+insertBatch, n)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		for i := start; i < end; i++ {
			if err := fn(stmt, i); err != nil {
				stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
	}
	return nil
}

func (b *Backend) insertDocuments(ctx context.Context, db *sql.DB, a *index.Arena) error {
	return inBatches(ctx, db,
		`INSERT INTO documents (id, record_type, title, link, score) VALUES (?, ?, ?, ?, ?)`,
		a.Len(),
		func(stmt *sql.Stmt, i int) error {
			d := a.Docs[i]
			if _, err := stmt.ExecContext(ctx, i, int(d.RecordType), d.Title, d.Link, d.Score); err != nil {
				return fmt.Errorf("failed to insert document %d: %w", i, err)
			}
			return nil
		})
}

func (b *Backend) insertPostings(ctx context.Context, db *sql.DB, a *index.Arena) error {
	type pair struct {
		token string
		id    uint32
	}
	tokens := a.Tokens()
	var rows []pair
	for _, tok := range tokens {
		it := a.Postings[tok].Iterator()
		for it.HasNext() {
			rows = append(rows, pair{tok, it.Next()})
		}
	}
	return inBatches(ctx, db,
		`INSERT INTO postings (token, doc_id) VALUES (?, ?)`,
		len(rows),
		func(stmt *sql.Stmt, i int) error {
			if _, err := stmt.ExecContext(ctx, rows[i].token, int64(rows[i].id)); err != nil {
				return fmt.Errorf("failed to insert posting %q: %w", rows[i].token, err)
			}
			return nil
		})
}

// Open implements index.Backend. The database is opened read-only and its
// schema and metadata are checked before returning.
func (b *Backend) Open(ctx context.Context, path string) (index.Index, error) {
	if err := index.CheckExists(path); err != nil {
		return nil, err
	}
	db, err := sql.Open(b.driver, "file:"+path+"?mode=ro")
	if err != nil {
		return nil, index.Failure("open", fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(runtime.GOMAXPROCS(0))

	x := &Index{db: db, path: path}
	if err := x.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// Index is an open SQLite index. database/sql pools connections, so
// concurrent callers never share one.
type Index struct {
	db       *sql.DB
	path     string
	docCount int
}

func (x *Index) load(ctx context.Context) error {
	var ver, count string
	err := x.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'format_version'`).Scan(&ver)
	if err == nil {
		err = x.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'doc_count'`).Scan(&count)
	}
	if err != nil {
		return index.Corrupt("open", x.path, fmt.Errorf("failed to read metadata: %w", err))
	}
	if ver != formatVersion {
		return index.Corruptf("open", x.path, "unsupported format version %q", ver)
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return index.Corruptf("open", x.path, "invalid document count %q", count)
	}

	var maxID sql.NullInt64
	if err := x.db.QueryRowContext(ctx, `SELECT max(id) FROM documents`).Scan(&maxID); err != nil {
		return index.Corrupt("open", x.path, fmt.Errorf("failed to read documents: %w", err))
	}
	if !maxID.Valid || maxID.Int64 != int64(n-1) {
		return index.Corruptf("open", x.path, "documents table does not match count %d", n)
	}
	var indexes int
	err = x.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_postings_token'`,
	).Scan(&indexes)
	if err != nil {
		return index.Corrupt("open", x.path, fmt.Errorf("failed to read schema: %w", err))
	}
	if indexes != 1 {
		return index.Corruptf("open", x.path, "token index missing")
	}
	x.docCount = n
	return nil
}

const docColumns = `id, record_type, title, link, score`

func scanDocument(rows interface{ Scan(...any) error }) (models.Document, error) {
	var (
		id int64
		rt int
		d  models.Document
	)
	if err := rows.Scan(&id, &rt, &d.Title, &d.Link, &d.Score); err != nil {
		return models.Document{}, err
	}
	d.RecordType = models.RecordType(rt)
	return d, nil
}

// query yields the rows of a document query.
func (x *Index) query(ctx context.Context, op, q string, args ...any) iter.Seq2[models.Document, error] {
	return func(yield func(models.Document, error) bool) {
		rows, err := x.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(models.Document{}, index.Failure(op, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				yield(models.Document{}, index.Failure(op, err))
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Document{}, index.Failure(op, err))
		}
	}
}

// Keys implements index.Index.
func (x *Index) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT token FROM postings ORDER BY token`)
		if err != nil {
			yield("", index.Failure("keys", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err != nil {
				yield("", index.Failure("keys", err))
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", index.Failure("keys", err))
		}
	}
}

// Values implements index.Index.
func (x *Index) Values(ctx context.Context) iter.Seq2[models.Document, error] {
	return x.query(ctx, "values", `SELECT `+docColumns+` FROM documents ORDER BY id`)
}

// Contains implements index.Index.
func (x *Index) Contains(ctx context.Context, token string) (bool, error) {
	tok, ok := index.SingleToken(token)
	if !ok {
		return false, nil
	}
	var found bool
	err := x.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM postings WHERE token = ?)`, tok).Scan(&found)
	if err != nil {
		return false, index.Failure("contains", err)
	}
	return found, nil
}

// Random implements index.Index. Ids are dense, so a uniform id is a uniform document.
func (x *Index) Random(ctx context.Context) (models.Document, error) {
	id := rand.IntN(x.docCount)
	row := x.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, index.Corruptf("random", x.path, "document %d missing", id)
	}
	if err != nil {
		return models.Document{}, index.Failure("random", err)
	}
	return d, nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, "search", terms, false)
}

// PartialSearch implements index.Index.
func (x *Index) PartialSearch(ctx context.Context, terms []string) iter.Seq2[models.Document, error] {
	return x.match(ctx, "partial_search", terms, true)
}

func (x *Index) match(ctx context.Context, op string, terms []string, partial bool) iter.Seq2[models.Document, error] {
	toks := index.QueryTerms(terms)
	if len(toks) == 0 {
		return index.Empty[models.Document]()
	}
	q, args := matchQuery(toks, partial)
	return x.query(ctx, op, q, args...)
}

// matchQuery builds one INTERSECT arm per term: an equality lookup on the
// token index, or an instr scan of the covering (token, doc_id) index.
func matchQuery(toks []string, partial bool) (string, []any) {
	arm := `SELECT doc_id FROM postings WHERE token = ?`
	if partial {
		arm = `SELECT doc_id FROM postings WHERE instr(token, ?) > 0`
	}
	arms := make([]string, len(toks))
	args := make([]any, len(toks))
	for i, tok := range toks {
		arms[i] = arm
		args[i] = tok
	}
	q := `SELECT ` + docColumns + ` FROM documents WHERE id IN (` +
		strings.Join(arms, ` INTERSECT `) + `) ORDER BY id`
	return q, args
}

// Len implements index.Index.
func (x *Index) Len() int { return x.docCount }

// Close implements index.Index.
func (x *Index) Close() error { return x.db.Close() }
