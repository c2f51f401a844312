// Package dataset persists parsed articles in SQLite.
package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no article has the requested PMCID.
var ErrNotFound = errors.New("paper not found")

const schema = `
CREATE TABLE IF NOT EXISTS papers (
	pmcid         TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	authors       TEXT NOT NULL DEFAULT '[]',
	journal       TEXT NOT NULL DEFAULT '',
	published     TEXT NOT NULL DEFAULT '',
	doi           TEXT NOT NULL DEFAULT '',
	pmid          TEXT NOT NULL DEFAULT '',
	abstract      TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	markdown      TEXT NOT NULL DEFAULT '',
	refs          TEXT NOT NULL DEFAULT '{}',
	citations     INTEGER NOT NULL DEFAULT 0,
	tables        INTEGER NOT NULL DEFAULT 0,
	figures       INTEGER NOT NULL DEFAULT 0,
	warnings      INTEGER NOT NULL DEFAULT 0,
	chunks        INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS papers_content_hash ON papers(content_hash);
CREATE TABLE IF NOT EXISTS chunks (
	pmcid       TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	chunk_id    TEXT NOT NULL,
	text        TEXT NOT NULL,
	breadcrumb  TEXT NOT NULL DEFAULT '[]',
	refs        TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (pmcid, idx)
);
`

// Record is one stored article.
type Record struct {
	PMCID       string          `json:"pmcid"`
	Title       string          `json:"title"`
	Authors     []string        `json:"authors"`
	Journal     string          `json:"journal,omitempty"`
	Published   string          `json:"published,omitempty"`
	DOI         string          `json:"doi,omitempty"`
	PMID        string          `json:"pmid,omitempty"`
	Abstract    string          `json:"abstract,omitempty"`
	Body        string          `json:"body,omitempty"`
	Markdown    string          `json:"-"`
	Refs        json.RawMessage `json:"refs,omitempty"`
	Citations   int             `json:"citations"`
	Tables      int             `json:"tables"`
	Figures     int             `json:"figures"`
	Warnings    int             `json:"warnings"`
	Chunks      int             `json:"chunks"`
	ContentHash string          `json:"content_hash"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store is a SQLite-backed article table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; an in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces rec. CreatedAt is kept from the existing row.
func (s *Store) Put(ctx context.Context, rec Record) error {
	authors, err := json.Marshal(nonNil(rec.Authors))
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}
	refs := string(rec.Refs)
	if refs == "" {
		refs = "{}"
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO papers (pmcid, title, authors, journal, published, doi, pmid, abstract, body, markdown, refs,
	citations, tables, figures, warnings, chunks, content_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pmcid) DO UPDATE SET
	title = excluded.title, authors = excluded.authors, journal = excluded.journal,
	published = excluded.published, doi = excluded.doi, pmid = excluded.pmid,
	abstract = excluded.abstract, body = excluded.body, markdown = excluded.markdown,
	refs = excluded.refs, citations = excluded.citations, tables = excluded.tables,
	figures = excluded.figures, warnings = excluded.warnings, chunks = excluded.chunks,
	content_hash = excluded.content_hash, updated_at = excluded.updated_at`,
		rec.PMCID, rec.Title, string(authors), rec.Journal, rec.Published, rec.DOI, rec.PMID,
		rec.Abstract, rec.Body, rec.Markdown, refs,
		rec.Citations, rec.Tables, rec.Figures, rec.Warnings, rec.Chunks, rec.ContentHash,
		rec.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put paper %s: %w", rec.PMCID, err)
	}
	return nil
}

const fullColumns = `pmcid, title, authors, journal, published, doi, pmid, abstract, body, markdown, refs,
	citations, tables, figures, warnings, chunks, content_hash, created_at, updated_at`

// Get returns the full record for pmcid.
func (s *Store) Get(ctx context.Context, pmcid string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fullColumns+" FROM papers WHERE pmcid = ?", pmcid)
	rec, err := scanFull(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paper %s: %w", pmcid, err)
	}
	return rec, nil
}

// List returns summaries ordered by most recently updated. Abstract, body,
// markdown and refs are left empty.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT pmcid, title, authors, journal, published, doi, pmid,
	citations, tables, figures, warnings, chunks, content_hash, created_at, updated_at
FROM papers ORDER BY updated_at DESC, pmcid LIMIT ? OFFSET ?`, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		var authors, created, updated string
		if err := rows.Scan(&rec.PMCID, &rec.Title, &authors, &rec.Journal, &rec.Published, &rec.DOI, &rec.PMID,
			&rec.Citations, &rec.Tables, &rec.Figures, &rec.Warnings, &rec.Chunks, &rec.ContentHash,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		if err := finish(&rec, authors, created, updated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	return out, nil
}

// Count returns the number of stored articles.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM papers").Scan(&n); err != nil {
		return 0, fmt.Errorf("count papers: %w", err)
	}
	return n, nil
}

// Delete removes pmcid and its chunks.
func (s *Store) Delete(ctx context.Context, pmcid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete paper %s: %w", pmcid, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM papers WHERE pmcid = ?", pmcid)
	if err != nil {
		return fmt.Errorf("delete paper %s: %w", pmcid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE pmcid = ?", pmcid); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", pmcid, err)
	}
	return tx.Commit()
}

// FindByHash returns the PMCID of an article with the given content hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	var pmcid string
	err := s.db.QueryRowContext(ctx, "SELECT pmcid FROM papers WHERE content_hash = ? LIMIT 1", hash).Scan(&pmcid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find by hash: %w", err)
	}
	return pmcid, true, nil
}

func scanFull(row *sql.Row) (*Record, error) {
	var rec Record
	var authors, refs, created, updated string
	err := row.Scan(&rec.PMCID, &rec.Title, &authors, &rec.Journal, &rec.Published, &rec.DOI, &rec.PMID,
		&rec.Abstract, &rec.Body, &rec.Markdown, &refs,
		&rec.Citations, &rec.Tables, &rec.Figures, &rec.Warnings, &rec.Chunks, &rec.ContentHash,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Refs = json.RawMessage(refs)
	if err := finish(&rec, authors, created, updated); err != nil {
		return nil, err
	}
	return &rec, nil
}

func finish(rec *Record, authors, created, updated string) error {
	if err := json.Unmarshal([]byte(authors), &rec.Authors); err != nil {
		return fmt.Errorf("decode authors of %s: %w", rec.PMCID, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return fmt.Errorf("decode created_at of %s: %w", rec.PMCID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return fmt.Errorf("decode updated_at of %s: %w", rec.PMCID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
