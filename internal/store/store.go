// Package store implements the per-source item store on embedded SQLite
// with an FTS5 full-text index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/archivist-dev/archivist/internal/archive"
)

// One database file per source. The FTS index is kept in sync with the
// items table by triggers so writers only ever touch items.
const schema = `
CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY CHECK (length(id) > 0),
	source_ref  TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	created_at  INTEGER,
	title       TEXT NOT NULL DEFAULT '',
	note        TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '',
	fulltext    TEXT NOT NULL DEFAULT '',
	media_ref   TEXT NOT NULL DEFAULT '',
	frozen_ref  TEXT NOT NULL DEFAULT '',
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS items_captured_idx ON items (captured_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS items_fts
	USING fts5 (id UNINDEXED, source_ref, title, note, tags, fulltext);

CREATE TRIGGER IF NOT EXISTS items_fts_ai AFTER INSERT ON items BEGIN
	INSERT INTO items_fts (id, source_ref, title, note, tags, fulltext)
	VALUES (new.id, new.source_ref, new.title, new.note, new.tags, new.fulltext);
END;

CREATE TRIGGER IF NOT EXISTS items_fts_ad AFTER DELETE ON items BEGIN
	DELETE FROM items_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS items_fts_au AFTER UPDATE ON items BEGIN
	DELETE FROM items_fts WHERE id = old.id;
	INSERT INTO items_fts (id, source_ref, title, note, tags, fulltext)
	VALUES (new.id, new.source_ref, new.title, new.note, new.tags, new.fulltext);
END;
`

const itemColumns = `id, source_ref, captured_at, created_at, title, note, tags, fulltext, media_ref, frozen_ref, width, height`

// SQLite is the archive.Store implementation backing one source.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// production pragmas: WAL journal, busy timeout, synchronous NORMAL,
// foreign keys on.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Single-writer discipline: one connection avoids SQLITE_BUSY churn
	// between the write transaction and concurrent readers in-process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertMany inserts or replaces all items in one transaction. On any
// failure the transaction rolls back and no item is applied.
func (s *SQLite) UpsertMany(ctx context.Context, items []archive.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &archive.PersistenceError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_ref  = excluded.source_ref,
			captured_at = excluded.captured_at,
			created_at  = excluded.created_at,
			title       = excluded.title,
			note        = excluded.note,
			tags        = excluded.tags,
			fulltext    = excluded.fulltext,
			media_ref   = excluded.media_ref,
			frozen_ref  = excluded.frozen_ref,
			width       = excluded.width,
			height      = excluded.height`)
	if err != nil {
		return &archive.PersistenceError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	for _, item := range items {
		var created any
		if item.CreatedAt != nil {
			created = item.CreatedAt.Unix()
		}
		_, err := stmt.ExecContext(ctx,
			item.ID,
			item.SourceRef,
			item.CapturedAt.Unix(),
			created,
			item.Title,
			item.Note,
			strings.Join(item.Tags, " "),
			item.Fulltext,
			item.MediaRef,
			item.FrozenRef,
			item.Width,
			item.Height,
		)
		if err != nil {
			return &archive.PersistenceError{Op: "upsert", Err: fmt.Errorf("item %s: %w", item.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &archive.PersistenceError{Op: "upsert", Err: err}
	}
	return nil
}

// DeleteMany removes the rows for the given ids in one transaction.
func (s *SQLite) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &archive.PersistenceError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM items WHERE id = ?`)
	if err != nil {
		return &archive.PersistenceError{Op: "delete", Err: err}
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return &archive.PersistenceError{Op: "delete", Err: fmt.Errorf("item %s: %w", id, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &archive.PersistenceError{Op: "delete", Err: err}
	}
	return nil
}

// Exists reports whether id is persisted.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(id) FROM items WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return n > 0, nil
}

// All returns every persisted item ordered by recency descending.
func (s *SQLite) All(ctx context.Context) ([]archive.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY captured_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: all: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Search returns items ordered by recency descending. Empty text matches
// everything. Multi-word queries are the AND of prefix terms: every
// whitespace-separated term must prefix-match a token of source_ref,
// title, note, tags, or the archived page text ("desi" finds "design").
// limit <= 0 is unbounded.
func (s *SQLite) Search(ctx context.Context, text string, limit int) ([]archive.Item, error) {
	match := ftsPrefixQuery(text)
	if match == "" {
		return s.searchAll(ctx, limit)
	}

	q := `
		SELECT ` + prefixColumns("items.") + `
		FROM items_fts
		JOIN items ON items.id = items_fts.id
		WHERE items_fts MATCH ?
		ORDER BY items.captured_at DESC, items.id ASC`
	args := []any{match}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search %q: %w", text, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *SQLite) searchAll(ctx context.Context, limit int) ([]archive.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items ORDER BY captured_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search all: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ftsPrefixQuery turns free text into a deterministic FTS5 query: each
// term quoted and marked as a prefix, all terms required.
func ftsPrefixQuery(text string) string {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, ``)
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+term+`"*`)
	}
	return strings.Join(quoted, " AND ")
}

func prefixColumns(prefix string) string {
	cols := strings.Split(itemColumns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

func scanItems(rows *sql.Rows) ([]archive.Item, error) {
	var items []archive.Item
	for rows.Next() {
		var (
			item     archive.Item
			captured int64
			created  sql.NullInt64
			tags     string
		)
		err := rows.Scan(
			&item.ID,
			&item.SourceRef,
			&captured,
			&created,
			&item.Title,
			&item.Note,
			&tags,
			&item.Fulltext,
			&item.MediaRef,
			&item.FrozenRef,
			&item.Width,
			&item.Height,
		)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		item.CapturedAt = time.Unix(captured, 0).UTC()
		if created.Valid {
			t := time.Unix(created.Int64, 0).UTC()
			item.CreatedAt = &t
		}
		if tags != "" {
			item.Tags = strings.Fields(tags)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return items, nil
}
