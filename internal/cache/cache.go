// Package cache implements the content-addressed get-or-compute cache for
// derived artifacts (screenshots, thumbnails, embedding vectors).
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/archivist-dev/archivist/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key         TEXT PRIMARY KEY CHECK (length(key) > 0),
	value       BLOB NOT NULL,
	computed_at INTEGER NOT NULL
);
`

// SQLite is a durable content-addressed cache. Keys must be content-stable
// (hashes of source bytes or canonical URLs), never mutable file paths, so
// an unchanged input is a guaranteed hit across runs.
type SQLite struct {
	db    *sql.DB
	clock func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done  chan struct{}
	value []byte
	err   error
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("cache: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	return &SQLite{
		db:       db,
		clock:    func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]*call),
	}, nil
}

// Close releases the underlying database handle.
func (c *SQLite) Close() error {
	return c.db.Close()
}

// GetOrCompute returns the cached value for key, or invokes compute on a
// miss and persists its result before returning it. A failed compute is
// returned as-is and never cached, so a later call retries. Concurrent
// misses for the same key run compute once and share the outcome.
func (c *SQLite) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if key == "" {
		return nil, errors.New("cache: empty key")
	}

	if value, ok, err := c.get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		metrics.RecordCacheLookup(true)
		return value, nil
	}
	metrics.RecordCacheLookup(false)

	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = c.computeAndStore(ctx, key, compute)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return cl.value, cl.err
}

func (c *SQLite) computeAndStore(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	// Another goroutine may have stored the value between our miss and
	// the inflight registration.
	if value, ok, err := c.get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, computed_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		key, value, c.clock().Unix())
	if err != nil {
		return nil, fmt.Errorf("cache: put %s: %w", key, err)
	}
	return value, nil
}

func (c *SQLite) get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return value, true, nil
}

// Evict removes the entry for key. Evicting an absent key is not an error.
func (c *SQLite) Evict(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: evict %s: %w", key, err)
	}
	return nil
}
