// Package sqlite provides a single-file store.Store implementation backed by
// SQLite. It suits single-host deployments that need durability without a
// database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed blob store.
type Store struct {
	db *sql.DB
}

// Config holds configuration for the SQLite store.
type Config struct {
	Path     string
	MaxConns int
}

// New opens (or creates) the database at cfg.Path and prepares the schema.
func New(cfg Config) (*Store, error) {
	connStr := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0) // SQLite connections are cheap, never expire

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_blobs_namespace ON blobs(namespace);
`

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores blob under (namespace, key), replacing any previous value.
func (s *Store) Put(ctx context.Context, namespace, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get returns the blob stored under (namespace, key).
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM blobs WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return blob, true, nil
}

// Delete removes (namespace, key). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns keys in namespace with the given prefix, sorted.
func (s *Store) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM blobs WHERE namespace = ? AND key LIKE ? || '%' ORDER BY key`,
		namespace, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
