// Package storage is Herald's SQLite persistence layer: mentions, posts
// (drafts and published content), and selector overrides. Each exported
// method is transactional on its own; the workflow never holds a
// transaction open across an automation call.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// PersistenceError wraps a record read/write failure so workflow code can
// classify it without inspecting driver-specific errors.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set WAL: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS mentions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			platform_id TEXT NOT NULL UNIQUE,
			author_username TEXT NOT NULL,
			content TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			responded INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			mentioned_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			platform_id TEXT,
			status TEXT NOT NULL DEFAULT 'draft' CHECK(status IN ('draft', 'posted', 'failed')),
			has_image INTEGER NOT NULL DEFAULT 0,
			media_paths TEXT NOT NULL DEFAULT '[]',
			generation_prompt TEXT NOT NULL DEFAULT '',
			posted_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS selectors (
			element_name TEXT PRIMARY KEY,
			locator TEXT NOT NULL,
			failure_count INTEGER NOT NULL DEFAULT 0,
			validation_status TEXT NOT NULL DEFAULT 'unknown' CHECK(validation_status IN ('unknown', 'valid', 'invalid')),
			last_validated DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_processed ON mentions(processed, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status, created_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
