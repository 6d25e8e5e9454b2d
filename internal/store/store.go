// Package store persists repositories, workspaces, credentials and settings
// in a SQLite database. Timestamps are milliseconds since epoch throughout.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned for uniqueness violations (duplicate repository
	// URL, duplicate workspace directory name).
	ErrConflict = errors.New("record conflicts with an existing one")
)

// Store wraps the SQLite database handle.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('https', 'ssh')),
		label TEXT,
		username TEXT,
		secret_enc TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		credential_id TEXT REFERENCES credentials(id),
		default_branch TEXT,
		mirror_path TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'syncing',
		sync_error TEXT,
		last_sync_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		root_path TEXT NOT NULL,
		terminal_credential_id TEXT REFERENCES credentials(id),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspace_repos (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		repo_id TEXT NOT NULL REFERENCES repositories(id),
		dir_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (workspace_id, dir_name)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_default_host
		ON credentials(host) WHERE is_default;
	CREATE INDEX IF NOT EXISTS idx_credentials_host ON credentials(host);
	CREATE INDEX IF NOT EXISTS idx_workspace_repos_repo ON workspace_repos(repo_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}
	return nil
}

// nowMillis returns the current time in milliseconds since epoch.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
