package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// DB represents a database connection
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the store at path
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// single writer
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, path: path}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			name TEXT PRIMARY KEY,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			digest TEXT NOT NULL,
			modified INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS file_contents (
			name TEXT PRIMARY KEY REFERENCES files(name) ON DELETE CASCADE,
			content BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS remote_files (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			mime_type TEXT,
			size_bytes INTEGER,
			uri TEXT,
			created_at INTEGER,
			updated_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			title TEXT,
			subtitle TEXT,
			slug TEXT,
			type TEXT,
			audience TEXT,
			published INTEGER,
			post_date INTEGER,
			email_sent_at INTEGER,
			word_count INTEGER,
			delivered INTEGER,
			opens INTEGER,
			unique_opens INTEGER
		);
		CREATE TABLE IF NOT EXISTS subscribers (
			email TEXT PRIMARY KEY,
			active INTEGER,
			plan TEXT,
			email_disabled INTEGER,
			created_at INTEGER,
			first_payment_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS opens (
			post_id TEXT NOT NULL,
			email TEXT,
			timestamp INTEGER,
			country TEXT,
			device TEXT,
			client TEXT
		);
		CREATE TABLE IF NOT EXISTS deliveries (
			post_id TEXT NOT NULL,
			email TEXT,
			timestamp INTEGER
		);
		CREATE TABLE IF NOT EXISTS raw_files (
			name TEXT PRIMARY KEY,
			content BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS context_docs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_remote_files_name ON remote_files(display_name);
		CREATE INDEX IF NOT EXISTS idx_opens_post ON opens(post_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_post ON deliveries(post_id);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	_, err = db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion))
	return err
}

// withTx runs fn in a transaction, rolling back on error
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// toMillis stores the zero time as 0 so it survives a round trip
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// blob keeps empty content from binding as NULL
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
