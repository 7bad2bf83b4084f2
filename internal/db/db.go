// Package db owns the embedded relational store: connection setup,
// pragmas, and schema migrations. All reads and writes elsewhere go
// through internal/db/repositories, never through raw SQL in callers.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection pool tuned for one-writer/many-reader
// concurrent access from the orchestrator's own goroutines.
type DB struct {
	conn *sql.DB
	path string
}

// New opens (creating if necessary) a local SQLite database file at
// databaseURL, retrying the initial connection with backoff to ride
// out a database that's momentarily locked by another process.
func New(databaseURL string) (*DB, error) {
	dbDir := filepath.Dir(databaseURL)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	var conn *sql.DB
	var err error

	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
			}
			conn.Close()
			delay := baseDelay * time.Duration(1<<uint(attempt))
			time.Sleep(delay)
			continue
		}
		break
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{conn: conn, path: databaseURL}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for repositories to build on.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the filesystem path backing this database.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies any unapplied migrations.
func (db *DB) Migrate() error {
	return RunMigrations(db.conn)
}
