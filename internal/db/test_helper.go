package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// TestDB is a throwaway, migrated SQLite database rooted in a test's
// temp directory. It satisfies Database so repository tests can build
// against it exactly as they would against a production DB.
type TestDB struct {
	db *DB
}

// NewTest creates a migrated test database under tb's TempDir.
func NewTest(tb testing.TB) (*TestDB, error) {
	tempDir := tb.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	database, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(database.conn); err != nil {
		database.Close()
		return nil, err
	}

	return &TestDB{db: database}, nil
}

func (tdb *TestDB) Conn() *sql.DB { return tdb.db.conn }
func (tdb *TestDB) Close() error  { return tdb.db.Close() }
func (tdb *TestDB) Migrate() error {
	return RunMigrations(tdb.db.conn)
}
