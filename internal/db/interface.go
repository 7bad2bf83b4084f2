package db

import "database/sql"

// Database is the dependency-injection seam repositories and services
// build on, so tests can swap in db.NewTest without touching callers.
type Database interface {
	Conn() *sql.DB
	Close() error
	Migrate() error
}

var _ Database = (*DB)(nil)
