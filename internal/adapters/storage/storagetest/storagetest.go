// Package storagetest opens migrated in-memory databases for store tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"welfare/internal/adapters/storage"
)

// Open returns a migrated in-memory SQLite database pinned to one connection.
// PRE: called from a test
// POST: database is closed when the test finishes
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := storage.MigrateDB(context.Background(), db, storage.DialectSQLite); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
