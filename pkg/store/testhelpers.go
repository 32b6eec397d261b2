package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// newSQLiteStore opens an in-memory SQLite database with the full schema
// applied. A single connection keeps the :memory: database alive for the
// lifetime of the test.
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStore(db)
}

// newPostgresStore connects to the database named by TEST_POSTGRES_PRIMARY
// and applies the schema. Tests calling it are skipped when the variable is
// unset so the suite runs without external services.
func newPostgresStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_PRIMARY not set; skipping postgres-backed test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStore(db)
}
