package rbac

import (
	"context"
	"database/sql"
	"io"
	"os"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/padron/pkg/observability"
)

// OpenTestDB opens a private in-memory sqlite3 database with the role store
// migrations applied. The database is closed when the test ends.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open(DialectSQLite, "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open sqlite3: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	if err := RunMigrations(context.Background(), db, DialectSQLite, logger); err != nil {
		t.Fatalf("failed to migrate sqlite3: %v", err)
	}
	return db
}

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// RequireDatabase connects to the postgres database named by
// TEST_POSTGRES_PRIMARY and applies migrations, or skips the test.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open(DialectPostgres, dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	if err := RunMigrations(context.Background(), db, DialectPostgres, logger); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	return db
}
