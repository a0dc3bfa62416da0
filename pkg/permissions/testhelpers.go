package permissions

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SkipIfNoDatabase skips the test unless TEST_POSTGRES_PRIMARY is set.
// Lets the database-backed tests run in CI and skip on undeveloped machines.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set")
	}
	return dbURL
}

// RequireDatabase opens the test database or skips the test.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	return db
}
