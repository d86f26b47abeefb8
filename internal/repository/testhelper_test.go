package repository

import (
	"database/sql"
	"testing"

	"github.com/leftbrainit/supasaasy/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be
// cleaned up when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}
