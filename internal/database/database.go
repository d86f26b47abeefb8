// Package database handles database connections and migrations.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tursodatabase/go-libsql"

	"github.com/leftbrainit/supasaasy/internal/database/migrations"
)

// New opens a libsql database connection. Three layouts are supported:
// a plain local file (DATABASE_URL="file:supasaasy.db"), an embedded
// replica synced with Turso cloud (set TURSO_URL and TURSO_AUTH_TOKEN),
// or a libsql server URL.
func New(dsn string) (*sql.DB, error) {
	tursoURL := os.Getenv("TURSO_URL")
	tursoToken := os.Getenv("TURSO_AUTH_TOKEN")

	var db *sql.DB

	if tursoURL != "" && tursoToken != "" {
		// Embedded replica mode: local file synced with remote Turso
		dbPath := strings.TrimPrefix(dsn, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, tursoURL,
			libsql.WithAuthToken(tursoToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		var err error
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate runs database migrations.
func Migrate(db *sql.DB) error {
	return MigrateWithLogger(db, nil)
}

// MigrateWithLogger runs database migrations with a custom logger.
func MigrateWithLogger(db *sql.DB, logger *slog.Logger) error {
	return migrations.Run(db, logger)
}

// GetLatestSchemaVersion returns the latest applied migration version.
func GetLatestSchemaVersion(db *sql.DB) (string, error) {
	return migrations.GetLatestVersion(db)
}

// GetMigrationCount returns the number of applied migrations.
func GetMigrationCount(db *sql.DB) (int, error) {
	return migrations.GetMigrationCount(db)
}
