// Package migrations handles database schema migrations.
// Migrations are versioned using timestamps (YYYYMMDD-HHmmss format) and
// tracked in the database so each migration runs exactly once.
package migrations

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Migration represents a single database migration.
type Migration struct {
	// Timestamp in YYYYMMDD-HHmmss format, used for ordering and tracking.
	Timestamp   string
	Description string
	Up          []string // SQL statements to run
}

// registry holds all registered migrations.
var registry []Migration

// Register adds a migration to the registry.
// Called by init() functions in individual migration files.
func Register(m Migration) {
	registry = append(registry, m)
}

// Run executes all pending migrations, creating the tracking table on
// first use.
func Run(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	sort.Slice(registry, func(i, j int) bool {
		return registry[i].Timestamp < registry[j].Timestamp
	})

	for _, m := range registry {
		if applied[m.Timestamp] {
			continue
		}

		logger.Info("running migration", "timestamp", m.Timestamp, "description", m.Description)

		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Timestamp, m.Description, err)
		}
	}

	return nil
}

func getAppliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// runMigration executes a single migration within a transaction.
func runMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.Up {
		if _, err := tx.Exec(stmt); err != nil {
			if isExpectedError(err, stmt) {
				continue
			}
			return fmt.Errorf("failed to execute statement: %w\n%s", err, stmt)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Timestamp, m.Description, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// isExpectedError checks if an error can be ignored. ALTER TABLE ADD
// COLUMN and CREATE INDEX are not idempotent on older libsql servers.
func isExpectedError(err error, stmt string) bool {
	errStr := err.Error()
	if strings.Contains(errStr, "duplicate column") {
		return true
	}
	if strings.Contains(errStr, "already exists") && strings.Contains(stmt, "CREATE INDEX") {
		return true
	}
	return false
}

// GetLatestVersion returns the latest applied migration version, or empty
// string when nothing has been applied.
func GetLatestVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return version.String, nil
}

// GetMigrationCount returns the total number of applied migrations.
func GetMigrationCount(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
