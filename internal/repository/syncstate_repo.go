package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteSyncStateRepository implements SyncStateRepository for SQLite/libsql.
type SQLiteSyncStateRepository struct {
	db *sql.DB
}

// NewSQLiteSyncStateRepository creates a new SQLite sync state repository.
func NewSQLiteSyncStateRepository(db *sql.DB) *SQLiteSyncStateRepository {
	return &SQLiteSyncStateRepository{db: db}
}

// GetLastSynced returns the stored watermark, or nil if the collection has
// never synced.
func (r *SQLiteSyncStateRepository) GetLastSynced(ctx context.Context, appKey, collectionKey string) (*time.Time, error) {
	var lastSynced string
	err := r.db.QueryRowContext(ctx,
		"SELECT last_synced_at FROM sync_state WHERE app_key = ? AND collection_key = ?",
		appKey, collectionKey,
	).Scan(&lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	t, err := time.Parse(time.RFC3339, lastSynced)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_synced_at: %w", err)
	}
	return &t, nil
}

// SetLastSynced upserts the watermark and stamps the success time.
func (r *SQLiteSyncStateRepository) SetLastSynced(ctx context.Context, appKey, collectionKey string, t time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (app_key, collection_key, last_synced_at, last_success_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(app_key, collection_key) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			last_success_at = excluded.last_success_at
	`, appKey, collectionKey, t.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}
