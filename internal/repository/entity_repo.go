package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/leftbrainit/supasaasy/internal/models"
)

// SQLiteEntityRepository implements EntityRepository for SQLite/libsql.
type SQLiteEntityRepository struct {
	db *sql.DB
}

// NewSQLiteEntityRepository creates a new SQLite entity repository.
func NewSQLiteEntityRepository(db *sql.DB) *SQLiteEntityRepository {
	return &SQLiteEntityRepository{db: db}
}

// Upsert inserts or updates an entity on the unique triple. The returned
// outcome is exact: on conflict the row keeps its original id, so comparing
// the returned id against the candidate id distinguishes insert from update.
func (r *SQLiteEntityRepository) Upsert(ctx context.Context, e *models.NormalizedEntity) (UpsertOutcome, error) {
	return r.upsert(ctx, r.db, e)
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteEntityRepository) upsert(ctx context.Context, q execQuerier, e *models.NormalizedEntity) (UpsertOutcome, error) {
	if e.ExternalID == "" {
		return "", fmt.Errorf("entity upsert: external_id is required")
	}
	if len(e.RawPayload) == 0 {
		return "", fmt.Errorf("entity upsert: raw_payload is required")
	}

	candidateID := ulid.Make().String()
	// Nanosecond precision so updated_at advances even on immediate replay.
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `
		INSERT INTO entities (id, app_key, collection_key, external_id, api_version, raw_payload, archived_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_key, collection_key, external_id) DO UPDATE SET
			raw_payload = excluded.raw_payload,
			api_version = excluded.api_version,
			archived_at = excluded.archived_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	var rowID string
	err := q.QueryRowContext(ctx, query,
		candidateID,
		e.AppKey,
		e.CollectionKey,
		e.ExternalID,
		nullString(e.APIVersion),
		string(e.RawPayload),
		nullTime(e.ArchivedAt),
		now,
		now,
	).Scan(&rowID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert entity: %w", err)
	}

	if rowID == candidateID {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// UpsertBatch applies Upsert to each element inside one transaction.
// Element failures are recorded per item and do not abort the batch.
func (r *SQLiteEntityRepository) UpsertBatch(ctx context.Context, entities []*models.NormalizedEntity) ([]BatchItemResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	results := make([]BatchItemResult, 0, len(entities))
	for _, e := range entities {
		outcome, err := r.upsert(ctx, tx, e)
		results = append(results, BatchItemResult{ExternalID: e.ExternalID, Outcome: outcome, Err: err})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return results, nil
}

// Delete physically removes an entity row.
func (r *SQLiteEntityRepository) Delete(ctx context.Context, appKey, collectionKey, externalID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM entities WHERE app_key = ? AND collection_key = ? AND external_id = ?",
		appKey, collectionKey, externalID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves a single entity by its triple. Returns nil when absent.
func (r *SQLiteEntityRepository) Get(ctx context.Context, appKey, collectionKey, externalID string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, app_key, collection_key, external_id, api_version, raw_payload, archived_at, deleted_at, created_at, updated_at
		FROM entities
		WHERE app_key = ? AND collection_key = ? AND external_id = ?
	`, appKey, collectionKey, externalID)

	var e models.Entity
	var apiVersion, archivedAt, deletedAt sql.NullString
	var rawPayload, createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.AppKey, &e.CollectionKey, &e.ExternalID, &apiVersion, &rawPayload, &archivedAt, &deletedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	e.APIVersion = apiVersion.String
	e.RawPayload = json.RawMessage(rawPayload)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if archivedAt.Valid {
		t, _ := time.Parse(time.RFC3339, archivedAt.String)
		e.ArchivedAt = &t
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		e.DeletedAt = &t
	}
	return &e, nil
}

// GetExternalIDs returns the set of external IDs stored for a slice.
func (r *SQLiteEntityRepository) GetExternalIDs(ctx context.Context, appKey, collectionKey string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT external_id FROM entities WHERE app_key = ? AND collection_key = ?",
		appKey, collectionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query external ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// GetExternalIDsCreatedAfter returns external IDs whose payload indicates
// creation at or after the threshold. Providers disagree on the field name
// and format, so the known variants are extracted in SQL and interpreted
// here; rows without a recognizable creation timestamp are excluded, which
// keeps them out of reconciliation scope when a sync_from window is active.
func (r *SQLiteEntityRepository) GetExternalIDsCreatedAfter(ctx context.Context, appKey, collectionKey string, unixSeconds int64) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT external_id,
			COALESCE(
				json_extract(raw_payload, '$.created'),
				json_extract(raw_payload, '$.created_at'),
				json_extract(raw_payload, '$.createdAt'),
				json_extract(raw_payload, '$.createdate'),
				json_extract(raw_payload, '$.created_time'),
				''
			)
		FROM entities
		WHERE app_key = ? AND collection_key = ?
	`, appKey, collectionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query external ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id, created string
		if err := rows.Scan(&id, &created); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		ts, ok := parseCreationTimestamp(created)
		if !ok {
			continue
		}
		if ts >= unixSeconds {
			ids[id] = struct{}{}
		}
	}
	return ids, rows.Err()
}

// parseCreationTimestamp interprets a payload creation value as unix
// seconds. Accepts integer/float seconds (Stripe), millisecond epochs
// (HubSpot), and RFC3339 strings (Notion).
func parseCreationTimestamp(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		secs := int64(n)
		// Millisecond epochs are three orders of magnitude larger.
		if secs > 1e12 {
			secs /= 1000
		}
		return secs, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

// Helper functions shared by the SQLite repositories.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
