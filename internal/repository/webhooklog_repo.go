package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/leftbrainit/supasaasy/internal/models"
)

// SQLiteWebhookLogRepository implements WebhookLogRepository for SQLite/libsql.
// The table is append-only; rows are never updated.
type SQLiteWebhookLogRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookLogRepository creates a new SQLite webhook log repository.
func NewSQLiteWebhookLogRepository(db *sql.DB) *SQLiteWebhookLogRepository {
	return &SQLiteWebhookLogRepository{db: db}
}

func (r *SQLiteWebhookLogRepository) Insert(ctx context.Context, entry *models.WebhookLog) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var headersJSON sql.NullString
	if len(entry.RequestHeaders) > 0 {
		data, err := json.Marshal(entry.RequestHeaders)
		if err != nil {
			return fmt.Errorf("failed to marshal request headers: %w", err)
		}
		headersJSON = sql.NullString{String: string(data), Valid: true}
	}

	var body sql.NullString
	if len(entry.RequestBody) > 0 {
		body = sql.NullString{String: string(entry.RequestBody), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, app_key, request_method, request_path, request_headers, request_body,
			response_status, response_body, error_message, processing_duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AppKey, entry.RequestMethod, entry.RequestPath, headersJSON, body,
		entry.ResponseStatus, nullString(entry.ResponseBody), nullString(entry.ErrorMessage),
		entry.ProcessingDurationMs, entry.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookLogRepository) GetByAppKey(ctx context.Context, appKey string, limit, offset int) ([]*models.WebhookLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, app_key, request_method, request_path, request_headers, request_body,
			response_status, response_body, error_message, processing_duration_ms, created_at
		FROM webhook_logs WHERE app_key = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, appKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		var l models.WebhookLog
		var headers, body, responseBody, errorMessage sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.AppKey, &l.RequestMethod, &l.RequestPath, &headers, &body,
			&l.ResponseStatus, &responseBody, &errorMessage, &l.ProcessingDurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook log: %w", err)
		}
		if headers.Valid {
			_ = json.Unmarshal([]byte(headers.String), &l.RequestHeaders)
		}
		if body.Valid {
			l.RequestBody = json.RawMessage(body.String)
		}
		l.ResponseBody = responseBody.String
		l.ErrorMessage = errorMessage.String
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
