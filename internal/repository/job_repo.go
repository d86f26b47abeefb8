package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leftbrainit/supasaasy/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite/libsql.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func (r *SQLiteJobRepository) CreateJob(ctx context.Context, job *models.SyncJob) error {
	resourceTypes, err := json.Marshal(job.ResourceTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal resource types: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, app_key, mode, resource_types, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.AppKey, string(job.Mode), string(resourceTypes), string(job.Status), job.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) AddTask(ctx context.Context, task *models.SyncJobTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_job_tasks (id, job_id, resource_type, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, task.ID, task.JobID, task.ResourceType, string(task.Status), task.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	return nil
}

const jobColumns = `id, app_key, mode, resource_types, status,
	created_count, updated_count, deleted_count, error_count, error_messages,
	created_at, started_at, finished_at`

func (r *SQLiteJobRepository) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs WHERE id = ?", id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	var mode, status, resourceTypes, createdAt string
	var errorMessages, startedAt, finishedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.AppKey, &mode, &resourceTypes, &status,
		&job.Counters.Created, &job.Counters.Updated, &job.Counters.Deleted, &job.Counters.Errors,
		&errorMessages, &createdAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Mode = models.SyncMode(mode)
	job.Status = models.SyncStatus(status)
	_ = json.Unmarshal([]byte(resourceTypes), &job.ResourceTypes)
	if errorMessages.Valid {
		_ = json.Unmarshal([]byte(errorMessages.String), &job.ErrorMessages)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

const taskColumns = `id, job_id, resource_type, status,
	created_count, updated_count, deleted_count, error_count, error_messages, cursor,
	created_at, started_at, finished_at`

func (r *SQLiteJobRepository) GetTasks(ctx context.Context, jobID string) ([]*models.SyncJobTask, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM sync_job_tasks WHERE job_id = ? ORDER BY created_at ASC, id ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncJobTask
	for rows.Next() {
		task, err := scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTaskFromRows(rows *sql.Rows) (*models.SyncJobTask, error) {
	var task models.SyncJobTask
	var status, createdAt string
	var errorMessages, cursor, startedAt, finishedAt sql.NullString

	err := rows.Scan(
		&task.ID, &task.JobID, &task.ResourceType, &status,
		&task.Counters.Created, &task.Counters.Updated, &task.Counters.Deleted, &task.Counters.Errors,
		&errorMessages, &cursor, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Status = models.SyncStatus(status)
	if errorMessages.Valid {
		_ = json.Unmarshal([]byte(errorMessages.String), &task.ErrorMessages)
	}
	task.Cursor = cursor.String
	task.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		task.FinishedAt = &t
	}
	return &task, nil
}

func (r *SQLiteJobRepository) MarkJobRunning(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ? AND status = ?",
		string(models.SyncStatusRunning), now, id, string(models.SyncStatusQueued),
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// ClaimQueuedTask atomically claims the oldest queued task using
// UPDATE ... RETURNING, which avoids a SELECT-then-UPDATE race when
// several workers drain the queue.
func (r *SQLiteJobRepository) ClaimQueuedTask(ctx context.Context) (*models.SyncJobTask, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339)
	row := tx.QueryRowContext(ctx, `
		UPDATE sync_job_tasks
		SET status = 'running', started_at = ?
		WHERE id = (
			SELECT id FROM sync_job_tasks
			WHERE status = 'queued'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+taskColumns, now)

	var task models.SyncJobTask
	var status, createdAt string
	var errorMessages, cursor, startedAt, finishedAt sql.NullString
	err = row.Scan(
		&task.ID, &task.JobID, &task.ResourceType, &status,
		&task.Counters.Created, &task.Counters.Updated, &task.Counters.Deleted, &task.Counters.Errors,
		&errorMessages, &cursor, &createdAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		// Empty queue is the normal case, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	committed = true

	task.Status = models.SyncStatus(status)
	if errorMessages.Valid {
		_ = json.Unmarshal([]byte(errorMessages.String), &task.ErrorMessages)
	}
	task.Cursor = cursor.String
	task.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		task.StartedAt = &t
	}
	return &task, nil
}

func (r *SQLiteJobRepository) CompleteTask(ctx context.Context, taskID string, status models.SyncStatus, counters models.SyncCounters, errMsgs []string, cursor string) error {
	var errorMessages sql.NullString
	if len(errMsgs) > 0 {
		data, err := json.Marshal(errMsgs)
		if err != nil {
			return fmt.Errorf("failed to marshal error messages: %w", err)
		}
		errorMessages = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_job_tasks
		SET status = ?, created_count = ?, updated_count = ?, deleted_count = ?, error_count = ?,
			error_messages = ?, cursor = ?, finished_at = ?
		WHERE id = ?
	`, string(status), counters.Created, counters.Updated, counters.Deleted, counters.Errors,
		errorMessages, nullString(cursor), now, taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// CompleteJob derives the job status from its tasks and rolls up their
// counters. A job with non-terminal tasks is left untouched.
func (r *SQLiteJobRepository) CompleteJob(ctx context.Context, jobID string) error {
	tasks, err := r.GetTasks(ctx, jobID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return nil
		}
	}

	var counters models.SyncCounters
	var errMsgs []string
	for _, t := range tasks {
		counters.Add(t.Counters)
		errMsgs = append(errMsgs, t.ErrorMessages...)
	}
	status := models.DeriveJobStatus(tasks)

	var errorMessages sql.NullString
	if len(errMsgs) > 0 {
		data, err := json.Marshal(errMsgs)
		if err != nil {
			return fmt.Errorf("failed to marshal error messages: %w", err)
		}
		errorMessages = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = ?, created_count = ?, updated_count = ?, deleted_count = ?, error_count = ?,
			error_messages = ?, finished_at = ?
		WHERE id = ?
	`, string(status), counters.Created, counters.Updated, counters.Deleted, counters.Errors,
		errorMessages, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) CountActiveByAppKey(ctx context.Context, appKey string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_jobs WHERE app_key = ? AND status IN ('queued', 'running')",
		appKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// CountActive counts queued or running jobs across all apps.
func (r *SQLiteJobRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_jobs WHERE status IN ('queued', 'running')",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// RequeueStaleRunningTasks resets tasks left running by a previous server
// run. Tasks are idempotent, so re-queueing is safe.
func (r *SQLiteJobRepository) RequeueStaleRunningTasks(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_job_tasks
		SET status = 'queued', started_at = NULL
		WHERE status = 'running' AND started_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale tasks: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}
