// Package repository defines repository interfaces for data access.
// The entity repository exclusively owns entity rows; everything else
// mutates entities only through its upsert/delete operations.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/leftbrainit/supasaasy/internal/models"
)

// UpsertOutcome discriminates whether an upsert inserted or replaced.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// BatchItemResult is the per-element outcome of an UpsertBatch call.
type BatchItemResult struct {
	ExternalID string
	Outcome    UpsertOutcome
	Err        error
}

// EntityRepository defines methods for canonical entity persistence.
type EntityRepository interface {
	// Upsert inserts or updates on the unique triple. On conflict it
	// replaces raw_payload, api_version, and archived_at, and bumps
	// updated_at.
	Upsert(ctx context.Context, e *models.NormalizedEntity) (UpsertOutcome, error)
	// UpsertBatch applies Upsert semantics to each element inside one
	// transaction; per-element failures are reported element-wise.
	UpsertBatch(ctx context.Context, entities []*models.NormalizedEntity) ([]BatchItemResult, error)
	// Delete physically removes a row; returns whether one existed.
	Delete(ctx context.Context, appKey, collectionKey, externalID string) (bool, error)
	Get(ctx context.Context, appKey, collectionKey, externalID string) (*models.Entity, error)
	// GetExternalIDs returns the set of external IDs stored for a slice.
	GetExternalIDs(ctx context.Context, appKey, collectionKey string) (map[string]struct{}, error)
	// GetExternalIDsCreatedAfter returns the subset whose raw_payload
	// indicates creation at or after the unix-seconds threshold. Rows
	// whose payload carries no creation timestamp are excluded, which
	// keeps them out of reconciliation scope.
	GetExternalIDsCreatedAfter(ctx context.Context, appKey, collectionKey string, unixSeconds int64) (map[string]struct{}, error)
}

// SyncStateRepository persists the per-collection sync watermark.
type SyncStateRepository interface {
	// GetLastSynced returns nil when the collection has never synced,
	// which forces full-sync semantics in the caller.
	GetLastSynced(ctx context.Context, appKey, collectionKey string) (*time.Time, error)
	// SetLastSynced upserts the watermark and records the success time.
	// Called only on per-resource success.
	SetLastSynced(ctx context.Context, appKey, collectionKey string, t time.Time) error
}

// JobRepository persists sync jobs and their per-resource tasks.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.SyncJob) error
	AddTask(ctx context.Context, task *models.SyncJobTask) error
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	GetTasks(ctx context.Context, jobID string) ([]*models.SyncJobTask, error)
	MarkJobRunning(ctx context.Context, id string) error
	// ClaimQueuedTask atomically claims the oldest queued task and marks
	// it running. Returns nil when the queue is empty.
	ClaimQueuedTask(ctx context.Context) (*models.SyncJobTask, error)
	// CompleteTask records counters, errors, and the cursor checkpoint,
	// transitioning the task to succeeded or failed.
	CompleteTask(ctx context.Context, taskID string, status models.SyncStatus, counters models.SyncCounters, errMsgs []string, cursor string) error
	// CompleteJob derives the job status from its tasks and sums their
	// counters. No-op unless every task is terminal.
	CompleteJob(ctx context.Context, jobID string) error
	// CountActiveByAppKey counts queued or running jobs for an app.
	CountActiveByAppKey(ctx context.Context, appKey string) (int, error)
	// CountActive counts queued or running jobs across all apps.
	CountActive(ctx context.Context) (int, error)
	// RequeueStaleRunningTasks re-queues tasks stuck in running longer
	// than maxAge. Safe because task execution is idempotent.
	RequeueStaleRunningTasks(ctx context.Context, maxAge time.Duration) (int64, error)
}

// WebhookLogRepository persists the append-only webhook log.
// Insert failures must never affect the enclosing webhook response.
type WebhookLogRepository interface {
	Insert(ctx context.Context, entry *models.WebhookLog) error
	GetByAppKey(ctx context.Context, appKey string, limit, offset int) ([]*models.WebhookLog, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Entity     EntityRepository
	SyncState  SyncStateRepository
	Job        JobRepository
	WebhookLog WebhookLogRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Entity:     NewSQLiteEntityRepository(db),
		SyncState:  NewSQLiteSyncStateRepository(db),
		Job:        NewSQLiteJobRepository(db),
		WebhookLog: NewSQLiteWebhookLogRepository(db),
	}
}
