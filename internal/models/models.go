// Package models defines the domain models for the ingestion layer.
// Entities are canonical copies of upstream SaaS records, keyed by the
// unique (app_key, collection_key, external_id) triple.
package models

import (
	"encoding/json"
	"time"
)

// Entity represents one persisted upstream record.
type Entity struct {
	ID            string          `json:"id"`
	AppKey        string          `json:"app_key"`
	CollectionKey string          `json:"collection_key"`
	ExternalID    string          `json:"external_id"`
	APIVersion    string          `json:"api_version,omitempty"`
	RawPayload    json.RawMessage `json:"raw_payload"`
	ArchivedAt    *time.Time      `json:"archived_at,omitempty"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NormalizedEntity is a connector's output shape, matching the entity
// columns. It is never persisted directly; the entity repository assigns
// the server-side fields on upsert.
type NormalizedEntity struct {
	ExternalID    string          `json:"external_id"`
	AppKey        string          `json:"app_key"`
	CollectionKey string          `json:"collection_key"`
	APIVersion    string          `json:"api_version,omitempty"`
	RawPayload    json.RawMessage `json:"raw_payload"`
	ArchivedAt    *time.Time      `json:"archived_at,omitempty"`
}

// WebhookEventType classifies a parsed webhook event.
type WebhookEventType string

const (
	EventCreate  WebhookEventType = "create"
	EventUpdate  WebhookEventType = "update"
	EventDelete  WebhookEventType = "delete"
	EventArchive WebhookEventType = "archive"
)

// ParsedWebhookEvent is the provider-agnostic form of a webhook payload.
type ParsedWebhookEvent struct {
	EventType         WebhookEventType `json:"event_type"`
	OriginalEventType string           `json:"original_event_type"`
	ResourceType      string           `json:"resource_type"`
	ExternalID        string           `json:"external_id"`
	Data              json.RawMessage  `json:"data"`
	Timestamp         time.Time        `json:"timestamp"`
	Provider          string           `json:"provider"`
}

// SyncMode selects between a full pull and a watermark-bounded pull.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncStatus is the shared status lattice for jobs and tasks.
type SyncStatus string

const (
	SyncStatusQueued             SyncStatus = "queued"
	SyncStatusRunning            SyncStatus = "running"
	SyncStatusSucceeded          SyncStatus = "succeeded"
	SyncStatusFailed             SyncStatus = "failed"
	SyncStatusPartiallySucceeded SyncStatus = "partially_succeeded"
)

// Terminal reports whether a status is final.
func (s SyncStatus) Terminal() bool {
	switch s {
	case SyncStatusSucceeded, SyncStatusFailed, SyncStatusPartiallySucceeded:
		return true
	}
	return false
}

// SyncCounters aggregates the outcome of upserts and deletes.
type SyncCounters struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// Add accumulates another set of counters.
func (c *SyncCounters) Add(o SyncCounters) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Deleted += o.Deleted
	c.Errors += o.Errors
}

// SyncResult is the outcome of one sync pass over a collection.
type SyncResult struct {
	Success       bool     `json:"success"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
	NextCursor    string   `json:"next_cursor,omitempty"`
	HasMore       bool     `json:"has_more"`
	DurationMs    int64    `json:"duration_ms"`
}

// Counters returns the result's counters as a SyncCounters value.
func (r *SyncResult) Counters() SyncCounters {
	return SyncCounters{Created: r.Created, Updated: r.Updated, Deleted: r.Deleted, Errors: r.Errors}
}

// SyncJob is a durable sync request covering one or more resource types.
type SyncJob struct {
	ID            string       `json:"id"`
	AppKey        string       `json:"app_key"`
	Mode          SyncMode     `json:"mode"`
	ResourceTypes []string     `json:"resource_types"`
	Status        SyncStatus   `json:"status"`
	Counters      SyncCounters `json:"counters"`
	ErrorMessages []string     `json:"error_messages,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// SyncJobTask is the per-resource unit of work within a job.
type SyncJobTask struct {
	ID            string       `json:"id"`
	JobID         string       `json:"job_id"`
	ResourceType  string       `json:"resource_type"`
	Status        SyncStatus   `json:"status"`
	Counters      SyncCounters `json:"counters"`
	ErrorMessages []string     `json:"error_messages,omitempty"`
	Cursor        string       `json:"cursor,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// SyncState stores the per-collection watermark.
type SyncState struct {
	AppKey        string     `json:"app_key"`
	CollectionKey string     `json:"collection_key"`
	LastSyncedAt  time.Time  `json:"last_synced_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// WebhookLog is an append-only record of a webhook request/response pair.
// Sensitive header values are redacted before the entry is created.
type WebhookLog struct {
	ID                   string            `json:"id"`
	AppKey               string            `json:"app_key"`
	RequestMethod        string            `json:"request_method"`
	RequestPath          string            `json:"request_path"`
	RequestHeaders       map[string]string `json:"request_headers,omitempty"`
	RequestBody          json.RawMessage   `json:"request_body,omitempty"`
	ResponseStatus       int               `json:"response_status"`
	ResponseBody         string            `json:"response_body,omitempty"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	ProcessingDurationMs int64             `json:"processing_duration_ms"`
	CreatedAt            time.Time         `json:"created_at"`
}

// DeriveJobStatus computes a job's terminal status from its tasks:
// failed iff every task failed, succeeded iff every task succeeded,
// otherwise partially_succeeded.
func DeriveJobStatus(tasks []*SyncJobTask) SyncStatus {
	if len(tasks) == 0 {
		return SyncStatusSucceeded
	}
	failed, succeeded := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case SyncStatusFailed:
			failed++
		case SyncStatusSucceeded:
			succeeded++
		}
	}
	switch {
	case failed == len(tasks):
		return SyncStatusFailed
	case succeeded == len(tasks):
		return SyncStatusSucceeded
	default:
		return SyncStatusPartiallySucceeded
	}
}
