package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

// JobHandler serves job inspection and admin read endpoints.
type JobHandler struct {
	jobs     repository.JobRepository
	logs     repository.WebhookLogRepository
	registry *connector.Registry
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobs repository.JobRepository, logs repository.WebhookLogRepository, registry *connector.Registry) *JobHandler {
	return &JobHandler{jobs: jobs, logs: logs, registry: registry}
}

// GetJobInput identifies a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job identifier (ULID)"`
}

// GetJobOutput is the job detail response.
type GetJobOutput struct {
	Body models.SyncJob
}

// GetJob returns one sync job.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.jobs.GetJob(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	return &GetJobOutput{Body: *job}, nil
}

// GetJobTasksInput identifies a job whose tasks are requested.
type GetJobTasksInput struct {
	ID string `path:"id" doc:"Job identifier (ULID)"`
}

// GetJobTasksOutput lists a job's tasks.
type GetJobTasksOutput struct {
	Body struct {
		Tasks []*models.SyncJobTask `json:"tasks"`
	}
}

// GetJobTasks returns the per-resource tasks of a job.
func (h *JobHandler) GetJobTasks(ctx context.Context, input *GetJobTasksInput) (*GetJobTasksOutput, error) {
	job, err := h.jobs.GetJob(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	tasks, err := h.jobs.GetTasks(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load tasks")
	}
	out := &GetJobTasksOutput{}
	out.Body.Tasks = tasks
	return out, nil
}

// ListWebhookLogsInput selects an app's webhook log page.
type ListWebhookLogsInput struct {
	AppKey string `path:"app_key" doc:"App key"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Page size"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
}

// ListWebhookLogsOutput lists webhook log entries, newest first.
type ListWebhookLogsOutput struct {
	Body struct {
		Logs []*models.WebhookLog `json:"logs"`
	}
}

// ListWebhookLogs returns recent webhook request/response pairs for an
// app. Header values were redacted before storage.
func (h *JobHandler) ListWebhookLogs(ctx context.Context, input *ListWebhookLogsInput) (*ListWebhookLogsOutput, error) {
	logs, err := h.logs.GetByAppKey(ctx, input.AppKey, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load webhook logs")
	}
	out := &ListWebhookLogsOutput{}
	out.Body.Logs = logs
	return out, nil
}

// ListConnectorsOutput lists registered connectors.
type ListConnectorsOutput struct {
	Body struct {
		Connectors []connector.Metadata `json:"connectors"`
	}
}

// ListConnectors returns metadata for every registered connector.
func (h *JobHandler) ListConnectors(ctx context.Context, _ *struct{}) (*ListConnectorsOutput, error) {
	out := &ListConnectorsOutput{}
	for _, name := range h.registry.Names() {
		conn, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		out.Body.Connectors = append(out.Body.Connectors, conn.Metadata())
	}
	return out, nil
}
