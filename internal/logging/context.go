package logging

import (
	"context"
	"log/slog"
)

// ContextKey is the type used for logging-related context values.
type ContextKey string

// JobIDKey carries the sync job ID through a context so log lines
// emitted while processing that job can be correlated.
const JobIDKey ContextKey = "log_job_id"

// WithJobID returns a new context carrying the given job ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetJobID returns the job ID stored in the context, or "" if none is set.
func GetJobID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(JobIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the logger enriched with any job ID present in the
// context. With no job ID (or a nil context) the original logger is
// returned unchanged.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if id := GetJobID(ctx); id != "" {
		return logger.With("job_id", id)
	}
	return logger
}
