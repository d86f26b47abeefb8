// Package routes wires handlers to API paths.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/leftbrainit/supasaasy/internal/http/handlers"
	"github.com/leftbrainit/supasaasy/internal/http/mw"
)

// RegisterPublic registers endpoints that need no authentication.
func RegisterPublic(api huma.API, h *handlers.Handlers) {
	mw.PublicGet(api, "/api/v1/health", h.Health.Health,
		mw.WithTags("System"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("health"))
}

// RegisterProtected registers admin read endpoints. The caller mounts
// these behind bearer-auth middleware; the raw webhook and sync
// handlers are mounted directly on the chi router.
func RegisterProtected(api huma.API, h *handlers.Handlers) {
	mw.ProtectedGet(api, "/api/v1/jobs/{id}", h.Job.GetJob,
		mw.WithTags("Jobs"),
		mw.WithSummary("Get sync job"),
		mw.WithOperationID("getJob"))
	mw.ProtectedGet(api, "/api/v1/jobs/{id}/tasks", h.Job.GetJobTasks,
		mw.WithTags("Jobs"),
		mw.WithSummary("Get sync job tasks"),
		mw.WithOperationID("getJobTasks"))
	mw.ProtectedGet(api, "/api/v1/apps/{app_key}/webhook-logs", h.Job.ListWebhookLogs,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhook logs"),
		mw.WithOperationID("listWebhookLogs"))
	mw.ProtectedGet(api, "/api/v1/connectors", h.Job.ListConnectors,
		mw.WithTags("Connectors"),
		mw.WithSummary("List connectors"),
		mw.WithOperationID("listConnectors"))
}
