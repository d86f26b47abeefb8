// Package handlers implements the HTTP surface: raw handlers for the
// webhook and sync endpoints, where body caps and signature verification
// need the unmodified request, and huma typed endpoints for the rest.
package handlers

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/ratelimit"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
	"github.com/leftbrainit/supasaasy/internal/worker"
)

// Handlers bundles all HTTP handlers with their shared dependencies.
type Handlers struct {
	Webhook *WebhookHandler
	Sync    *SyncHandler
	Job     *JobHandler
	Health  *HealthHandler
}

// New creates all handlers.
func New(
	cfg *config.Config,
	apps *config.AppsFile,
	registry *connector.Registry,
	repos *repository.Repositories,
	runner *syncengine.Runner,
	wrk *worker.Worker,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		Webhook: NewWebhookHandler(cfg, apps, registry, repos, limiter, logger),
		Sync:    NewSyncHandler(cfg, registry, repos, runner, wrk, limiter, logger),
		Job:     NewJobHandler(repos.Job, repos.WebhookLog, registry),
		Health:  NewHealthHandler(),
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"error":"Internal server error"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// retryAfterSeconds renders a wait duration as whole seconds for the
// Retry-After header, rounding up so clients never retry early.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// redactHeaders flattens request headers for storage, replacing values
// of authorization, cookie, and any signature-bearing header.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if lower == "authorization" || lower == "cookie" || strings.Contains(lower, "signature") {
			out[name] = "[REDACTED]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}
