package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/http/mw"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/ratelimit"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
	"github.com/leftbrainit/supasaasy/internal/worker"
)

// SyncHandler triggers sync runs. Raw HTTP handler because admission
// ordering and the body cap need direct request control.
type SyncHandler struct {
	cfg      *config.Config
	registry *connector.Registry
	jobs     repository.JobRepository
	runner   *syncengine.Runner
	worker   *worker.Worker
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(
	cfg *config.Config,
	registry *connector.Registry,
	repos *repository.Repositories,
	runner *syncengine.Runner,
	wrk *worker.Worker,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *SyncHandler {
	return &SyncHandler{
		cfg:      cfg,
		registry: registry,
		jobs:     repos.Job,
		runner:   runner,
		worker:   wrk,
		limiter:  limiter,
		logger:   logger.With("component", "sync"),
	}
}

// syncRequest is the POST /sync body.
type syncRequest struct {
	AppKey        string   `json:"app_key"`
	Mode          string   `json:"mode,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty"`
}

// HandleSync processes POST /sync.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	token := mw.BearerToken(r)
	if !mw.ValidAdminToken(token, h.cfg.AdminAPIKey) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !config.ValidAppKey(req.AppKey) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "app_key: invalid format"})
		return
	}

	mode := models.SyncModeIncremental
	switch req.Mode {
	case "", string(models.SyncModeIncremental):
	case string(models.SyncModeFull):
		mode = models.SyncModeFull
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("mode: must be %q or %q", models.SyncModeFull, models.SyncModeIncremental)})
		return
	}

	if res := h.limiter.Check("sync:"+token, h.cfg.SyncRateLimit); !res.Allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	conn, app, err := h.registry.ForApp(req.AppKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "app_key: unknown app"})
		return
	}

	if validation := conn.ValidateConfig(app, h.cfg.IsProduction()); !validation.OK() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid app configuration", "details": validation.Errors})
		return
	}

	resourceTypes := syncengine.ResolveResources(conn, app, req.ResourceTypes)
	for _, rt := range resourceTypes {
		if conn.Metadata().Resource(rt) == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("resource_types: %q is not supported by connector %s", rt, conn.Metadata().Name)})
			return
		}
	}

	if h.cfg.InlineSync {
		h.runInline(w, r.Context(), conn, app, mode, resourceTypes)
		return
	}
	h.enqueue(w, req.AppKey, mode, resourceTypes)
}

// runInline executes the sync in the request and responds with the
// aggregated result.
func (h *SyncHandler) runInline(w http.ResponseWriter, ctx context.Context, conn connector.Connector, app *config.AppConfig, mode models.SyncMode, resourceTypes []string) {
	agg := &models.SyncResult{Success: true}
	for _, rt := range resourceTypes {
		result, err := h.runner.RunResource(ctx, conn, app, rt, mode, connector.SyncOptions{})
		if result != nil {
			agg.Created += result.Created
			agg.Updated += result.Updated
			agg.Deleted += result.Deleted
			agg.Errors += result.Errors
			agg.ErrorMessages = append(agg.ErrorMessages, result.ErrorMessages...)
			agg.DurationMs += result.DurationMs
		}
		if err != nil {
			agg.Success = false
			h.logger.Error("inline sync failed", "app_key", app.AppKey, "resource_type", rt, "error", err)
		}
	}
	if agg.Errors > 0 {
		agg.Success = false
	}
	h.logger.Info("inline sync finished",
		"app_key", app.AppKey,
		"mode", string(mode),
		"created", agg.Created,
		"updated", agg.Updated,
		"deleted", agg.Deleted,
		"errors", agg.Errors)
	writeJSON(w, http.StatusOK, agg)
}

// enqueue creates a durable job with one task per resource type and
// responds 202.
func (h *SyncHandler) enqueue(w http.ResponseWriter, appKey string, mode models.SyncMode, resourceTypes []string) {
	ctx := context.Background()
	now := time.Now().UTC()
	job := &models.SyncJob{
		ID:            ulid.Make().String(),
		AppKey:        appKey,
		Mode:          mode,
		ResourceTypes: resourceTypes,
		Status:        models.SyncStatusQueued,
		CreatedAt:     now,
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error("failed to create sync job", "app_key", appKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	for _, rt := range resourceTypes {
		task := &models.SyncJobTask{
			ID:           ulid.Make().String(),
			JobID:        job.ID,
			ResourceType: rt,
			Status:       models.SyncStatusQueued,
			CreatedAt:    now,
		}
		if err := h.jobs.AddTask(ctx, task); err != nil {
			h.logger.Error("failed to create sync task", "job_id", job.ID, "resource_type", rt, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
	}

	h.logger.Info("enqueued sync job", "app_key", appKey, "job_id", job.ID, "mode", string(mode), "resource_types", strings.Join(resourceTypes, ","))

	if h.worker != nil {
		go func() {
			for {
				processed, err := h.worker.ProcessOne(context.Background())
				if err != nil || !processed {
					return
				}
			}
		}()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
