package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/ratelimit"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

// WebhookHandler ingests provider webhooks. This is a raw HTTP handler
// since signature verification needs the unmodified body bytes.
type WebhookHandler struct {
	cfg      *config.Config
	apps     *config.AppsFile
	registry *connector.Registry
	entities repository.EntityRepository
	logs     repository.WebhookLogRepository
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(
	cfg *config.Config,
	apps *config.AppsFile,
	registry *connector.Registry,
	repos *repository.Repositories,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		apps:     apps,
		registry: registry,
		entities: repos.Entity,
		logs:     repos.WebhookLog,
		limiter:  limiter,
		logger:   logger.With("component", "webhook"),
	}
}

// webhookResponseBody is the success response for an ingested event.
type webhookResponseBody struct {
	OK         bool   `json:"ok"`
	EventType  string `json:"event_type"`
	ExternalID string `json:"external_id,omitempty"`
}

// HandleWebhook processes POST /webhook/{app_key}. Admission checks run
// in a fixed order and the first failure responds and stops.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	appKey := chi.URLParam(r, "app_key")
	rec := &webhookRecord{
		appKey:  appKey,
		method:  r.Method,
		path:    r.URL.Path,
		headers: redactHeaders(r.Header),
	}

	if r.Method != http.MethodPost {
		h.respondError(w, rec, start, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !config.ValidAppKey(appKey) {
		h.respondError(w, rec, start, http.StatusBadRequest, "invalid app_key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, rec, start, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.respondError(w, rec, start, http.StatusBadRequest, "failed to read body")
		return
	}
	rec.body = body

	if res := h.limiter.Check("webhook:"+appKey, h.cfg.WebhookRateLimit); !res.Allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
		h.respondError(w, rec, start, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, app, err := h.registry.ForApp(appKey)
	if err != nil {
		h.respondError(w, rec, start, http.StatusNotFound, "unknown app")
		return
	}

	secret := app.Config.ResolveWebhookSecret()
	if secret == "" {
		h.logger.Error("no webhook secret configured", "app_key", appKey)
		h.respondError(w, rec, start, http.StatusInternalServerError, "Internal server error")
		return
	}

	verify := conn.VerifyWebhook(body, r.Header, secret)
	if !verify.Valid {
		h.logger.Warn("webhook verification failed", "app_key", appKey, "reason", verify.Reason)
		h.respondError(w, rec, start, http.StatusUnauthorized, "invalid signature")
		return
	}

	event, err := conn.ParseWebhookEvent(verify.Payload)
	if err != nil {
		h.logger.Warn("webhook parse failed", "app_key", appKey, "error", err)
		h.respondError(w, rec, start, http.StatusBadRequest, "unrecognized event payload")
		return
	}

	if err := h.dispatch(r.Context(), conn, app, event); err != nil {
		h.logger.Error("webhook dispatch failed",
			"app_key", appKey,
			"event_type", string(event.EventType),
			"external_id", event.ExternalID,
			"error", err)
		rec.errMsg = err.Error()
		h.respondError(w, rec, start, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("webhook processed",
		"app_key", appKey,
		"event_type", string(event.EventType),
		"original_event_type", event.OriginalEventType,
		"external_id", event.ExternalID)

	respBody := writeJSON(w, http.StatusOK, webhookResponseBody{
		OK:         true,
		EventType:  string(event.EventType),
		ExternalID: event.ExternalID,
	})
	h.record(rec, start, http.StatusOK, respBody)
}

// dispatch applies the parsed event to the entity store.
func (h *WebhookHandler) dispatch(ctx context.Context, conn connector.Connector, app *config.AppConfig, event *models.ParsedWebhookEvent) error {
	switch event.EventType {
	case models.EventCreate, models.EventUpdate, models.EventArchive:
		entity, err := conn.ExtractEntity(event, app)
		if err != nil {
			return fmt.Errorf("failed to extract entity: %w", err)
		}
		if _, err := h.entities.Upsert(ctx, entity); err != nil {
			return fmt.Errorf("failed to upsert entity: %w", err)
		}
		return nil
	case models.EventDelete:
		res := conn.Metadata().Resource(event.ResourceType)
		if res == nil {
			return fmt.Errorf("unsupported resource type: %s", event.ResourceType)
		}
		// Deleting a record we never stored is fine.
		if _, err := h.entities.Delete(ctx, app.AppKey, res.CollectionKey, event.ExternalID); err != nil {
			return fmt.Errorf("failed to delete entity: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unhandled event type: %s", event.EventType)
	}
}

// webhookRecord accumulates what gets written to the webhook log.
type webhookRecord struct {
	appKey  string
	method  string
	path    string
	headers map[string]string
	body    []byte
	errMsg  string
}

func (h *WebhookHandler) respondError(w http.ResponseWriter, rec *webhookRecord, start time.Time, status int, message string) {
	body := writeJSON(w, status, map[string]string{"error": message})
	if rec.errMsg == "" && status >= 400 {
		rec.errMsg = message
	}
	h.record(rec, start, status, body)
}

// record persists the request/response pair. Fire-and-forget: logging
// failures never affect the webhook response.
func (h *WebhookHandler) record(rec *webhookRecord, start time.Time, status int, respBody []byte) {
	if !h.apps.WebhookLogging.Enabled {
		return
	}
	entry := &models.WebhookLog{
		AppKey:               rec.appKey,
		RequestMethod:        rec.method,
		RequestPath:          rec.path,
		RequestHeaders:       rec.headers,
		RequestBody:          normalizeBody(rec.body),
		ResponseStatus:       status,
		ResponseBody:         string(respBody),
		ErrorMessage:         rec.errMsg,
		ProcessingDurationMs: time.Since(start).Milliseconds(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.logs.Insert(ctx, entry); err != nil {
			h.logger.Error("failed to write webhook log", "app_key", rec.appKey, "error", err)
		}
	}()
}

// normalizeBody stores the raw body as JSON when it parses, otherwise as
// a JSON string so the log column stays valid JSON.
func normalizeBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
