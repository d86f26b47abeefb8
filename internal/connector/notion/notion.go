// Package notion adapts Notion pages and databases to the ingestion
// layer. Webhooks carry an HMAC-SHA256 signature in X-Notion-Signature
// with a "sha256=" prefix; listing goes through the search endpoint's
// next_cursor pagination.
package notion

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
)

const (
	connectorName   = "notion"
	notionVersion   = "2022-06-28"
	defaultBaseURL  = "https://api.notion.com"
	defaultPageSize = 100

	signatureHeader = "X-Notion-Signature"
	signaturePrefix = "sha256="
)

var resources = []connector.SupportedResource{
	{ResourceType: "page", CollectionKey: "notion_page", SupportsIncremental: true, SupportsWebhooks: true},
	{ResourceType: "database", CollectionKey: "notion_database", SupportsIncremental: true, SupportsWebhooks: true},
}

// Connector implements the Notion adapter.
type Connector struct {
	entities   repository.EntityRepository
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New creates a Notion connector.
func New(entities repository.EntityRepository, logger *slog.Logger) *Connector {
	return &Connector{
		entities:   entities,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		logger:     logger,
	}
}

// SetBaseURL overrides the API base URL. Test use only.
func (c *Connector) SetBaseURL(u string) { c.baseURL = u }

// Metadata implements connector.Connector.
func (c *Connector) Metadata() connector.Metadata {
	return connector.Metadata{
		Name:               connectorName,
		DisplayName:        "Notion",
		Version:            "1.0.0",
		APIVersion:         notionVersion,
		SupportedResources: resources,
	}
}

// ValidateConfig implements connector.Connector.
func (c *Connector) ValidateConfig(app *config.AppConfig, production bool) connector.ValidationResult {
	return connector.ValidateAppConfig(c.Metadata(), app, production)
}

// VerifyWebhook checks the sha256-prefixed hex HMAC in X-Notion-Signature.
func (c *Connector) VerifyWebhook(rawBody []byte, headers http.Header, secret string) connector.VerifyResult {
	provided := headers.Get(signatureHeader)
	if provided == "" {
		return connector.VerifyResult{Valid: false, Reason: "missing " + signatureHeader + " header"}
	}
	if !strings.HasPrefix(provided, signaturePrefix) {
		return connector.VerifyResult{Valid: false, Reason: "malformed signature header"}
	}
	providedBytes, err := hex.DecodeString(strings.TrimPrefix(provided, signaturePrefix))
	if err != nil {
		return connector.VerifyResult{Valid: false, Reason: "malformed signature header"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	if !hmac.Equal(providedBytes, mac.Sum(nil)) {
		return connector.VerifyResult{Valid: false, Reason: "signature verification failed"}
	}
	return connector.VerifyResult{Valid: true, Payload: rawBody}
}

// ParseWebhookEvent maps a Notion event such as "page.created" or
// "database.content_updated".
func (c *Connector) ParseWebhookEvent(payload []byte) (*models.ParsedWebhookEvent, error) {
	var event struct {
		Type   string `json:"type"`
		Entity struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"entity"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse notion event: %w", err)
	}
	if event.Type == "" || event.Entity.ID == "" {
		return nil, fmt.Errorf("notion event missing type or entity id")
	}

	objectType, action, ok := strings.Cut(event.Type, ".")
	if !ok {
		return nil, fmt.Errorf("unrecognized notion event type: %s", event.Type)
	}
	if c.Metadata().Resource(objectType) == nil {
		return nil, fmt.Errorf("unsupported notion entity type: %s", objectType)
	}

	var eventType models.WebhookEventType
	switch action {
	case "created":
		eventType = models.EventCreate
	case "deleted":
		eventType = models.EventDelete
	case "locked", "moved":
		eventType = models.EventArchive
	default:
		eventType = models.EventUpdate
	}

	return &models.ParsedWebhookEvent{
		EventType:         eventType,
		OriginalEventType: event.Type,
		ResourceType:      objectType,
		ExternalID:        event.Entity.ID,
		Data:              json.RawMessage(payload),
		Timestamp:         event.Timestamp,
		Provider:          connectorName,
	}, nil
}

// ExtractEntity implements connector.Connector. Archive events set
// archived_at on the stored row.
func (c *Connector) ExtractEntity(event *models.ParsedWebhookEvent, app *config.AppConfig) (*models.NormalizedEntity, error) {
	res := c.Metadata().Resource(event.ResourceType)
	if res == nil {
		return nil, fmt.Errorf("unsupported notion resource type: %s", event.ResourceType)
	}
	e := &models.NormalizedEntity{
		ExternalID:    event.ExternalID,
		AppKey:        app.AppKey,
		CollectionKey: res.CollectionKey,
		APIVersion:    notionVersion,
		RawPayload:    event.Data,
	}
	if event.EventType == models.EventArchive {
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		e.ArchivedAt = &ts
	}
	return e, nil
}

// FullSync implements connector.Connector.
func (c *Connector) FullSync(ctx context.Context, app *config.AppConfig, resourceType string, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeFull, nil, opts)
}

// IncrementalSync drops items whose last_edited_time predates the
// watermark; the search endpoint has no server-side modified filter.
func (c *Connector) IncrementalSync(ctx context.Context, app *config.AppConfig, resourceType string, since time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeIncremental, &since, opts)
}

func (c *Connector) sync(ctx context.Context, app *config.AppConfig, resourceType string, mode models.SyncMode, since *time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	res := c.Metadata().Resource(resourceType)
	if res == nil {
		return nil, fmt.Errorf("unsupported notion resource type: %s", resourceType)
	}
	apiKey := app.Config.ResolveAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("no api key configured for app %s", app.AppKey)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var syncFrom *time.Time
	if app.Config.SyncFrom != "" {
		t, err := time.Parse(time.RFC3339, app.Config.SyncFrom)
		if err != nil {
			return nil, fmt.Errorf("invalid sync_from for app %s: %w", app.AppKey, err)
		}
		syncFrom = &t
	}

	return syncengine.Run(ctx, syncengine.Pass{
		AppKey:        app.AppKey,
		CollectionKey: res.CollectionKey,
		Mode:          mode,
		SyncFrom:      syncFrom,
		Cursor:        opts.Cursor,
		Limit:         opts.Limit,
		List: func(ctx context.Context, cursor string) (*syncengine.Page, error) {
			return c.searchPage(ctx, apiKey, resourceType, cursor, pageSize, since)
		},
		Normalize:     normalizeItem,
		ItemCreatedAt: itemCreatedAt,
		Entities:      c.entities,
		Logger:        c.logger,
	})
}

// searchPage fetches one page from POST /v1/search filtered to the
// object type.
func (c *Connector) searchPage(ctx context.Context, apiKey, resourceType, cursor string, pageSize int, since *time.Time) (*syncengine.Page, error) {
	reqBody := map[string]any{
		"filter":    map[string]string{"property": "object", "value": resourceType},
		"page_size": pageSize,
	}
	if cursor != "" {
		reqBody["start_cursor"] = cursor
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call notion api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read notion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notion api returned status %d", resp.StatusCode)
	}

	var list struct {
		Results    []json.RawMessage `json:"results"`
		NextCursor string            `json:"next_cursor"`
		HasMore    bool              `json:"has_more"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse notion search response: %w", err)
	}

	items := list.Results
	if since != nil {
		items = items[:0:0]
		for _, item := range list.Results {
			var obj struct {
				LastEditedTime time.Time `json:"last_edited_time"`
			}
			if err := json.Unmarshal(item, &obj); err == nil && !obj.LastEditedTime.IsZero() && obj.LastEditedTime.Before(*since) {
				continue
			}
			items = append(items, item)
		}
	}

	return &syncengine.Page{
		Items:      items,
		NextCursor: list.NextCursor,
		HasMore:    list.HasMore,
	}, nil
}

func normalizeItem(item json.RawMessage) (*models.NormalizedEntity, error) {
	var obj struct {
		ID       string `json:"id"`
		Archived bool   `json:"archived"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return nil, err
	}
	e := &models.NormalizedEntity{
		ExternalID: obj.ID,
		APIVersion: notionVersion,
		RawPayload: item,
	}
	if obj.Archived {
		now := time.Now().UTC()
		e.ArchivedAt = &now
	}
	return e, nil
}

func itemCreatedAt(item json.RawMessage) (time.Time, bool) {
	var obj struct {
		CreatedTime time.Time `json:"created_time"`
	}
	if err := json.Unmarshal(item, &obj); err != nil || obj.CreatedTime.IsZero() {
		return time.Time{}, false
	}
	return obj.CreatedTime, true
}
