// Package hubspot adapts HubSpot CRM records to the ingestion layer.
// Webhooks are authenticated with an HMAC-SHA1 hex digest over the raw
// body carried in the X-HubSpot-Signature header.
package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
)

const (
	connectorName   = "hubspot"
	apiVersion      = "v3"
	defaultBaseURL  = "https://api.hubapi.com"
	defaultPageSize = 100

	signatureHeader = "X-HubSpot-Signature"
)

var resources = []connector.SupportedResource{
	{ResourceType: "contact", CollectionKey: "hubspot_contact", SupportsIncremental: true, SupportsWebhooks: true},
	{ResourceType: "company", CollectionKey: "hubspot_company", SupportsIncremental: true, SupportsWebhooks: true},
	{ResourceType: "deal", CollectionKey: "hubspot_deal", SupportsIncremental: true, SupportsWebhooks: true},
}

// resourcePaths maps resource types to CRM object list endpoints.
var resourcePaths = map[string]string{
	"contact": "/crm/v3/objects/contacts",
	"company": "/crm/v3/objects/companies",
	"deal":    "/crm/v3/objects/deals",
}

// Connector implements the HubSpot adapter.
type Connector struct {
	entities   repository.EntityRepository
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New creates a HubSpot connector.
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
		DisplayName:        "HubSpot",
		Version:            "1.0.0",
		APIVersion:         apiVersion,
		SupportedResources: resources,
	}
}

// ValidateConfig implements connector.Connector.
func (c *Connector) ValidateConfig(app *config.AppConfig, production bool) connector.ValidationResult {
	return connector.ValidateAppConfig(c.Metadata(), app, production)
}

// VerifyWebhook computes HMAC-SHA1 over the raw body and compares it to
// the hex digest in X-HubSpot-Signature.
func (c *Connector) VerifyWebhook(rawBody []byte, headers http.Header, secret string) connector.VerifyResult {
	provided := headers.Get(signatureHeader)
	if provided == "" {
		return connector.VerifyResult{Valid: false, Reason: "missing " + signatureHeader + " header"}
	}
	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return connector.VerifyResult{Valid: false, Reason: "malformed signature header"}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(rawBody)
	if !hmac.Equal(providedBytes, mac.Sum(nil)) {
		return connector.VerifyResult{Valid: false, Reason: "signature verification failed"}
	}
	return connector.VerifyResult{Valid: true, Payload: rawBody}
}

// ParseWebhookEvent maps a HubSpot subscription event. The subscription
// type carries both the object type and the action, e.g.
// "contact.creation" or "deal.deletion".
func (c *Connector) ParseWebhookEvent(payload []byte) (*models.ParsedWebhookEvent, error) {
	var event struct {
		SubscriptionType string `json:"subscriptionType"`
		ObjectID         int64  `json:"objectId"`
		OccurredAt       int64  `json:"occurredAt"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse hubspot event: %w", err)
	}
	if event.SubscriptionType == "" || event.ObjectID == 0 {
		return nil, fmt.Errorf("hubspot event missing subscriptionType or objectId")
	}

	objectType, action, ok := strings.Cut(event.SubscriptionType, ".")
	if !ok {
		return nil, fmt.Errorf("unrecognized hubspot subscription type: %s", event.SubscriptionType)
	}
	if _, known := resourcePaths[objectType]; !known {
		return nil, fmt.Errorf("unsupported hubspot object type: %s", objectType)
	}

	var eventType models.WebhookEventType
	switch action {
	case "creation":
		eventType = models.EventCreate
	case "deletion", "privacyDeletion":
		eventType = models.EventDelete
	default:
		eventType = models.EventUpdate
	}

	return &models.ParsedWebhookEvent{
		EventType:         eventType,
		OriginalEventType: event.SubscriptionType,
		ResourceType:      objectType,
		ExternalID:        fmt.Sprintf("%d", event.ObjectID),
		Data:              json.RawMessage(payload),
		Timestamp:         time.UnixMilli(event.OccurredAt).UTC(),
		Provider:          connectorName,
	}, nil
}

// ExtractEntity implements connector.Connector.
func (c *Connector) ExtractEntity(event *models.ParsedWebhookEvent, app *config.AppConfig) (*models.NormalizedEntity, error) {
	res := c.Metadata().Resource(event.ResourceType)
	if res == nil {
		return nil, fmt.Errorf("unsupported hubspot resource type: %s", event.ResourceType)
	}
	return &models.NormalizedEntity{
		ExternalID:    event.ExternalID,
		AppKey:        app.AppKey,
		CollectionKey: res.CollectionKey,
		APIVersion:    apiVersion,
		RawPayload:    event.Data,
	}, nil
}

// FullSync implements connector.Connector.
func (c *Connector) FullSync(ctx context.Context, app *config.AppConfig, resourceType string, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeFull, nil, opts)
}

// IncrementalSync lists pages in full but drops items whose updatedAt
// predates the watermark; the CRM list endpoint has no server-side
// modified-since filter.
func (c *Connector) IncrementalSync(ctx context.Context, app *config.AppConfig, resourceType string, since time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeIncremental, &since, opts)
}

func (c *Connector) sync(ctx context.Context, app *config.AppConfig, resourceType string, mode models.SyncMode, since *time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	path, ok := resourcePaths[resourceType]
	if !ok {
		return nil, fmt.Errorf("unsupported hubspot resource type: %s", resourceType)
	}
	res := c.Metadata().Resource(resourceType)
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
			return c.listPage(ctx, apiKey, path, cursor, pageSize, since)
		},
		Normalize:     normalizeItem,
		ItemCreatedAt: itemCreatedAt,
		Entities:      c.entities,
		Logger:        c.logger,
	})
}

// listPage fetches one CRM page using the `after` cursor. When since is
// set, unmodified items are filtered out of the page before the engine
// sees them.
func (c *Connector) listPage(ctx context.Context, apiKey, path, cursor string, pageSize int, since *time.Time) (*syncengine.Page, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	q.Set("archived", "false")
	if cursor != "" {
		q.Set("after", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call hubspot api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read hubspot response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hubspot api returned status %d", resp.StatusCode)
	}

	var list struct {
		Results []json.RawMessage `json:"results"`
		Paging  *struct {
			Next *struct {
				After string `json:"after"`
			} `json:"next"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse hubspot list response: %w", err)
	}

	items := list.Results
	if since != nil {
		items = items[:0:0]
		for _, item := range list.Results {
			var obj struct {
				UpdatedAt time.Time `json:"updatedAt"`
			}
			if err := json.Unmarshal(item, &obj); err == nil && !obj.UpdatedAt.IsZero() && obj.UpdatedAt.Before(*since) {
				continue
			}
			items = append(items, item)
		}
	}

	page := &syncengine.Page{Items: items}
	if list.Paging != nil && list.Paging.Next != nil && list.Paging.Next.After != "" {
		page.NextCursor = list.Paging.Next.After
		page.HasMore = true
	}
	return page, nil
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
		APIVersion: apiVersion,
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
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(item, &obj); err != nil || obj.CreatedAt.IsZero() {
		return time.Time{}, false
	}
	return obj.CreatedAt, true
}
