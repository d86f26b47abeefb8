// Package stripe adapts Stripe billing records to the ingestion layer.
// Webhook verification goes through stripe-go's timestamped HMAC scheme;
// listing uses the REST API directly because cursor checkpoints need to
// survive process restarts.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
)

const (
	connectorName   = "stripe"
	defaultBaseURL  = "https://api.stripe.com"
	defaultPageSize = 100
)

var resources = []connector.SupportedResource{
	{ResourceType: "customer", CollectionKey: "stripe_customer", SupportsIncremental: true, SupportsWebhooks: true},
	{ResourceType: "invoice", CollectionKey: "stripe_invoice", SupportsIncremental: true, SupportsWebhooks: true},
	{ResourceType: "product", CollectionKey: "stripe_product", SupportsIncremental: true, SupportsWebhooks: true},
}

// resourcePaths maps resource types to their list endpoints.
var resourcePaths = map[string]string{
	"customer": "/v1/customers",
	"invoice":  "/v1/invoices",
	"product":  "/v1/products",
}

// Connector implements the Stripe adapter.
type Connector struct {
	entities   repository.EntityRepository
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New creates a Stripe connector.
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
		DisplayName:        "Stripe",
		Version:            "1.0.0",
		APIVersion:         stripego.APIVersion,
		SupportedResources: resources,
	}
}

// ValidateConfig implements connector.Connector.
func (c *Connector) ValidateConfig(app *config.AppConfig, production bool) connector.ValidationResult {
	return connector.ValidateAppConfig(c.Metadata(), app, production)
}

// VerifyWebhook checks the Stripe-Signature header against the raw body.
func (c *Connector) VerifyWebhook(rawBody []byte, headers http.Header, secret string) connector.VerifyResult {
	sigHeader := headers.Get("Stripe-Signature")
	if sigHeader == "" {
		return connector.VerifyResult{Valid: false, Reason: "missing Stripe-Signature header"}
	}
	if _, err := webhook.ConstructEvent(rawBody, sigHeader, secret); err != nil {
		return connector.VerifyResult{Valid: false, Reason: "signature verification failed"}
	}
	return connector.VerifyResult{Valid: true, Payload: rawBody}
}

// ParseWebhookEvent maps a Stripe event to the provider-agnostic form.
// The resource type comes from the embedded object, the action from the
// event type suffix.
func (c *Connector) ParseWebhookEvent(payload []byte) (*models.ParsedWebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}

	var obj struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event object: %w", err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("stripe event object has no id")
	}
	if _, ok := resourcePaths[obj.Object]; !ok {
		return nil, fmt.Errorf("unsupported stripe object type: %s", obj.Object)
	}

	eventType := models.EventUpdate
	switch {
	case strings.HasSuffix(string(event.Type), ".created"):
		eventType = models.EventCreate
	case strings.HasSuffix(string(event.Type), ".deleted"):
		eventType = models.EventDelete
	}

	return &models.ParsedWebhookEvent{
		EventType:         eventType,
		OriginalEventType: string(event.Type),
		ResourceType:      obj.Object,
		ExternalID:        obj.ID,
		Data:              json.RawMessage(event.Data.Raw),
		Timestamp:         time.Unix(event.Created, 0).UTC(),
		Provider:          connectorName,
	}, nil
}

// ExtractEntity implements connector.Connector.
func (c *Connector) ExtractEntity(event *models.ParsedWebhookEvent, app *config.AppConfig) (*models.NormalizedEntity, error) {
	res := c.Metadata().Resource(event.ResourceType)
	if res == nil {
		return nil, fmt.Errorf("unsupported stripe resource type: %s", event.ResourceType)
	}
	return &models.NormalizedEntity{
		ExternalID:    event.ExternalID,
		AppKey:        app.AppKey,
		CollectionKey: res.CollectionKey,
		APIVersion:    stripego.APIVersion,
		RawPayload:    event.Data,
	}, nil
}

// FullSync implements connector.Connector.
func (c *Connector) FullSync(ctx context.Context, app *config.AppConfig, resourceType string, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeFull, nil, opts)
}

// IncrementalSync lists records created since the watermark. Stripe list
// endpoints filter on creation time; modified-only records are covered by
// webhooks.
func (c *Connector) IncrementalSync(ctx context.Context, app *config.AppConfig, resourceType string, since time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	return c.sync(ctx, app, resourceType, models.SyncModeIncremental, &since, opts)
}

func (c *Connector) sync(ctx context.Context, app *config.AppConfig, resourceType string, mode models.SyncMode, since *time.Time, opts connector.SyncOptions) (*models.SyncResult, error) {
	path, ok := resourcePaths[resourceType]
	if !ok {
		return nil, fmt.Errorf("unsupported stripe resource type: %s", resourceType)
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
		Normalize: func(item json.RawMessage) (*models.NormalizedEntity, error) {
			var obj struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, err
			}
			return &models.NormalizedEntity{
				ExternalID: obj.ID,
				APIVersion: stripego.APIVersion,
				RawPayload: item,
			}, nil
		},
		ItemCreatedAt: itemCreatedAt,
		Entities:      c.entities,
		Logger:        c.logger,
	})
}

// listPage fetches one page using starting_after cursor pagination.
func (c *Connector) listPage(ctx context.Context, apiKey, path, cursor string, pageSize int, since *time.Time) (*syncengine.Page, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	if since != nil {
		q.Set("created[gte]", fmt.Sprintf("%d", since.Unix()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Stripe-Version", stripego.APIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call stripe api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read stripe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe api returned status %d", resp.StatusCode)
	}

	var list struct {
		Data    []json.RawMessage `json:"data"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse stripe list response: %w", err)
	}

	page := &syncengine.Page{Items: list.Data, HasMore: list.HasMore}
	if list.HasMore && len(list.Data) > 0 {
		var last struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(list.Data[len(list.Data)-1], &last); err != nil {
			return nil, fmt.Errorf("failed to read page cursor: %w", err)
		}
		page.NextCursor = last.ID
	}
	return page, nil
}

func itemCreatedAt(item json.RawMessage) (time.Time, bool) {
	var obj struct {
		Created int64 `json:"created"`
	}
	if err := json.Unmarshal(item, &obj); err != nil || obj.Created == 0 {
		return time.Time{}, false
	}
	return time.Unix(obj.Created, 0).UTC(), true
}
