// Package connector defines the provider-agnostic capability contract that
// every SaaS adapter implements, plus the process-wide registry that maps
// provider names and app keys to adapters.
package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/models"
)

// SupportedResource describes one resource type a connector can sync.
type SupportedResource struct {
	ResourceType        string `json:"resource_type"`
	CollectionKey       string `json:"collection_key"`
	SupportsIncremental bool   `json:"supports_incremental"`
	SupportsWebhooks    bool   `json:"supports_webhooks"`
}

// Metadata identifies a connector and enumerates its resources.
type Metadata struct {
	Name               string              `json:"name"`
	DisplayName        string              `json:"display_name"`
	Version            string              `json:"version"`
	APIVersion         string              `json:"api_version"`
	SupportedResources []SupportedResource `json:"supported_resources"`
}

// Resource returns the supported resource with the given type, or nil.
// Value receiver so it can be called on the Metadata() return directly.
func (m Metadata) Resource(resourceType string) *SupportedResource {
	for i := range m.SupportedResources {
		if m.SupportedResources[i].ResourceType == resourceType {
			return &m.SupportedResources[i]
		}
	}
	return nil
}

// VerifyResult is the outcome of webhook signature verification.
// Reason is a short internal description; it never contains any part of
// a signature value.
type VerifyResult struct {
	Valid   bool
	Reason  string
	Payload []byte
}

// SyncOptions tunes a single sync pass.
type SyncOptions struct {
	PageSize int
	Cursor   string
	Since    *time.Time
	// Limit stops the pass once created+updated+errors reaches it.
	// Zero means unlimited.
	Limit int
}

// Connector is the capability record every provider adapter implements.
type Connector interface {
	Metadata() Metadata
	// ValidateConfig checks an app's configuration. It must be called
	// before any other connector operation on that app.
	ValidateConfig(app *config.AppConfig, production bool) ValidationResult
	// VerifyWebhook authenticates a raw webhook request using the
	// provider's canonical signature scheme. Comparisons are
	// constant-time; signature values are never logged.
	VerifyWebhook(rawBody []byte, headers http.Header, secret string) VerifyResult
	// ParseWebhookEvent maps a verified payload to the provider-agnostic
	// event form.
	ParseWebhookEvent(payload []byte) (*models.ParsedWebhookEvent, error)
	// ExtractEntity builds the normalized entity for a create, update,
	// or archive event.
	ExtractEntity(event *models.ParsedWebhookEvent, app *config.AppConfig) (*models.NormalizedEntity, error)
	// FullSync pulls every upstream record for the resource type,
	// upserts all, and reconciles deletions within scope.
	FullSync(ctx context.Context, app *config.AppConfig, resourceType string, opts SyncOptions) (*models.SyncResult, error)
	// IncrementalSync pulls records modified since the watermark.
	// No deletion reconciliation is performed.
	IncrementalSync(ctx context.Context, app *config.AppConfig, resourceType string, since time.Time, opts SyncOptions) (*models.SyncResult, error)
}
