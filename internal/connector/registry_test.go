package connector

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/models"
)

// stubConnector satisfies Connector with fixed metadata; the operational
// methods are never exercised by registry tests.
type stubConnector struct {
	name string
}

func (s *stubConnector) Metadata() Metadata {
	return Metadata{Name: s.name, DisplayName: s.name, Version: "0.0.1"}
}

func (s *stubConnector) ValidateConfig(app *config.AppConfig, production bool) ValidationResult {
	return ValidationResult{}
}

func (s *stubConnector) VerifyWebhook(rawBody []byte, headers http.Header, secret string) VerifyResult {
	return VerifyResult{Valid: false, Reason: "not implemented"}
}

func (s *stubConnector) ParseWebhookEvent(payload []byte) (*models.ParsedWebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func (s *stubConnector) ExtractEntity(event *models.ParsedWebhookEvent, app *config.AppConfig) (*models.NormalizedEntity, error) {
	return nil, errors.New("not implemented")
}

func (s *stubConnector) FullSync(ctx context.Context, app *config.AppConfig, resourceType string, opts SyncOptions) (*models.SyncResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubConnector) IncrementalSync(ctx context.Context, app *config.AppConfig, resourceType string, since time.Time, opts SyncOptions) (*models.SyncResult, error) {
	return nil, errors.New("not implemented")
}

func testAppsFile() *config.AppsFile {
	return &config.AppsFile{
		Apps: []config.AppConfig{
			{AppKey: "acme", Connector: "alpha"},
			{AppKey: "umbrella", Connector: "ghost"},
		},
	}
}

func TestMetadataResourceLookup(t *testing.T) {
	meta := Metadata{
		Name: "stub",
		SupportedResources: []SupportedResource{
			{ResourceType: "widget", CollectionKey: "stub_widget"},
			{ResourceType: "gadget", CollectionKey: "stub_gadget"},
		},
	}

	res := meta.Resource("gadget")
	if res == nil || res.CollectionKey != "stub_gadget" {
		t.Fatalf("Resource(gadget) = %+v, want stub_gadget", res)
	}
	if meta.Resource("doohickey") != nil {
		t.Error("unknown resource type should return nil")
	}

	// Lookup must work directly on the Metadata() return value.
	conn := &stubConnector{name: "stub"}
	if got := conn.Metadata().Resource("widget"); got != nil {
		t.Errorf("stub metadata has no resources, got %+v", got)
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(testAppsFile())
	r.Register(&stubConnector{name: "alpha"})

	c, err := r.Get("alpha")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if c.Metadata().Name != "alpha" {
		t.Errorf("wrong connector: %s", c.Metadata().Name)
	}

	_, err = r.Get("missing")
	var unknown *ErrUnknownConnector
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownConnector, got %v", err)
	}
	if unknown.Name != "missing" {
		t.Errorf("error should carry the name: %s", unknown.Name)
	}
}

func TestRegistryForApp(t *testing.T) {
	r := NewRegistry(testAppsFile())
	r.Register(&stubConnector{name: "alpha"})

	c, app, err := r.ForApp("acme")
	if err != nil {
		t.Fatalf("ForApp failed: %v", err)
	}
	if c.Metadata().Name != "alpha" || app.AppKey != "acme" {
		t.Errorf("wrong resolution: %s / %s", c.Metadata().Name, app.AppKey)
	}

	if _, _, err := r.ForApp("nobody"); err == nil {
		t.Error("expected error for unknown app key")
	}

	// App exists but its connector was never registered.
	_, _, err = r.ForApp("umbrella")
	var unknown *ErrUnknownConnector
	if !errors.As(err, &unknown) {
		t.Errorf("expected ErrUnknownConnector, got %v", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(testAppsFile())
	r.Register(&stubConnector{name: "zeta"})
	r.Register(&stubConnector{name: "alpha"})
	r.Register(&stubConnector{name: "mid"})

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	if Default() != nil {
		t.Fatal("expected nil before InitDefault")
	}
	r := NewRegistry(testAppsFile())
	InitDefault(r)
	if Default() != r {
		t.Error("Default should return the installed registry")
	}
}
