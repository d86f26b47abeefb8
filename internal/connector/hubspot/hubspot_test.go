package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

type memEntityRepo struct {
	rows map[string]*models.NormalizedEntity
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{rows: make(map[string]*models.NormalizedEntity)}
}

func (m *memEntityRepo) key(appKey, collectionKey, externalID string) string {
	return appKey + "/" + collectionKey + "/" + externalID
}

func (m *memEntityRepo) Upsert(_ context.Context, e *models.NormalizedEntity) (repository.UpsertOutcome, error) {
	k := m.key(e.AppKey, e.CollectionKey, e.ExternalID)
	_, exists := m.rows[k]
	m.rows[k] = e
	if exists {
		return repository.OutcomeUpdated, nil
	}
	return repository.OutcomeCreated, nil
}

func (m *memEntityRepo) UpsertBatch(ctx context.Context, entities []*models.NormalizedEntity) ([]repository.BatchItemResult, error) {
	results := make([]repository.BatchItemResult, 0, len(entities))
	for _, e := range entities {
		outcome, err := m.Upsert(ctx, e)
		results = append(results, repository.BatchItemResult{ExternalID: e.ExternalID, Outcome: outcome, Err: err})
	}
	return results, nil
}

func (m *memEntityRepo) Delete(_ context.Context, appKey, collectionKey, externalID string) (bool, error) {
	k := m.key(appKey, collectionKey, externalID)
	_, exists := m.rows[k]
	delete(m.rows, k)
	return exists, nil
}

func (m *memEntityRepo) Get(_ context.Context, appKey, collectionKey, externalID string) (*models.Entity, error) {
	return nil, nil
}

func (m *memEntityRepo) GetExternalIDs(_ context.Context, appKey, collectionKey string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	prefix := appKey + "/" + collectionKey + "/"
	for k := range m.rows {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			ids[k[len(prefix):]] = struct{}{}
		}
	}
	return ids, nil
}

func (m *memEntityRepo) GetExternalIDsCreatedAfter(ctx context.Context, appKey, collectionKey string, unixSeconds int64) (map[string]struct{}, error) {
	return m.GetExternalIDs(ctx, appKey, collectionKey)
}

func testApp(t *testing.T) *config.AppConfig {
	t.Helper()
	t.Setenv("HUBSPOT_TEST_KEY", "pat-na1-test")
	return &config.AppConfig{
		AppKey:    "acme",
		Connector: "hubspot",
		Config:    config.AppConfigValues{APIKeyEnv: "HUBSPOT_TEST_KEY"},
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	c := New(newMemEntityRepo(), nil)
	secret := "hs_client_secret"
	body := []byte(`{"subscriptionType":"contact.creation","objectId":42}`)

	headers := http.Header{}
	headers.Set("X-HubSpot-Signature", signBody(body, secret))
	if res := c.VerifyWebhook(body, headers, secret); !res.Valid {
		t.Errorf("valid signature rejected: %s", res.Reason)
	}

	headers.Set("X-HubSpot-Signature", signBody(body, "wrong_secret"))
	if res := c.VerifyWebhook(body, headers, secret); res.Valid {
		t.Error("wrong secret accepted")
	}

	headers.Set("X-HubSpot-Signature", "zz-not-hex")
	if res := c.VerifyWebhook(body, headers, secret); res.Valid {
		t.Error("malformed signature accepted")
	}

	if res := c.VerifyWebhook(body, http.Header{}, secret); res.Valid {
		t.Error("missing header accepted")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	c := New(newMemEntityRepo(), nil)

	cases := []struct {
		subscriptionType string
		wantType         models.WebhookEventType
		wantResource     string
	}{
		{"contact.creation", models.EventCreate, "contact"},
		{"contact.propertyChange", models.EventUpdate, "contact"},
		{"company.deletion", models.EventDelete, "company"},
		{"contact.privacyDeletion", models.EventDelete, "contact"},
		{"deal.propertyChange", models.EventUpdate, "deal"},
	}
	for _, tc := range cases {
		payload := fmt.Sprintf(`{"subscriptionType":"%s","objectId":4217,"occurredAt":1700000000000}`, tc.subscriptionType)
		event, err := c.ParseWebhookEvent([]byte(payload))
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.subscriptionType, err)
		}
		if event.EventType != tc.wantType || event.ResourceType != tc.wantResource {
			t.Errorf("%s: got %s/%s", tc.subscriptionType, event.ResourceType, event.EventType)
		}
		if event.ExternalID != "4217" {
			t.Errorf("%s: numeric object id not stringified: %s", tc.subscriptionType, event.ExternalID)
		}
	}
}

func TestParseWebhookEventRejectsMalformed(t *testing.T) {
	c := New(newMemEntityRepo(), nil)

	if _, err := c.ParseWebhookEvent([]byte(`{"objectId":1}`)); err == nil {
		t.Error("expected error for missing subscriptionType")
	}
	if _, err := c.ParseWebhookEvent([]byte(`{"subscriptionType":"ticket.creation","objectId":1}`)); err == nil {
		t.Error("expected error for unsupported object type")
	}
	if _, err := c.ParseWebhookEvent([]byte(`{"subscriptionType":"weird","objectId":1}`)); err == nil {
		t.Error("expected error for undotted subscription type")
	}
}

func TestFullSyncPaginates(t *testing.T) {
	repo := newMemEntityRepo()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v3/objects/contacts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("archived") != "false" {
			t.Error("expected archived=false")
		}
		switch r.URL.Query().Get("after") {
		case "":
			fmt.Fprint(w, `{"results":[{"id":"1","createdAt":"2026-01-05T00:00:00Z"},{"id":"2","createdAt":"2026-01-06T00:00:00Z"}],"paging":{"next":{"after":"2"}}}`)
		case "2":
			fmt.Fprint(w, `{"results":[{"id":"3","createdAt":"2026-01-07T00:00:00Z"}]}`)
		default:
			t.Errorf("unexpected cursor: %s", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	c := New(repo, nil)
	c.SetBaseURL(server.URL)

	res, err := c.FullSync(context.Background(), testApp(t), "contact", connector.SyncOptions{})
	if err != nil {
		t.Fatalf("full sync failed: %v", err)
	}
	if !res.Success || res.Created != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestIncrementalSyncFiltersUnmodified(t *testing.T) {
	repo := newMemEntityRepo()
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[`+
			`{"id":"old","updatedAt":"2026-02-01T00:00:00Z"},`+
			`{"id":"fresh","updatedAt":"2026-03-02T00:00:00Z"}`+
			`]}`)
	}))
	defer server.Close()

	c := New(repo, nil)
	c.SetBaseURL(server.URL)

	res, err := c.IncrementalSync(context.Background(), testApp(t), "deal", since, connector.SyncOptions{})
	if err != nil {
		t.Fatalf("incremental sync failed: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("expected only the modified item, got %+v", res)
	}
	if _, exists := repo.rows[repo.key("acme", "hubspot_deal", "old")]; exists {
		t.Error("unmodified item should be filtered out")
	}
	if _, exists := repo.rows[repo.key("acme", "hubspot_deal", "fresh")]; !exists {
		t.Error("modified item should be ingested")
	}
}

func TestNormalizeArchivedItem(t *testing.T) {
	entity, err := normalizeItem([]byte(`{"id":"9","archived":true}`))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if entity.ArchivedAt == nil {
		t.Error("archived item should carry archived_at")
	}

	entity, err = normalizeItem([]byte(`{"id":"9","archived":false}`))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if entity.ArchivedAt != nil {
		t.Error("live item should not carry archived_at")
	}
}
