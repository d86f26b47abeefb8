package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

// fakeEntityRepo is an in-memory EntityRepository keyed on the entity
// triple. Creation times for the scoped ID query are taken from a
// "created" unix-seconds field in the payload.
type fakeEntityRepo struct {
	entities  map[string]*models.NormalizedEntity
	upsertErr error
}

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{entities: make(map[string]*models.NormalizedEntity)}
}

func tripleKey(appKey, collectionKey, externalID string) string {
	return appKey + "/" + collectionKey + "/" + externalID
}

func (f *fakeEntityRepo) Upsert(_ context.Context, e *models.NormalizedEntity) (repository.UpsertOutcome, error) {
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	key := tripleKey(e.AppKey, e.CollectionKey, e.ExternalID)
	_, exists := f.entities[key]
	f.entities[key] = e
	if exists {
		return repository.OutcomeUpdated, nil
	}
	return repository.OutcomeCreated, nil
}

func (f *fakeEntityRepo) UpsertBatch(ctx context.Context, entities []*models.NormalizedEntity) ([]repository.BatchItemResult, error) {
	results := make([]repository.BatchItemResult, 0, len(entities))
	for _, e := range entities {
		outcome, err := f.Upsert(ctx, e)
		results = append(results, repository.BatchItemResult{ExternalID: e.ExternalID, Outcome: outcome, Err: err})
	}
	return results, nil
}

func (f *fakeEntityRepo) Delete(_ context.Context, appKey, collectionKey, externalID string) (bool, error) {
	key := tripleKey(appKey, collectionKey, externalID)
	_, exists := f.entities[key]
	delete(f.entities, key)
	return exists, nil
}

func (f *fakeEntityRepo) Get(_ context.Context, appKey, collectionKey, externalID string) (*models.Entity, error) {
	return nil, nil
}

func (f *fakeEntityRepo) GetExternalIDs(_ context.Context, appKey, collectionKey string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	prefix := appKey + "/" + collectionKey + "/"
	for key := range f.entities {
		if strings.HasPrefix(key, prefix) {
			ids[strings.TrimPrefix(key, prefix)] = struct{}{}
		}
	}
	return ids, nil
}

func (f *fakeEntityRepo) GetExternalIDsCreatedAfter(ctx context.Context, appKey, collectionKey string, unixSeconds int64) (map[string]struct{}, error) {
	all, _ := f.GetExternalIDs(ctx, appKey, collectionKey)
	ids := make(map[string]struct{})
	for id := range all {
		e := f.entities[tripleKey(appKey, collectionKey, id)]
		var payload struct {
			Created int64 `json:"created"`
		}
		if err := json.Unmarshal(e.RawPayload, &payload); err != nil || payload.Created == 0 {
			continue
		}
		if payload.Created >= unixSeconds {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (f *fakeEntityRepo) seed(appKey, collectionKey, externalID, payload string) {
	f.entities[tripleKey(appKey, collectionKey, externalID)] = &models.NormalizedEntity{
		AppKey:        appKey,
		CollectionKey: collectionKey,
		ExternalID:    externalID,
		RawPayload:    json.RawMessage(payload),
	}
}

func itemsPage(hasMore bool, nextCursor string, ids ...string) *Page {
	page := &Page{NextCursor: nextCursor, HasMore: hasMore}
	for _, id := range ids {
		page.Items = append(page.Items, json.RawMessage(`{"id":"`+id+`"}`))
	}
	return page
}

func normalizeByID(item json.RawMessage) (*models.NormalizedEntity, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &payload); err != nil {
		return nil, err
	}
	return &models.NormalizedEntity{ExternalID: payload.ID, RawPayload: item}, nil
}

func TestRunPaginates(t *testing.T) {
	repo := newFakeEntityRepo()
	pages := map[string]*Page{
		"":   itemsPage(true, "c1", "a", "b"),
		"c1": itemsPage(false, "", "c"),
	}

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		List: func(_ context.Context, cursor string) (*Page, error) {
			page, ok := pages[cursor]
			if !ok {
				return nil, fmt.Errorf("unexpected cursor %q", cursor)
			}
			return page, nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Success || res.Created != 3 || res.Updated != 0 || res.Errors != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.HasMore || res.NextCursor != "" {
		t.Errorf("completed pass should not carry a cursor: %+v", res)
	}
	if len(repo.entities) != 3 {
		t.Errorf("expected 3 stored entities, got %d", len(repo.entities))
	}
}

func TestRunCountsUpdates(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.seed("acme", "widgets", "a", `{"id":"a"}`)

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, "", "a", "b"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Created != 1 || res.Updated != 1 {
		t.Errorf("expected 1 created and 1 updated, got %+v", res)
	}
}

func TestRunFullReconcilesDeletions(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.seed("acme", "widgets", "stale", `{"id":"stale"}`)
	repo.seed("acme", "widgets", "a", `{"id":"a"}`)

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, "", "a"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", res.Deleted)
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "stale")]; exists {
		t.Error("stale row should have been removed")
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "a")]; !exists {
		t.Error("listed row should survive reconciliation")
	}
}

func TestRunStopsOnMissingNextCursor(t *testing.T) {
	repo := newFakeEntityRepo()
	calls := 0

	// A provider page claiming more data but carrying no cursor must end
	// the walk instead of refetching the first page.
	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		List: func(_ context.Context, cursor string) (*Page, error) {
			calls++
			if cursor != "" {
				t.Fatalf("unexpected cursor %q", cursor)
			}
			return itemsPage(true, "", "a", "b"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("list called %d times, want 1", calls)
	}
	if res.Created != 2 {
		t.Errorf("created = %d, want 2", res.Created)
	}
}

func TestRunResumedPassSkipsReconciliation(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.seed("acme", "widgets", "a", `{"id":"a"}`)
	repo.seed("acme", "widgets", "b", `{"id":"b"}`)

	// a and b were ingested by the pages before the checkpoint; a pass
	// resumed mid-listing must not treat them as deleted upstream.
	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		Cursor:        "page2",
		List: func(_ context.Context, cursor string) (*Page, error) {
			if cursor != "page2" {
				return nil, fmt.Errorf("unexpected cursor %q", cursor)
			}
			return itemsPage(false, "", "c"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Deleted != 0 {
		t.Errorf("resumed pass must not delete, got %d", res.Deleted)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, exists := repo.entities[tripleKey("acme", "widgets", id)]; !exists {
			t.Errorf("row %s should be present after the resumed pass", id)
		}
	}
}

func TestRunIncrementalNeverReconciles(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.seed("acme", "widgets", "stale", `{"id":"stale"}`)

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeIncremental,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, "", "a"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Deleted != 0 {
		t.Errorf("incremental pass must not delete, got %d", res.Deleted)
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "stale")]; !exists {
		t.Error("stale row should survive an incremental pass")
	}
}

func TestRunLimitStopsAndSkipsReconcile(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.seed("acme", "widgets", "stale", `{"id":"stale"}`)

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		Limit:         2,
		List: func(_ context.Context, cursor string) (*Page, error) {
			if cursor != "" {
				t.Fatalf("limit should stop before cursor %q", cursor)
			}
			return itemsPage(true, "c1", "a", "b", "c"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("expected limit to cap at 2 created, got %d", res.Created)
	}
	if !res.HasMore || res.NextCursor != "c1" {
		t.Errorf("limited pass should expose the resume cursor: %+v", res)
	}
	if res.Deleted != 0 {
		t.Error("limited pass must skip reconciliation")
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "stale")]; !exists {
		t.Error("stale row should survive a limited pass")
	}
}

func TestRunListFailureReturnsPartial(t *testing.T) {
	repo := newFakeEntityRepo()
	listErr := errors.New("upstream 503")

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		List: func(_ context.Context, cursor string) (*Page, error) {
			if cursor == "" {
				return itemsPage(true, "c1", "a"), nil
			}
			return nil, listErr
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err == nil {
		t.Fatal("expected list failure to surface")
	}
	if !errors.Is(err, listErr) {
		t.Errorf("expected wrapped list error, got %v", err)
	}
	if res == nil {
		t.Fatal("expected partial result alongside the error")
	}
	if res.Created != 1 {
		t.Errorf("expected progress from the first page, got %+v", res)
	}
	if !res.HasMore || res.NextCursor != "c1" {
		t.Errorf("failed pass should checkpoint the failing cursor: %+v", res)
	}
}

func TestRunMissingExternalIDCounted(t *testing.T) {
	repo := newFakeEntityRepo()

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeIncremental,
		List: func(_ context.Context, _ string) (*Page, error) {
			return &Page{Items: []json.RawMessage{
				json.RawMessage(`{"id":"a"}`),
				json.RawMessage(`{"name":"no id"}`),
			}}, nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Created != 1 || res.Errors != 1 {
		t.Errorf("expected 1 created and 1 error, got %+v", res)
	}
	if res.Success {
		t.Error("pass with item errors is not a success")
	}
	if len(res.ErrorMessages) != 1 {
		t.Errorf("expected one error message, got %v", res.ErrorMessages)
	}
}

func TestRunSyncFromSkipsOldItems(t *testing.T) {
	repo := newFakeEntityRepo()
	syncFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	created := map[string]time.Time{
		"old": syncFrom.Add(-time.Hour),
		"new": syncFrom.Add(time.Hour),
	}

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeIncremental,
		SyncFrom:      &syncFrom,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, "", "old", "new", "untimed"), nil
		},
		Normalize: normalizeByID,
		ItemCreatedAt: func(item json.RawMessage) (time.Time, bool) {
			var payload struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(item, &payload)
			t, ok := created[payload.ID]
			return t, ok
		},
		Entities: repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// "old" is skipped; "new" and the untimed item are ingested.
	if res.Created != 2 {
		t.Errorf("expected 2 created, got %+v", res)
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "old")]; exists {
		t.Error("pre-window item should be skipped")
	}
}

func TestRunSyncFromScopesReconciliation(t *testing.T) {
	repo := newFakeEntityRepo()
	syncFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Created before the window: exempt from reconciliation.
	repo.seed("acme", "widgets", "ancient", `{"id":"ancient","created":`+
		fmt.Sprintf("%d", syncFrom.Add(-time.Hour).Unix())+`}`)
	// Created inside the window but absent upstream: reconciled away.
	repo.seed("acme", "widgets", "stale", `{"id":"stale","created":`+
		fmt.Sprintf("%d", syncFrom.Add(time.Hour).Unix())+`}`)

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeFull,
		SyncFrom:      &syncFrom,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, ""), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 scoped deletion, got %d", res.Deleted)
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "ancient")]; !exists {
		t.Error("out-of-window row must survive scoped reconciliation")
	}
	if _, exists := repo.entities[tripleKey("acme", "widgets", "stale")]; exists {
		t.Error("in-window stale row should be removed")
	}
}

func TestRunUpsertErrorsCounted(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.upsertErr = errors.New("db locked")

	res, err := Run(context.Background(), Pass{
		AppKey:        "acme",
		CollectionKey: "widgets",
		Mode:          models.SyncModeIncremental,
		List: func(_ context.Context, _ string) (*Page, error) {
			return itemsPage(false, "", "a", "b"), nil
		},
		Normalize: normalizeByID,
		Entities:  repo,
	})
	if err != nil {
		t.Fatalf("per-item upsert failures must not abort the pass: %v", err)
	}
	if res.Errors != 2 || res.Created != 0 {
		t.Errorf("expected 2 errors, got %+v", res)
	}
	if res.Success {
		t.Error("pass with upsert errors is not a success")
	}
}
