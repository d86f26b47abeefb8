// Package syncengine runs paginated sync passes for connectors. A pass
// walks the provider listing cursor-by-cursor, upserts every normalized
// record, and for completed full passes reconciles deletions against the
// stored external ID set.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

// maxErrorMessages bounds how many per-item errors a result carries.
const maxErrorMessages = 10

// Page is one listing page from a provider API.
type Page struct {
	Items      []json.RawMessage
	NextCursor string
	HasMore    bool
}

// ListFunc fetches one page starting at cursor. An empty cursor means
// the first page.
type ListFunc func(ctx context.Context, cursor string) (*Page, error)

// NormalizeFunc maps a raw listing item to the entity shape.
type NormalizeFunc func(item json.RawMessage) (*models.NormalizedEntity, error)

// CreatedAtFunc extracts an item's upstream creation time, reporting
// whether one was found.
type CreatedAtFunc func(item json.RawMessage) (time.Time, bool)

// Pass describes one sync pass over a single collection.
type Pass struct {
	AppKey        string
	CollectionKey string
	Mode          models.SyncMode

	// SyncFrom, when set, excludes records created before it. Items
	// without a recognizable creation time are ingested regardless.
	SyncFrom *time.Time

	// Cursor resumes pagination from a checkpoint. Empty starts over.
	// A resumed pass never reconciles deletions.
	Cursor string

	// Limit stops the pass once created+updated+errors reaches it.
	// Zero means unlimited. A limited pass skips reconciliation.
	Limit int

	List          ListFunc
	Normalize     NormalizeFunc
	ItemCreatedAt CreatedAtFunc
	Entities      repository.EntityRepository
	Logger        *slog.Logger
}

// Run executes the pass. A listing failure returns the partial result
// together with the error; per-item failures only increment the error
// counter. Deletion reconciliation runs only when a full-mode pass
// walked the entire listing from the first page without hitting its
// limit.
func Run(ctx context.Context, p Pass) (*models.SyncResult, error) {
	start := time.Now()
	res := &models.SyncResult{}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]struct{})
	cursor := p.Cursor
	limitReached := false

	for {
		page, err := p.List(ctx, cursor)
		if err != nil {
			res.NextCursor = cursor
			res.HasMore = true
			res.DurationMs = time.Since(start).Milliseconds()
			appendError(res, fmt.Sprintf("list %s: %v", p.CollectionKey, err))
			return res, fmt.Errorf("failed to list %s page: %w", p.CollectionKey, err)
		}

		for _, item := range page.Items {
			if p.SyncFrom != nil && p.ItemCreatedAt != nil {
				if created, ok := p.ItemCreatedAt(item); ok && created.Before(*p.SyncFrom) {
					continue
				}
			}

			entity, err := p.Normalize(item)
			if err == nil && (entity == nil || entity.ExternalID == "") {
				err = fmt.Errorf("item has no external id")
			}
			if err != nil {
				res.Errors++
				appendError(res, fmt.Sprintf("normalize %s item: %v", p.CollectionKey, err))
			} else {
				entity.AppKey = p.AppKey
				entity.CollectionKey = p.CollectionKey
				outcome, err := p.Entities.Upsert(ctx, entity)
				if err != nil {
					res.Errors++
					appendError(res, fmt.Sprintf("upsert %s/%s: %v", p.CollectionKey, entity.ExternalID, err))
				} else {
					seen[entity.ExternalID] = struct{}{}
					if outcome == repository.OutcomeCreated {
						res.Created++
					} else {
						res.Updated++
					}
				}
			}

			if p.Limit > 0 && res.Created+res.Updated+res.Errors >= p.Limit {
				limitReached = true
				break
			}
		}

		if limitReached {
			res.NextCursor = page.NextCursor
			res.HasMore = page.HasMore
			break
		}
		// A page without a next cursor ends the walk even if it claims
		// more data; refetching the first page would loop forever.
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	// A pass resumed mid-listing never saw the earlier pages, so its
	// seen-set is not a consistent snapshot to reconcile against.
	if p.Mode == models.SyncModeFull && !limitReached && p.Cursor == "" {
		if err := reconcileDeletions(ctx, p, seen, res); err != nil {
			res.DurationMs = time.Since(start).Milliseconds()
			return res, err
		}
	}

	res.Success = res.Errors == 0
	res.DurationMs = time.Since(start).Milliseconds()
	logger.Debug("sync pass finished",
		"app_key", p.AppKey,
		"collection_key", p.CollectionKey,
		"mode", string(p.Mode),
		"created", res.Created,
		"updated", res.Updated,
		"deleted", res.Deleted,
		"errors", res.Errors,
		"duration_ms", res.DurationMs)
	return res, nil
}

// reconcileDeletions removes stored rows the completed listing never
// returned. When SyncFrom is set the stored set is scoped to rows
// created within the sync window, so out-of-window rows are untouched.
func reconcileDeletions(ctx context.Context, p Pass, seen map[string]struct{}, res *models.SyncResult) error {
	var (
		existing map[string]struct{}
		err      error
	)
	if p.SyncFrom != nil {
		existing, err = p.Entities.GetExternalIDsCreatedAfter(ctx, p.AppKey, p.CollectionKey, p.SyncFrom.Unix())
	} else {
		existing, err = p.Entities.GetExternalIDs(ctx, p.AppKey, p.CollectionKey)
	}
	if err != nil {
		appendError(res, fmt.Sprintf("load stored ids for %s: %v", p.CollectionKey, err))
		return fmt.Errorf("failed to load stored external ids: %w", err)
	}

	for id := range existing {
		if _, ok := seen[id]; ok {
			continue
		}
		existed, err := p.Entities.Delete(ctx, p.AppKey, p.CollectionKey, id)
		if err != nil {
			res.Errors++
			appendError(res, fmt.Sprintf("delete %s/%s: %v", p.CollectionKey, id, err))
			continue
		}
		if existed {
			res.Deleted++
		}
	}
	return nil
}

func appendError(res *models.SyncResult, msg string) {
	if len(res.ErrorMessages) < maxErrorMessages {
		res.ErrorMessages = append(res.ErrorMessages, msg)
	}
}
