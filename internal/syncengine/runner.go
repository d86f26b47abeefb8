package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
)

// Runner executes sync passes with watermark resolution. It is shared
// by the inline sync path and the background worker so both follow the
// same rules.
type Runner struct {
	registry  *connector.Registry
	syncState repository.SyncStateRepository
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(registry *connector.Registry, syncState repository.SyncStateRepository, logger *slog.Logger) *Runner {
	return &Runner{registry: registry, syncState: syncState, logger: logger}
}

// ResolveResources picks the resource types for a sync request:
// explicit request values win, then the app's configured sync_resources,
// then every resource the connector supports.
func ResolveResources(conn connector.Connector, app *config.AppConfig, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	if len(app.Config.SyncResources) > 0 {
		return app.Config.SyncResources
	}
	meta := conn.Metadata()
	types := make([]string, 0, len(meta.SupportedResources))
	for _, r := range meta.SupportedResources {
		types = append(types, r.ResourceType)
	}
	return types
}

// RunResource syncs one resource type. Incremental mode falls back to a
// full pass when the collection has never synced. On success with a
// complete listing the watermark is set to the instant the pass started,
// so records modified mid-pass are re-pulled next time.
func (r *Runner) RunResource(ctx context.Context, conn connector.Connector, app *config.AppConfig, resourceType string, mode models.SyncMode, opts connector.SyncOptions) (*models.SyncResult, error) {
	res := conn.Metadata().Resource(resourceType)
	if res == nil {
		return nil, fmt.Errorf("connector %s does not support resource type %s", conn.Metadata().Name, resourceType)
	}
	collectionKey := res.CollectionKey
	start := time.Now().UTC()

	var (
		result *models.SyncResult
		err    error
	)
	if mode == models.SyncModeIncremental {
		var last *time.Time
		last, err = r.syncState.GetLastSynced(ctx, app.AppKey, collectionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load sync watermark: %w", err)
		}
		if last == nil {
			result, err = conn.FullSync(ctx, app, resourceType, opts)
		} else {
			result, err = conn.IncrementalSync(ctx, app, resourceType, *last, opts)
		}
	} else {
		result, err = conn.FullSync(ctx, app, resourceType, opts)
	}
	if err != nil {
		return result, err
	}

	// The watermark only advances after a clean, complete listing;
	// errored items would otherwise be skipped by every later
	// incremental pass.
	if result.Success && !result.HasMore {
		if werr := r.syncState.SetLastSynced(ctx, app.AppKey, collectionKey, start); werr != nil {
			r.logger.Error("failed to persist sync watermark",
				"app_key", app.AppKey, "collection_key", collectionKey, "error", werr)
		}
	}
	return result, nil
}
