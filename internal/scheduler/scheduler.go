// Package scheduler enqueues incremental sync jobs on cron schedules
// from the app configuration file.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
)

// Scheduler runs the configured sync schedules.
type Scheduler struct {
	cron     *cron.Cron
	registry *connector.Registry
	jobRepo  repository.JobRepository
	logger   *slog.Logger
}

// New builds a scheduler from the enabled sync_schedules entries.
// Standard five-field cron expressions.
func New(apps *config.AppsFile, registry *connector.Registry, jobRepo repository.JobRepository, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		registry: registry,
		jobRepo:  jobRepo,
		logger:   logger.With("component", "scheduler"),
	}

	for _, sched := range apps.SyncSchedules {
		if !sched.Enabled {
			continue
		}
		appKey := sched.AppKey
		if _, err := s.cron.AddFunc(sched.Cron, func() { s.enqueue(appKey) }); err != nil {
			return nil, fmt.Errorf("failed to parse cron %q for app %s: %w", sched.Cron, appKey, err)
		}
		s.logger.Info("registered sync schedule", "app_key", appKey, "cron", sched.Cron)
	}
	return s, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for in-flight enqueues.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// enqueue creates a durable incremental job for the app unless one is
// already queued or running.
func (s *Scheduler) enqueue(appKey string) {
	ctx := context.Background()

	active, err := s.jobRepo.CountActiveByAppKey(ctx, appKey)
	if err != nil {
		s.logger.Error("failed to count active jobs", "app_key", appKey, "error", err)
		return
	}
	if active > 0 {
		s.logger.Warn("skipping scheduled sync, app already has an active job", "app_key", appKey)
		return
	}

	conn, app, err := s.registry.ForApp(appKey)
	if err != nil {
		s.logger.Error("failed to resolve connector for schedule", "app_key", appKey, "error", err)
		return
	}

	resourceTypes := syncengine.ResolveResources(conn, app, nil)
	now := time.Now().UTC()
	job := &models.SyncJob{
		ID:            ulid.Make().String(),
		AppKey:        appKey,
		Mode:          models.SyncModeIncremental,
		ResourceTypes: resourceTypes,
		Status:        models.SyncStatusQueued,
		CreatedAt:     now,
	}
	if err := s.jobRepo.CreateJob(ctx, job); err != nil {
		s.logger.Error("failed to create scheduled job", "app_key", appKey, "error", err)
		return
	}
	for _, rt := range resourceTypes {
		task := &models.SyncJobTask{
			ID:           ulid.Make().String(),
			JobID:        job.ID,
			ResourceType: rt,
			Status:       models.SyncStatusQueued,
			CreatedAt:    now,
		}
		if err := s.jobRepo.AddTask(ctx, task); err != nil {
			s.logger.Error("failed to create scheduled task", "app_key", appKey, "resource_type", rt, "error", err)
		}
	}
	s.logger.Info("enqueued scheduled sync", "app_key", appKey, "job_id", job.ID, "resource_types", resourceTypes)
}
