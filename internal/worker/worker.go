// Package worker drains queued sync job tasks in the background.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/logging"
	"github.com/leftbrainit/supasaasy/internal/models"
	"github.com/leftbrainit/supasaasy/internal/notify"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
)

// Worker claims queued sync tasks and executes them.
type Worker struct {
	jobRepo      repository.JobRepository
	registry     *connector.Registry
	runner       *syncengine.Runner
	notifier     *notify.Notifier
	pollInterval time.Duration
	wallClock    time.Duration
	concurrency  int
	stop         chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	// WallClock is the soft budget one drain pass may consume. Tasks
	// left over stay queued for the next tick.
	WallClock   time.Duration
	Concurrency int
}

// New creates a new worker. The notifier may be nil.
func New(
	jobRepo repository.JobRepository,
	registry *connector.Registry,
	runner *syncengine.Runner,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.WallClock == 0 {
		cfg.WallClock = 5 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobRepo:      jobRepo,
		registry:     registry,
		runner:       runner,
		notifier:     notifier,
		pollInterval: cfg.PollInterval,
		wallClock:    cfg.WallClock,
		concurrency:  cfg.Concurrency,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins processing tasks.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx, workerID)
		}
	}
}

// drain claims and executes tasks until the queue is empty or the
// wall-clock budget runs out.
func (w *Worker) drain(ctx context.Context, workerID int) {
	deadline := time.Now().Add(w.wallClock)
	for time.Now().Before(deadline) {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.jobRepo.ClaimQueuedTask(ctx)
		if err != nil {
			w.logger.Error("failed to claim task", "worker_id", workerID, "error", err)
			return
		}
		if task == nil {
			return
		}
		w.processTask(ctx, workerID, task)
	}
}

// ProcessOne claims and executes a single task. Returns false when the
// queue was empty. Exposed for tests and inline draining.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.jobRepo.ClaimQueuedTask(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.processTask(ctx, 0, task)
	return true, nil
}

func (w *Worker) processTask(ctx context.Context, workerID int, task *models.SyncJobTask) {
	ctx = logging.WithJobID(ctx, task.JobID)
	logger := logging.FromContext(ctx, w.logger).With("worker_id", workerID, "task_id", task.ID, "resource_type", task.ResourceType)

	job, err := w.jobRepo.GetJob(ctx, task.JobID)
	if err != nil || job == nil {
		logger.Error("failed to load job for task", "error", err)
		w.completeTask(ctx, logger, task.ID, models.SyncStatusFailed, models.SyncCounters{}, []string{"job not found"}, "")
		w.finishJob(ctx, logger, task.JobID)
		return
	}

	if job.StartedAt == nil {
		if err := w.jobRepo.MarkJobRunning(ctx, job.ID); err != nil {
			logger.Error("failed to mark job running", "error", err)
		}
	}

	conn, app, err := w.registry.ForApp(job.AppKey)
	if err != nil {
		logger.Error("failed to resolve connector", "app_key", job.AppKey, "error", err)
		w.completeTask(ctx, logger, task.ID, models.SyncStatusFailed, models.SyncCounters{}, []string{err.Error()}, "")
		w.finishJob(ctx, logger, task.JobID)
		return
	}

	logger.Info("processing task", "app_key", job.AppKey, "mode", string(job.Mode))

	result, runErr := w.runner.RunResource(ctx, conn, app, task.ResourceType, job.Mode, connector.SyncOptions{
		Cursor: task.Cursor,
	})

	status := models.SyncStatusSucceeded
	var counters models.SyncCounters
	var errMsgs []string
	var cursor string
	if result != nil {
		counters = result.Counters()
		errMsgs = result.ErrorMessages
		cursor = result.NextCursor
	}
	if runErr != nil {
		status = models.SyncStatusFailed
		if len(errMsgs) == 0 {
			errMsgs = []string{runErr.Error()}
		}
		logger.Error("task failed", "error", runErr)
	} else {
		logger.Info("task finished",
			"created", counters.Created,
			"updated", counters.Updated,
			"deleted", counters.Deleted,
			"errors", counters.Errors)
	}

	w.completeTask(ctx, logger, task.ID, status, counters, errMsgs, cursor)
	w.finishJob(ctx, logger, task.JobID)
}

func (w *Worker) completeTask(ctx context.Context, logger *slog.Logger, taskID string, status models.SyncStatus, counters models.SyncCounters, errMsgs []string, cursor string) {
	if err := w.jobRepo.CompleteTask(ctx, taskID, status, counters, errMsgs, cursor); err != nil {
		logger.Error("failed to complete task", "error", err)
	}
}

// finishJob completes the job when every task is terminal and fires the
// completion notification.
func (w *Worker) finishJob(ctx context.Context, logger *slog.Logger, jobID string) {
	if err := w.jobRepo.CompleteJob(ctx, jobID); err != nil {
		logger.Error("failed to complete job", "error", err)
		return
	}
	job, err := w.jobRepo.GetJob(ctx, jobID)
	if err != nil || job == nil {
		logger.Error("failed to reload job", "error", err)
		return
	}
	if job.Status.Terminal() {
		logger.Info("job finished", "status", string(job.Status))
		w.notifier.JobFinished(job)
	}
}
