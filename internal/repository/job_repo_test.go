package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/leftbrainit/supasaasy/internal/models"
)

func createTestJob(t *testing.T, repos *Repositories, appKey string, resourceTypes ...string) *models.SyncJob {
	t.Helper()
	ctx := context.Background()
	job := &models.SyncJob{
		ID:            ulid.Make().String(),
		AppKey:        appKey,
		Mode:          models.SyncModeFull,
		ResourceTypes: resourceTypes,
		Status:        models.SyncStatusQueued,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repos.Job.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	for _, rt := range resourceTypes {
		task := &models.SyncJobTask{
			ID:           ulid.Make().String(),
			JobID:        job.ID,
			ResourceType: rt,
			Status:       models.SyncStatusQueued,
			CreatedAt:    time.Now().UTC(),
		}
		if err := repos.Job.AddTask(ctx, task); err != nil {
			t.Fatalf("failed to add task: %v", err)
		}
	}
	return job
}

func TestJobCreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := createTestJob(t, repos, "acme", "customer", "invoice")

	got, err := repos.Job.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected job")
	}
	if got.AppKey != "acme" || got.Mode != models.SyncModeFull || got.Status != models.SyncStatusQueued {
		t.Errorf("unexpected job: %+v", got)
	}
	if len(got.ResourceTypes) != 2 {
		t.Errorf("expected 2 resource types, got %v", got.ResourceTypes)
	}

	missing, err := repos.Job.GetJob(ctx, "no-such-job")
	if err != nil {
		t.Fatalf("get missing job failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown job id")
	}
}

func TestClaimQueuedTaskFIFO(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := createTestJob(t, repos, "acme", "customer", "invoice", "product")

	var order []string
	for {
		task, err := repos.Job.ClaimQueuedTask(ctx)
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if task == nil {
			break
		}
		if task.JobID != job.ID {
			t.Errorf("claimed task from wrong job: %s", task.JobID)
		}
		if task.Status != models.SyncStatusRunning {
			t.Errorf("claimed task not marked running: %s", task.Status)
		}
		if task.StartedAt == nil {
			t.Error("claimed task missing started_at")
		}
		order = append(order, task.ResourceType)
	}

	want := []string{"customer", "invoice", "product"}
	if len(order) != len(want) {
		t.Fatalf("expected %d claims, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("claim %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestClaimQueuedTaskEmptyQueue(t *testing.T) {
	repos := setupTestRepos(t)

	task, err := repos.Job.ClaimQueuedTask(context.Background())
	if err != nil {
		t.Fatalf("claim on empty queue failed: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task, got %+v", task)
	}
}

func TestCompleteTaskAndJob(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := createTestJob(t, repos, "acme", "customer", "invoice")

	first, err := repos.Job.ClaimQueuedTask(ctx)
	if err != nil || first == nil {
		t.Fatalf("failed to claim first task: %v", err)
	}
	err = repos.Job.CompleteTask(ctx, first.ID, models.SyncStatusSucceeded,
		models.SyncCounters{Created: 3, Updated: 1}, nil, "")
	if err != nil {
		t.Fatalf("complete first task failed: %v", err)
	}

	// One task still queued: the job must not go terminal yet.
	if err := repos.Job.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("complete job failed: %v", err)
	}
	got, _ := repos.Job.GetJob(ctx, job.ID)
	if got.Status.Terminal() {
		t.Errorf("job went terminal with a queued task: %s", got.Status)
	}

	second, err := repos.Job.ClaimQueuedTask(ctx)
	if err != nil || second == nil {
		t.Fatalf("failed to claim second task: %v", err)
	}
	err = repos.Job.CompleteTask(ctx, second.ID, models.SyncStatusFailed,
		models.SyncCounters{Errors: 2}, []string{"upstream listing failed"}, "cur_42")
	if err != nil {
		t.Fatalf("complete second task failed: %v", err)
	}

	if err := repos.Job.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("complete job failed: %v", err)
	}
	got, _ = repos.Job.GetJob(ctx, job.ID)
	if got.Status != models.SyncStatusPartiallySucceeded {
		t.Errorf("expected partially_succeeded, got %s", got.Status)
	}
	if got.Counters.Created != 3 || got.Counters.Updated != 1 || got.Counters.Errors != 2 {
		t.Errorf("counters not rolled up: %+v", got.Counters)
	}
	if len(got.ErrorMessages) != 1 || got.ErrorMessages[0] != "upstream listing failed" {
		t.Errorf("error messages not rolled up: %v", got.ErrorMessages)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at on terminal job")
	}

	tasks, err := repos.Job.GetTasks(ctx, job.ID)
	if err != nil {
		t.Fatalf("get tasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ResourceType == "invoice" && task.Cursor != "cur_42" {
			t.Errorf("cursor not persisted on failed task: %q", task.Cursor)
		}
	}
}

func TestCountActive(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	createTestJob(t, repos, "acme", "customer")
	createTestJob(t, repos, "other", "customer")

	count, err := repos.Job.CountActiveByAppKey(ctx, "acme")
	if err != nil {
		t.Fatalf("count by app key failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 active job for acme, got %d", count)
	}

	total, err := repos.Job.CountActive(ctx)
	if err != nil {
		t.Fatalf("count active failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 active jobs, got %d", total)
	}

	// Drain and finish acme's task; its job leaves the active set.
	task, _ := repos.Job.ClaimQueuedTask(ctx)
	if task == nil {
		t.Fatal("expected a claimable task")
	}
	if err := repos.Job.CompleteTask(ctx, task.ID, models.SyncStatusSucceeded, models.SyncCounters{}, nil, ""); err != nil {
		t.Fatalf("complete task failed: %v", err)
	}
	if err := repos.Job.CompleteJob(ctx, task.JobID); err != nil {
		t.Fatalf("complete job failed: %v", err)
	}

	total, _ = repos.Job.CountActive(ctx)
	if total != 1 {
		t.Errorf("expected 1 active job after completion, got %d", total)
	}
}

func TestRequeueStaleRunningTasks(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	createTestJob(t, repos, "acme", "customer")

	task, err := repos.Job.ClaimQueuedTask(ctx)
	if err != nil || task == nil {
		t.Fatalf("failed to claim task: %v", err)
	}

	// A long max age does not touch the freshly claimed task.
	count, err := repos.Job.RequeueStaleRunningTasks(ctx, time.Hour)
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 requeued with fresh task, got %d", count)
	}

	// A negative max age pushes the cutoff into the future so the
	// running task counts as stale.
	count, err = repos.Job.RequeueStaleRunningTasks(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 requeued task, got %d", count)
	}

	reclaimed, err := repos.Job.ClaimQueuedTask(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != task.ID {
		t.Error("expected the requeued task to be claimable again")
	}
}
