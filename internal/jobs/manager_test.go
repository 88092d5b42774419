package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"docgen-service/internal/cache"
	"docgen-service/internal/dispatch"
	"docgen-service/internal/entity"
	"docgen-service/internal/jobs"
	"docgen-service/internal/repository/postgresql"
)

func submitReq() *entity.SubmitRequest {
	return &entity.SubmitRequest{
		Specification: json.RawMessage(`{"openapi":"3.0.0","info":{"title":"Orders","version":"1.0.0"}}`),
		SpecFormat:    entity.FormatOpenAPI,
		OutputFormats: []entity.OutputFormat{entity.OutputMarkdown},
		TeamID:        "team-payments",
		ServiceName:   "orders-api",
	}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	store := newFakeStore()
	jobCache := newFakeCache()
	dispatcher := &fakeDispatcher{}
	m := jobs.NewManager(store, jobCache, dispatcher, testLogger())

	job, err := m.Submit(context.Background(), submitReq())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != entity.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if job.CompletedAt != nil {
		t.Fatalf("completed_at set on a queued job")
	}
	if job.Progress == nil || job.Progress.TotalSteps != 5 || job.Progress.CompletedSteps != 0 {
		t.Fatalf("progress = %+v, want 0/5", job.Progress)
	}

	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("durable record missing: %v", err)
	}
	if stored.Status != entity.StatusQueued {
		t.Fatalf("stored status = %s, want queued", stored.Status)
	}

	meta, _ := jobCache.GetMetadata(context.Background(), job.ID)
	if meta == nil {
		t.Fatal("metadata not cached")
	}
	if meta.TaskID == "" {
		t.Fatal("task handle not recorded")
	}
	if len(dispatcher.enqueued) != 1 || dispatcher.enqueued[0].taskType != dispatch.TaskGenerateDocs {
		t.Fatalf("enqueued = %+v, want one generation task", dispatcher.enqueued)
	}
}

func TestSubmitInsertFailureDispatchesNothing(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection refused")
	dispatcher := &fakeDispatcher{}
	m := jobs.NewManager(store, newFakeCache(), dispatcher, testLogger())

	if _, err := m.Submit(context.Background(), submitReq()); err == nil {
		t.Fatal("want error when the durable write fails")
	}
	if len(dispatcher.enqueued) != 0 {
		t.Fatalf("dispatched %d tasks after a failed insert", len(dispatcher.enqueued))
	}
}

func TestSubmitSurvivesCacheFailure(t *testing.T) {
	jobCache := newFakeCache()
	jobCache.metaErr = errors.New("redis down")
	jobCache.progressErr = jobCache.metaErr
	m := jobs.NewManager(newFakeStore(), jobCache, &fakeDispatcher{}, testLogger())

	job, err := m.Submit(context.Background(), submitReq())
	if err != nil {
		t.Fatalf("Submit with degraded cache: %v", err)
	}
	if job.Status != entity.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
}

func TestSubmitDispatchFailureMarksJobFailed(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{enqueueErr: errors.New("broker unavailable")}
	m := jobs.NewManager(store, newFakeCache(), dispatcher, testLogger())

	_, err := m.Submit(context.Background(), submitReq())
	if err == nil {
		t.Fatal("want error when dispatch fails")
	}

	var failed *entity.Job
	for _, job := range store.jobs {
		failed = job
	}
	if failed == nil {
		t.Fatal("durable record missing")
	}
	if failed.Status != entity.StatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.ErrorMessage == nil || failed.CompletedAt == nil {
		t.Fatal("failed job must carry an error message and completion time")
	}
}

func TestBeginProcessingMovesQueuedJobOnce(t *testing.T) {
	store := newFakeStore()
	m := jobs.NewManager(store, newFakeCache(), &fakeDispatcher{}, testLogger())

	job := &entity.Job{ID: uuid.New(), Status: entity.StatusQueued, CreatedAt: time.Now().UTC()}
	store.put(job)

	proceed, err := m.BeginProcessing(context.Background(), job.ID)
	if err != nil || !proceed {
		t.Fatalf("BeginProcessing = %v, %v; want true, nil", proceed, err)
	}

	// A re-delivered task may resume a processing job.
	proceed, err = m.BeginProcessing(context.Background(), job.ID)
	if err != nil || !proceed {
		t.Fatalf("second BeginProcessing = %v, %v; want true, nil", proceed, err)
	}
}

func TestBeginProcessingRefusesCancelledJob(t *testing.T) {
	store := newFakeStore()
	m := jobs.NewManager(store, newFakeCache(), &fakeDispatcher{}, testLogger())

	now := time.Now().UTC()
	job := &entity.Job{ID: uuid.New(), Status: entity.StatusCancelled, CreatedAt: now, CompletedAt: &now}
	store.put(job)

	proceed, err := m.BeginProcessing(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	if proceed {
		t.Fatal("cancelled job must not start processing")
	}
}

func TestCompleteRecordsResultAndTerminalStatus(t *testing.T) {
	store := newFakeStore()
	jobCache := newFakeCache()
	m := jobs.NewManager(store, jobCache, &fakeDispatcher{}, testLogger())

	job := &entity.Job{ID: uuid.New(), Status: entity.StatusProcessing, CreatedAt: time.Now().UTC()}
	store.put(job)
	_ = jobCache.SetMetadata(context.Background(), &cache.Metadata{JobID: job.ID, Status: entity.StatusProcessing})

	results := json.RawMessage(`{"generated_content":{"markdown":"# Orders"}}`)
	if err := m.Complete(context.Background(), job.ID, results); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stored, _ := store.Get(context.Background(), job.ID)
	if stored.Status != entity.StatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	got, _ := jobCache.GetResult(context.Background(), job.ID)
	if string(got) != string(results) {
		t.Fatalf("cached result = %s", got)
	}
	progress, _ := jobCache.GetProgress(context.Background(), job.ID)
	if progress == nil || progress.CompletedSteps != progress.TotalSteps {
		t.Fatalf("final progress = %+v, want all steps complete", progress)
	}
}

func TestCompleteLosesRaceToCancellation(t *testing.T) {
	store := newFakeStore()
	jobCache := newFakeCache()
	m := jobs.NewManager(store, jobCache, &fakeDispatcher{}, testLogger())

	now := time.Now().UTC()
	job := &entity.Job{ID: uuid.New(), Status: entity.StatusCancelled, CreatedAt: now, CompletedAt: &now}
	store.put(job)
	_ = jobCache.SetMetadata(context.Background(), &cache.Metadata{JobID: job.ID, Status: entity.StatusCancelled})

	err := m.Complete(context.Background(), job.ID, json.RawMessage(`{}`))
	if !errors.Is(err, postgresql.ErrInvalidTransition) {
		t.Fatalf("Complete on cancelled job = %v, want ErrInvalidTransition", err)
	}

	stored, _ := store.Get(context.Background(), job.ID)
	if stored.Status != entity.StatusCancelled {
		t.Fatalf("status = %s, cancellation must stand", stored.Status)
	}
	meta, _ := jobCache.GetMetadata(context.Background(), job.ID)
	if meta.Status != entity.StatusCancelled {
		t.Fatalf("cached status = %s, cancellation must stand", meta.Status)
	}
	if result, _ := jobCache.GetResult(context.Background(), job.ID); result != nil {
		t.Fatal("result cached for a cancelled job")
	}
}

func TestFailOnTerminalJobIsQuiet(t *testing.T) {
	store := newFakeStore()
	m := jobs.NewManager(store, newFakeCache(), &fakeDispatcher{}, testLogger())

	now := time.Now().UTC()
	job := &entity.Job{ID: uuid.New(), Status: entity.StatusCompleted, CreatedAt: now, CompletedAt: &now}
	store.put(job)

	if err := m.Fail(context.Background(), job.ID, "late failure"); err != nil {
		t.Fatalf("Fail on terminal job = %v, want nil", err)
	}
	stored, _ := store.Get(context.Background(), job.ID)
	if stored.Status != entity.StatusCompleted {
		t.Fatalf("status = %s, completed must stand", stored.Status)
	}
}

func TestCancelActiveJob(t *testing.T) {
	store := newFakeStore()
	jobCache := newFakeCache()
	dispatcher := &fakeDispatcher{}
	m := jobs.NewManager(store, jobCache, dispatcher, testLogger())

	job := &entity.Job{ID: uuid.New(), Status: entity.StatusQueued, CreatedAt: time.Now().UTC()}
	store.put(job)
	_ = jobCache.SetMetadata(context.Background(), &cache.Metadata{JobID: job.ID, Status: entity.StatusQueued, TaskID: "task-42"})

	cancelled, err := m.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("Cancel = false, want true")
	}
	if len(dispatcher.revoked) != 1 || dispatcher.revoked[0] != "task-42" {
		t.Fatalf("revoked = %v, want the cached task handle", dispatcher.revoked)
	}
	stored, _ := store.Get(context.Background(), job.ID)
	if stored.Status != entity.StatusCancelled || stored.CompletedAt == nil {
		t.Fatalf("stored = %+v, want cancelled with completed_at", stored)
	}
}

func TestCancelTerminalJobMutatesNothing(t *testing.T) {
	store := newFakeStore()
	m := jobs.NewManager(store, newFakeCache(), &fakeDispatcher{}, testLogger())

	completedAt := time.Now().UTC().Add(-time.Minute)
	job := &entity.Job{ID: uuid.New(), Status: entity.StatusCompleted, CreatedAt: completedAt.Add(-time.Minute), CompletedAt: &completedAt}
	store.put(job)

	cancelled, err := m.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled {
		t.Fatal("Cancel = true on a terminal job")
	}
	stored, _ := store.Get(context.Background(), job.ID)
	if stored.Status != entity.StatusCompleted || !stored.CompletedAt.Equal(completedAt) {
		t.Fatalf("terminal job mutated: %+v", stored)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	m := jobs.NewManager(newFakeStore(), newFakeCache(), &fakeDispatcher{}, testLogger())

	_, err := m.Cancel(context.Background(), uuid.New())
	if !errors.Is(err, postgresql.ErrNotFound) {
		t.Fatalf("Cancel unknown = %v, want ErrNotFound", err)
	}
}

func TestCleanupExpiredDeletesOnlyOldEntries(t *testing.T) {
	store := newFakeStore()
	jobCache := newFakeCache()
	m := jobs.NewManager(store, jobCache, &fakeDispatcher{}, testLogger())

	old := uuid.New()
	fresh := uuid.New()
	_ = jobCache.SetMetadata(context.Background(), &cache.Metadata{JobID: old, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)})
	_ = jobCache.SetMetadata(context.Background(), &cache.Metadata{JobID: fresh, CreatedAt: time.Now().UTC().Add(-time.Hour)})

	// Durable record for the old job must survive the sweep.
	now := time.Now().UTC()
	store.put(&entity.Job{ID: old, Status: entity.StatusCompleted, CreatedAt: now.Add(-48 * time.Hour), CompletedAt: &now})

	cleaned, err := m.CleanupExpired(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}
	if meta, _ := jobCache.GetMetadata(context.Background(), old); meta != nil {
		t.Fatal("expired entry still cached")
	}
	if meta, _ := jobCache.GetMetadata(context.Background(), fresh); meta == nil {
		t.Fatal("young entry deleted")
	}
	if _, err := store.Get(context.Background(), old); err != nil {
		t.Fatalf("durable record deleted by cache sweep: %v", err)
	}
}
