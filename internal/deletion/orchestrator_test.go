package deletion_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/deletion"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/storage"
)

// flakyStore fails the first N object deletes, then behaves.
type flakyStore struct {
	storage.ArtifactStore
	failures int
}

func (f *flakyStore) DeleteObject(ctx context.Context, key string) error {
	if f.failures > 0 {
		f.failures--
		return services.Wrap(services.ErrExternalService, "storage", "delete object", "backend unavailable", nil)
	}
	return f.ArtifactStore.DeleteObject(ctx, key)
}

type harness struct {
	cfg          *config.Config
	catalog      *catalog.Store
	jobs         *queue.Store
	artifacts    *flakyStore
	orchestrator *deletion.Orchestrator
	document     *catalog.Document
	version      *catalog.Version
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()

	catalogStore, err := catalog.OpenPath(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = catalogStore.Close() })
	jobStore, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = jobStore.Close() })
	local, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	artifacts := &flakyStore{ArtifactStore: local}

	doc := &catalog.Document{ID: uuid.NewString(), Filename: "doomed.pdf", ContentType: "application/pdf"}
	if err := catalogStore.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	version := &catalog.Version{ID: uuid.NewString(), DocumentID: doc.ID, StorageKey: "documents/" + doc.ID + "/v1"}
	if err := catalogStore.CreateVersion(ctx, version); err != nil {
		t.Fatalf("create version: %v", err)
	}
	if err := catalogStore.ConfirmUpload(ctx, version.ID, 10, "h"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := catalogStore.SetExtractionResult(ctx, version.ID, "searchable text", 1); err != nil {
		t.Fatalf("extraction result: %v", err)
	}
	spans := []catalog.StageOutput{{Content: "a"}, {Content: "b"}}
	if err := catalogStore.UpsertStageOutputs(ctx, version.ID, catalog.StageSpans, spans); err != nil {
		t.Fatalf("spans: %v", err)
	}
	embeds := []catalog.StageOutput{{Content: "a", Vector: "[0.1]"}, {Content: "b", Vector: "[0.2]"}}
	if err := catalogStore.UpsertStageOutputs(ctx, version.ID, catalog.StageEmbed, embeds); err != nil {
		t.Fatalf("embeddings: %v", err)
	}

	return &harness{
		cfg:          cfg,
		catalog:      catalogStore,
		jobs:         jobStore,
		artifacts:    artifacts,
		orchestrator: deletion.New(cfg, catalogStore, jobStore, artifacts, nil),
		document:     doc,
		version:      version,
	}
}

// drain executes queued deletion-task jobs until none remain or progress
// stops, mimicking the worker loop.
func (h *harness) drain(t *testing.T) []error {
	t.Helper()
	ctx := context.Background()
	handler := deletion.NewTaskHandler(h.orchestrator)
	var failures []error
	for i := 0; i < 50; i++ {
		job, err := h.jobs.Lease(ctx, queue.LaneNormal, "test-worker", h.cfg.LeaseDuration())
		if err != nil {
			t.Fatalf("lease: %v", err)
		}
		if job == nil {
			return failures
		}
		if execErr := handler.Execute(ctx, job); execErr != nil {
			failures = append(failures, execErr)
			if _, failErr := h.jobs.Fail(ctx, job.ID, execErr.Error(), 0); failErr != nil {
				t.Fatalf("fail job: %v", failErr)
			}
			continue
		}
		if err := h.jobs.Complete(ctx, job.ID, ""); err != nil {
			t.Fatalf("complete job: %v", err)
		}
	}
	t.Fatal("drain did not converge")
	return nil
}

func TestRequestDeleteMaterializesOrderedTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	summary, err := h.orchestrator.RequestDelete(ctx, h.document.ID)
	if err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if summary.Status != catalog.DeletionMarked {
		t.Fatalf("expected marked, got %s", summary.Status)
	}
	if len(summary.Tasks) != 6 {
		t.Fatalf("expected 6 tasks, got %d", len(summary.Tasks))
	}
	// Facts were never extracted, so that class is pre-skipped.
	for _, task := range summary.Tasks {
		if task.Type == catalog.TaskFacts && task.Status != catalog.TaskSkipped {
			t.Fatalf("facts task should be skipped: %+v", task)
		}
	}

	// A second request does not duplicate tasks.
	again, err := h.orchestrator.RequestDelete(ctx, h.document.ID)
	if err != nil {
		t.Fatalf("repeat request: %v", err)
	}
	if len(again.Tasks) != 6 {
		t.Fatalf("task set duplicated: %d tasks", len(again.Tasks))
	}
}

func TestRequestDeleteCancelsOutstandingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	queued, err := h.jobs.Enqueue(ctx, queue.NewJob{
		Type: queue.TypeEmbed, EntityType: "version", EntityID: h.version.ID,
		Payload: "{}", MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := h.orchestrator.RequestDelete(ctx, h.document.ID); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	job, err := h.jobs.Get(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != queue.StatusCanceled {
		t.Fatalf("pipeline job should be canceled, got %s", job.Status)
	}
}

func TestDeletionRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orchestrator.RequestDelete(ctx, h.document.ID); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if failures := h.drain(t); len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	summary, err := h.orchestrator.Status(ctx, h.document.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Status != catalog.DeletionDeleted {
		t.Fatalf("expected deleted, got %s", summary.Status)
	}
	// The document row is gone but status still resolves from the tasks.
	if _, err := h.catalog.GetDocument(ctx, h.document.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("document row should be gone, got %v", err)
	}
	for _, stageName := range []string{catalog.StageSpans, catalog.StageEmbed, catalog.StageQuality} {
		count, err := h.catalog.CountDocumentStageOutputs(ctx, h.document.ID, stageName)
		if err != nil || count != 0 {
			t.Fatalf("stage %s not cleaned: %d (%v)", stageName, count, err)
		}
	}
}

func TestDeletionRecoversAfterRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.artifacts.failures = h.cfg.Jobs.DefaultMaxAttempts

	if _, err := h.orchestrator.RequestDelete(ctx, h.document.ID); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if failures := h.drain(t); len(failures) == 0 {
		t.Fatal("expected the storage_object task to fail")
	}

	summary, err := h.orchestrator.Status(ctx, h.document.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Status != catalog.DeletionFailed {
		t.Fatalf("expected failed after exhausted retries, got %s", summary.Status)
	}

	// The retry endpoint resets only the failed task; the backend has
	// recovered, so the run finishes.
	if _, err := h.orchestrator.RetryDocumentDeletion(ctx, h.document.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if failures := h.drain(t); len(failures) != 0 {
		t.Fatalf("unexpected failures after retry: %v", failures)
	}
	summary, err = h.orchestrator.Status(ctx, h.document.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Status != catalog.DeletionDeleted {
		t.Fatalf("expected deleted after retry, got %s", summary.Status)
	}
}

func TestRetryWithoutFailedTasks(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.RetryDocumentDeletion(context.Background(), h.document.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
