package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"curator/internal/catalog"
)

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.OpenPath(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createVersion(t *testing.T, store *catalog.Store) (*catalog.Document, *catalog.Version) {
	t.Helper()
	ctx := context.Background()
	doc := &catalog.Document{ID: uuid.NewString(), Filename: "report.pdf", ContentType: "application/pdf"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	expiry := time.Now().Add(time.Hour)
	version := &catalog.Version{
		ID:             uuid.NewString(),
		DocumentID:     doc.ID,
		StorageKey:     "documents/" + doc.ID + "/v1/report.pdf",
		GrantExpiresAt: &expiry,
	}
	if err := store.CreateVersion(ctx, version); err != nil {
		t.Fatalf("create version: %v", err)
	}
	return doc, version
}

func TestCreateVersionAssignsSequentialNumbers(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	doc, first := createVersion(t, store)
	if first.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", first.VersionNumber)
	}
	second := &catalog.Version{ID: uuid.NewString(), DocumentID: doc.ID, StorageKey: "k2"}
	if err := store.CreateVersion(ctx, second); err != nil {
		t.Fatalf("create second version: %v", err)
	}
	if second.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %d", second.VersionNumber)
	}
}

func TestConfirmUploadIsCompareAndSet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)

	if err := store.ConfirmUpload(ctx, version.ID, 1024, "abc123"); err != nil {
		t.Fatalf("confirm upload: %v", err)
	}
	got, err := store.GetVersion(ctx, version.ID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if got.UploadStatus != catalog.UploadUploaded || got.ProcessingStatus != catalog.ProcessingUploaded {
		t.Fatalf("unexpected statuses after confirm: %+v", got)
	}
	if got.FileSize != 1024 || got.FileHash != "abc123" {
		t.Fatalf("metadata not recorded: %+v", got)
	}

	if err := store.ConfirmUpload(ctx, version.ID, 1024, "abc123"); !errors.Is(err, catalog.ErrStageConflict) {
		t.Fatalf("second confirm should report stage conflict, got %v", err)
	}
}

func TestAdvanceProcessingStatusNeverRegresses(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)
	if err := store.ConfirmUpload(ctx, version.ID, 10, "h"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := store.AdvanceProcessingStatus(ctx, version.ID, catalog.ProcessingUploaded, catalog.ProcessingExtracted); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Same transition twice: the CAS fails.
	err := store.AdvanceProcessingStatus(ctx, version.ID, catalog.ProcessingUploaded, catalog.ProcessingExtracted)
	if !errors.Is(err, catalog.ErrStageConflict) {
		t.Fatalf("expected stage conflict, got %v", err)
	}

	// Backwards transition is rejected before touching the row.
	err = store.AdvanceProcessingStatus(ctx, version.ID, catalog.ProcessingExtracted, catalog.ProcessingUploaded)
	if !errors.Is(err, catalog.ErrStageConflict) {
		t.Fatalf("expected stage conflict for regression, got %v", err)
	}

	// Skipping a stage is rejected by the CAS because the current status
	// does not match.
	err = store.AdvanceProcessingStatus(ctx, version.ID, catalog.ProcessingEmbedded, catalog.ProcessingFactsExtracted)
	if !errors.Is(err, catalog.ErrStageConflict) {
		t.Fatalf("expected stage conflict for skip, got %v", err)
	}
}

func TestStageErrorLeavesProcessingStatus(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)
	if err := store.ConfirmUpload(ctx, version.ID, 10, "h"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := store.SetStageError(ctx, version.ID, "extraction timed out", true); err != nil {
		t.Fatalf("set stage error: %v", err)
	}
	got, err := store.GetVersion(ctx, version.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessingStatus != catalog.ProcessingUploaded {
		t.Fatalf("processing status should be unchanged, got %s", got.ProcessingStatus)
	}
	if got.ExtractionError != "extraction timed out" || got.ExtractionStatus != catalog.ExtractionFailed {
		t.Fatalf("error not recorded: %+v", got)
	}
}

func TestExpirePendingUploads(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)

	count, err := store.ExpirePendingUploads(ctx, time.Now())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 0 {
		t.Fatalf("grant still valid, expected 0 expired, got %d", count)
	}

	count, err = store.ExpirePendingUploads(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired, got %d", count)
	}
	got, err := store.GetVersion(ctx, version.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UploadStatus != catalog.UploadFailed {
		t.Fatalf("expected failed upload status, got %s", got.UploadStatus)
	}
}

func TestUpsertStageOutputsIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)

	first := []catalog.StageOutput{
		{Content: "span one", CharStart: 0, CharEnd: 8},
		{Content: "span two", CharStart: 9, CharEnd: 17},
		{Content: "span three", CharStart: 18, CharEnd: 28},
	}
	if err := store.UpsertStageOutputs(ctx, version.ID, catalog.StageSpans, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Re-run with fewer rows: overwrites in place and trims the tail.
	second := []catalog.StageOutput{
		{Content: "merged span", CharStart: 0, CharEnd: 17},
		{Content: "span three", CharStart: 18, CharEnd: 28},
	}
	if err := store.UpsertStageOutputs(ctx, version.ID, catalog.StageSpans, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	outputs, err := store.ListStageOutputs(ctx, version.ID, catalog.StageSpans)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs after re-run, got %d", len(outputs))
	}
	if outputs[0].Content != "merged span" || outputs[0].Sequence != 0 {
		t.Fatalf("unexpected first output: %+v", outputs[0])
	}
}

func TestDeletionTaskBarrier(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	doc, _ := createVersion(t, store)

	tasks := []*catalog.DeletionTask{
		{Type: catalog.TaskEmbeddings, Status: catalog.TaskPending, ProcessingOrder: 1, ResourceCount: 4},
		{Type: catalog.TaskSpans, Status: catalog.TaskPending, ProcessingOrder: 2, ResourceCount: 4},
		{Type: catalog.TaskFacts, Status: catalog.TaskSkipped, ProcessingOrder: 2},
		{Type: catalog.TaskStorageObject, Status: catalog.TaskPending, ProcessingOrder: 3, ResourceCount: 1},
	}
	if err := store.CreateDeletionTasks(ctx, doc.ID, tasks); err != nil {
		t.Fatalf("create tasks: %v", err)
	}

	gotDoc, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if gotDoc.DeletionStatus != catalog.DeletionMarked {
		t.Fatalf("expected marked, got %s", gotDoc.DeletionStatus)
	}

	eligible, err := store.EligibleDeletionTasks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Type != catalog.TaskEmbeddings {
		t.Fatalf("expected only the order-1 task, got %+v", eligible)
	}

	if err := store.MarkTaskInProgress(ctx, tasks[0].ID); err != nil {
		t.Fatalf("in progress: %v", err)
	}
	if err := store.MarkTaskCompleted(ctx, tasks[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Order 2 unblocks; the skipped facts task does not hold the barrier.
	eligible, err = store.EligibleDeletionTasks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Type != catalog.TaskSpans {
		t.Fatalf("expected spans task eligible, got %+v", eligible)
	}
}

func TestResetFailedTasksSkipsCompleted(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	doc, _ := createVersion(t, store)
	tasks := []*catalog.DeletionTask{
		{Type: catalog.TaskEmbeddings, Status: catalog.TaskPending, ProcessingOrder: 1},
		{Type: catalog.TaskStorageObject, Status: catalog.TaskPending, ProcessingOrder: 2},
	}
	if err := store.CreateDeletionTasks(ctx, doc.ID, tasks); err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	if err := store.MarkTaskCompleted(ctx, tasks[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.MarkTaskFailed(ctx, tasks[1].ID, "storage unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	reset, err := store.ResetFailedTasks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}

	completed, err := store.GetDeletionTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if completed.Status != catalog.TaskCompleted {
		t.Fatalf("completed task must stay completed, got %s", completed.Status)
	}
	failed, err := store.GetDeletionTask(ctx, tasks[1].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if failed.Status != catalog.TaskPending || failed.RetryCount != 1 {
		t.Fatalf("failed task should be pending with retry count kept: %+v", failed)
	}
}

func TestAggregateDeletionStatus(t *testing.T) {
	mk := func(status catalog.TaskStatus, retries int) *catalog.DeletionTask {
		return &catalog.DeletionTask{Status: status, RetryCount: retries}
	}
	cases := []struct {
		name  string
		tasks []*catalog.DeletionTask
		want  catalog.DeletionStatus
	}{
		{"all pending", []*catalog.DeletionTask{mk(catalog.TaskPending, 0)}, catalog.DeletionMarked},
		{"pending with pre-skipped classes", []*catalog.DeletionTask{mk(catalog.TaskPending, 0), mk(catalog.TaskSkipped, 0), mk(catalog.TaskPending, 0)}, catalog.DeletionMarked},
		{"in flight", []*catalog.DeletionTask{mk(catalog.TaskCompleted, 0), mk(catalog.TaskPending, 0)}, catalog.DeletionDeleting},
		{"in progress with skipped", []*catalog.DeletionTask{mk(catalog.TaskInProgress, 0), mk(catalog.TaskSkipped, 0)}, catalog.DeletionDeleting},
		{"all done", []*catalog.DeletionTask{mk(catalog.TaskCompleted, 0), mk(catalog.TaskSkipped, 0)}, catalog.DeletionDeleted},
		{"failed under budget", []*catalog.DeletionTask{mk(catalog.TaskFailed, 1)}, catalog.DeletionDeleting},
		{"failed over budget", []*catalog.DeletionTask{mk(catalog.TaskFailed, 3)}, catalog.DeletionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := catalog.AggregateDeletionStatus(tc.tasks, 3); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFindUploadedByHash(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, version := createVersion(t, store)
	if _, err := store.FindUploadedByHash(ctx, "deadbeef"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.ConfirmUpload(ctx, version.ID, 10, "deadbeef"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	found, err := store.FindUploadedByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != version.ID {
		t.Fatalf("expected version %s, got %s", version.ID, found.ID)
	}
}
