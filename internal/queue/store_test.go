package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"curator/internal/queue"
)

func newStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func enqueue(t *testing.T, store *queue.Store, req queue.NewJob) *queue.Job {
	t.Helper()
	if req.MaxAttempts == 0 {
		req.MaxAttempts = 3
	}
	if req.EntityType == "" {
		req.EntityType = "document_version"
	}
	job, err := store.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	store := newStore(t)
	_, err := store.Enqueue(context.Background(), queue.NewJob{
		Type: "transcode", EntityType: "document_version", EntityID: "v1", MaxAttempts: 3,
	})
	if !errors.Is(err, queue.ErrInvalidJobKind) {
		t.Fatalf("expected ErrInvalidJobKind, got %v", err)
	}
}

func TestEnqueueDeduplicatesActiveJobs(t *testing.T) {
	store := newStore(t)
	first := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	second := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	if first.ID != second.ID {
		t.Fatalf("expected dedup to return job %d, got %d", first.ID, second.ID)
	}

	// A different type for the same entity is a new job.
	other := enqueue(t, store, queue.NewJob{Type: queue.TypeEmbed, EntityID: "v1"})
	if other.ID == first.ID {
		t.Fatal("different type should not dedup")
	}

	// Once the first job is terminal, the pair is free again.
	leased, err := store.Lease(context.Background(), queue.LaneNormal, "w1", time.Minute)
	if err != nil || leased == nil {
		t.Fatalf("lease: %v %v", leased, err)
	}
	if err := store.Complete(context.Background(), leased.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	fresh := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	if fresh.ID == first.ID {
		t.Fatal("terminal job should not suppress a new enqueue")
	}
}

func TestLeaseClaimsOldestAndIncrementsAttempts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	first := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v2"})

	job, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if job == nil || job.ID != first.ID {
		t.Fatalf("expected oldest job %d, got %+v", first.ID, job)
	}
	if job.Status != queue.StatusRunning {
		t.Fatalf("expected running, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", job.Attempts)
	}
	if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.After(time.Now()) {
		t.Fatalf("expected future lease expiry, got %v", job.LeaseExpiresAt)
	}
}

func TestLeaseHonorsLanePartitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "low", Priority: -5})
	high := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "high", Priority: 10})

	if high.Lane != queue.LaneHigh {
		t.Fatalf("priority 10 should map to high lane, got %s", high.Lane)
	}

	job, err := store.Lease(ctx, queue.LaneHigh, "w1", time.Minute)
	if err != nil || job == nil {
		t.Fatalf("lease high: %v %v", job, err)
	}
	if job.EntityID != "high" {
		t.Fatalf("high lane leased %q", job.EntityID)
	}

	if job, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil || job != nil {
		t.Fatalf("normal lane should be empty, got %v %v", job, err)
	}
}

func TestLeaseDefersScheduledRetry(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})

	leased, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute)
	if err != nil || leased == nil {
		t.Fatalf("lease: %v %v", leased, err)
	}
	status, err := store.Fail(ctx, job.ID, "timeout", time.Hour)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if status != queue.StatusRetrying {
		t.Fatalf("expected retrying, got %s", status)
	}

	if again, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil || again != nil {
		t.Fatalf("retrying job with future scheduled_at should be invisible, got %v %v", again, err)
	}
}

func TestLeaseDefersDelayedQueuedJob(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "later", ScheduledAt: &future})

	if job, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil || job != nil {
		t.Fatalf("queued job with future scheduled_at should be invisible, got %v %v", job, err)
	}

	past := time.Now().Add(-time.Minute)
	due := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "now", ScheduledAt: &past})
	job, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute)
	if err != nil || job == nil {
		t.Fatalf("lease: %v %v", job, err)
	}
	if job.ID != due.ID {
		t.Fatalf("expected due job %d, got %d", due.ID, job.ID)
	}
}

func TestFailExhaustsAttempts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1", MaxAttempts: 3})

	for attempt := 1; attempt <= 3; attempt++ {
		leased, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute)
		if err != nil || leased == nil {
			t.Fatalf("lease attempt %d: %v %v", attempt, leased, err)
		}
		if leased.Attempts != attempt {
			t.Fatalf("attempt %d: attempts=%d", attempt, leased.Attempts)
		}
		status, err := store.Fail(ctx, job.ID, "extraction timeout", 0)
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if attempt < 3 && status != queue.StatusRetrying {
			t.Fatalf("attempt %d: expected retrying, got %s", attempt, status)
		}
		if attempt == 3 && status != queue.StatusFailed {
			t.Fatalf("attempt 3: expected failed, got %s", status)
		}
	}

	final, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Attempts != final.MaxAttempts {
		t.Fatalf("attempts %d exceeded max %d", final.Attempts, final.MaxAttempts)
	}
	if final.ErrorMessage != "extraction timeout" {
		t.Fatalf("missing error message, got %q", final.ErrorMessage)
	}
}

func TestFailPermanentSkipsRetries(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1", MaxAttempts: 5})

	if _, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := store.FailPermanent(ctx, job.ID, "unsupported type"); err != nil {
		t.Fatalf("fail permanent: %v", err)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestCompleteRecordsResult(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	if _, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := store.Complete(ctx, job.ID, `{"pages":4}`); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusSucceeded || got.Result != `{"pages":4}` {
		t.Fatalf("unexpected job after complete: %+v", got)
	}
	if got.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
}

func TestCancelQueuedVersusRunning(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	queued := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	outcome, err := store.Cancel(ctx, queued.ID)
	if err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if outcome != queue.CancelOutcomeCanceled {
		t.Fatalf("expected canceled outcome, got %s", outcome)
	}

	running := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v2"})
	if _, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	outcome, err = store.Cancel(ctx, running.ID)
	if err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	if outcome != queue.CancelOutcomeFlagged {
		t.Fatalf("expected flagged outcome, got %s", outcome)
	}
	got, err := store.Get(ctx, running.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusRunning || !got.CancelRequested {
		t.Fatalf("running job should stay running with flag set: %+v", got)
	}

	if _, err := store.Cancel(ctx, queued.ID); !errors.Is(err, queue.ErrCancelNotAllowed) {
		t.Fatalf("expected ErrCancelNotAllowed on terminal job, got %v", err)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})

	if _, err := store.Lease(ctx, queue.LaneNormal, "w1", -time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}
	reclaimed, err := store.ReclaimExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", reclaimed)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusRetrying {
		t.Fatalf("expected retrying after reclaim, got %s", got.Status)
	}

	// Reclaimed job is immediately leasable again with attempts preserved.
	again, err := store.Lease(ctx, queue.LaneNormal, "w2", time.Minute)
	if err != nil || again == nil {
		t.Fatalf("re-lease: %v %v", again, err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected attempts=2 after re-lease, got %d", again.Attempts)
	}
}

func TestRetryFailedResetsAttemptBudget(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job := enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1", MaxAttempts: 1})
	if _, err := store.Lease(ctx, queue.LaneNormal, "w1", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if _, err := store.Fail(ctx, job.ID, "boom", 0); err != nil {
		t.Fatalf("fail: %v", err)
	}

	count, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 retried, got %d", count)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusQueued || got.Attempts != 0 || got.ErrorMessage != "" {
		t.Fatalf("retry did not reset job: %+v", got)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v" + string(rune('a'+i))})
	}
	enqueue(t, store, queue.NewJob{Type: queue.TypeEmbed, EntityID: "other"})

	extracts, err := store.List(ctx, queue.Filter{Type: queue.TypeExtract})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(extracts) != 5 {
		t.Fatalf("expected 5 extract jobs, got %d", len(extracts))
	}

	page, err := store.List(ctx, queue.Filter{Type: queue.TypeExtract, Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 job on final page, got %d", len(page))
	}

	queued, err := store.List(ctx, queue.Filter{Status: queue.StatusQueued})
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 6 {
		t.Fatalf("expected 6 queued, got %d", len(queued))
	}

	if _, err := store.List(ctx, queue.Filter{Status: "sleeping"}); err == nil {
		t.Fatal("expected error for invalid status filter")
	}
}

func TestHealthCounts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v1"})
	enqueue(t, store, queue.NewJob{Type: queue.TypeExtract, EntityID: "v2", Priority: 20})

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 2 {
		t.Fatalf("expected total 2, got %d", health.Total)
	}
	if health.ByStatus[queue.StatusQueued] != 2 {
		t.Fatalf("expected 2 queued, got %d", health.ByStatus[queue.StatusQueued])
	}
	if health.ByLane[queue.LaneHigh] != 1 || health.ByLane[queue.LaneNormal] != 1 {
		t.Fatalf("unexpected lane counts: %+v", health.ByLane)
	}
}
