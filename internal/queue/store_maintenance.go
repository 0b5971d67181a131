package queue

import (
	"context"
	"fmt"
	"time"
)

// ReclaimExpiredLeases returns running jobs whose lease lapsed without a
// heartbeat back to retrying, immediately eligible for another lease. This is
// the crash-recovery path, so it is silent: no error is recorded on the job.
func (s *Store) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	now := time.Now()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, lease_expires_at = NULL, scheduled_at = ?, updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StatusRetrying, timeString(now), timeString(now), StatusRunning, timeString(now),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale returns any job running since before the cutoff to retrying,
// lease or not. Backstop for workers that keep heartbeating but never finish.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, lease_expires_at = NULL, scheduled_at = ?, updated_at = ?
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		StatusRetrying, timeString(now), timeString(now), StatusRunning, timeString(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// MarkCanceled finalizes a running job whose worker observed the cooperative
// cancel flag.
func (s *Store) MarkCanceled(ctx context.Context, id int64) error {
	now := timeString(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, lease_expires_at = NULL, ended_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCanceled, now, now, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark job %d canceled: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("mark job %d canceled: job is not running", id)
	}
	return nil
}

// RetryFailed moves failed jobs back to queued with a fresh attempt budget.
// With no ids, every failed job is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := timeString(time.Now())
	if len(ids) == 0 {
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, attempts = 0, error_message = NULL, cancel_requested = 0,
                    scheduled_at = NULL, ended_at = NULL, updated_at = ?
             WHERE status = ?`,
			StatusQueued, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusQueued, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, attempts = 0, error_message = NULL, cancel_requested = 0,
                scheduled_at = NULL, ended_at = NULL, updated_at = ?
         WHERE id IN (`+placeholders+`) AND status = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted deletes succeeded and canceled jobs, keeping failed ones for
// operator review.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?)`,
		StatusSucceeded, StatusCanceled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	return res.RowsAffected()
}

// HealthSummary aggregates queue depth per status.
type HealthSummary struct {
	Total     int64
	ByStatus  map[Status]int64
	ByLane    map[Lane]int64
	OldestAge time.Duration
}

// Health returns aggregate queue diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	summary := HealthSummary{
		ByStatus: make(map[Status]int64),
		ByLane:   make(map[Lane]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("queue health by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("scan status count: %w", err)
		}
		summary.ByStatus[Status(status)] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	laneRows, err := s.db.QueryContext(ctx,
		`SELECT lane, COUNT(1) FROM jobs WHERE status IN (?, ?) GROUP BY lane`,
		StatusQueued, StatusRetrying,
	)
	if err != nil {
		return summary, fmt.Errorf("queue health by lane: %w", err)
	}
	defer laneRows.Close()
	for laneRows.Next() {
		var lane string
		var count int64
		if err := laneRows.Scan(&lane, &count); err != nil {
			return summary, fmt.Errorf("scan lane count: %w", err)
		}
		summary.ByLane[Lane(lane)] = count
	}
	if err := laneRows.Err(); err != nil {
		return summary, err
	}

	var oldest string
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(created_at), '') FROM jobs WHERE status = ?`, StatusQueued,
	)
	if err := row.Scan(&oldest); err == nil && oldest != "" {
		if t, perr := parseTimeString(oldest); perr == nil {
			summary.OldestAge = time.Since(t)
		}
	}

	return summary, nil
}
