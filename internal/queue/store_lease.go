package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lease claims the oldest eligible job in a lane for a worker. Eligible means
// queued or retrying, with scheduled_at unset or in the past; a delayed job
// stays invisible until its scheduled time arrives. The claim atomically
// moves the job to running, increments attempts, and stamps the lease expiry.
// A job whose attempts are already exhausted is marked failed and skipped.
// Returns nil when the lane has no eligible work.
func (s *Store) Lease(ctx context.Context, lane Lane, workerID string, leaseDuration time.Duration) (*Job, error) {
	ctx = ensureContext(ctx)

	// Bounded retry: a candidate can be stolen by a concurrent worker between
	// the read and the compare-and-set, or skipped for exhausted attempts.
	for i := 0; i < 10; i++ {
		var leased *Job
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			now := time.Now()
			row := tx.QueryRowContext(ctx,
				`SELECT id, attempts, max_attempts FROM jobs
                 WHERE lane = ? AND status IN (?, ?) AND (scheduled_at IS NULL OR scheduled_at <= ?)
                 ORDER BY id LIMIT 1`,
				string(lane), StatusQueued, StatusRetrying, timeString(now),
			)
			var id int64
			var attempts, maxAttempts int
			if scanErr := row.Scan(&id, &attempts, &maxAttempts); scanErr != nil {
				if errors.Is(scanErr, sql.ErrNoRows) {
					return nil
				}
				return fmt.Errorf("select lease candidate: %w", scanErr)
			}

			if attempts >= maxAttempts {
				_, execErr := tx.ExecContext(ctx,
					`UPDATE jobs SET status = ?, error_message = COALESCE(error_message, 'attempts exhausted'), ended_at = ?, updated_at = ?
                     WHERE id = ? AND status IN (?, ?)`,
					StatusFailed, timeString(now), timeString(now), id, StatusQueued, StatusRetrying,
				)
				if execErr != nil {
					return fmt.Errorf("fail exhausted job %d: %w", id, execErr)
				}
				return nil
			}

			res, execErr := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, attempts = attempts + 1, worker_id = ?, started_at = ?,
                        lease_expires_at = ?, scheduled_at = NULL, updated_at = ?
                 WHERE id = ? AND status IN (?, ?)`,
				StatusRunning, workerID, timeString(now),
				timeString(now.Add(leaseDuration)), timeString(now),
				id, StatusQueued, StatusRetrying,
			)
			if execErr != nil {
				return fmt.Errorf("claim job %d: %w", id, execErr)
			}
			affected, _ := res.RowsAffected()
			if affected == 0 {
				return nil
			}
			job, getErr := getJobTx(ctx, tx, id)
			if getErr != nil {
				return getErr
			}
			leased = job
			return nil
		})
		if err != nil {
			return nil, err
		}
		if leased != nil {
			return leased, nil
		}
		// Distinguish "nothing eligible" from "candidate skipped or stolen".
		var remaining int
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM jobs WHERE lane = ? AND status IN (?, ?) AND (scheduled_at IS NULL OR scheduled_at <= ?)`,
			string(lane), StatusQueued, StatusRetrying, timeString(time.Now()),
		)
		if err := row.Scan(&remaining); err != nil {
			return nil, fmt.Errorf("count eligible jobs: %w", err)
		}
		if remaining == 0 {
			return nil, nil
		}
	}
	return nil, nil
}

// Complete marks a running job as succeeded and records its result.
func (s *Store) Complete(ctx context.Context, id int64, result string) error {
	now := timeString(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, result = ?, error_message = NULL, lease_expires_at = NULL, ended_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusSucceeded, nullableString(result), now, now, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("complete job %d: job is not running", id)
	}
	return nil
}

// Fail records a failed attempt on a running job. While attempts remain the
// job moves to retrying with the supplied delay; otherwise it fails terminally.
// The resulting status is returned.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string, retryAfter time.Duration) (Status, error) {
	ctx = ensureContext(ctx)
	var final Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, getErr := getJobTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		if job.Status != StatusRunning {
			return fmt.Errorf("fail job %d: job is not running (status %s)", id, job.Status)
		}

		now := time.Now()
		if job.Attempts < job.MaxAttempts {
			final = StatusRetrying
			_, execErr := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, error_message = ?, scheduled_at = ?, lease_expires_at = NULL, worker_id = NULL, updated_at = ?
                 WHERE id = ?`,
				StatusRetrying, nullableString(errMsg), timeString(now.Add(retryAfter)), timeString(now), id,
			)
			return execErr
		}
		final = StatusFailed
		_, execErr := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, lease_expires_at = NULL, ended_at = ?, updated_at = ?
             WHERE id = ?`,
			StatusFailed, nullableString(errMsg), timeString(now), timeString(now), id,
		)
		return execErr
	})
	if err != nil {
		return "", err
	}
	return final, nil
}

// FailPermanent fails a running job without consuming its remaining attempts.
// Used for permanent-input errors where a retry can never succeed.
func (s *Store) FailPermanent(ctx context.Context, id int64, errMsg string) error {
	now := timeString(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, lease_expires_at = NULL, ended_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, nullableString(errMsg), now, now, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("fail job %d: job is not running", id)
	}
	return nil
}

// CancelOutcome describes what Cancel did.
type CancelOutcome string

const (
	// CancelOutcomeCanceled means the job was queued and is now canceled.
	CancelOutcomeCanceled CancelOutcome = "canceled"
	// CancelOutcomeFlagged means the job is running and only the cooperative
	// cancel flag was set; the worker observes it at a stage boundary.
	CancelOutcomeFlagged CancelOutcome = "flagged"
)

// Cancel cancels a queued job outright. A running job is only flagged.
// Any other state returns ErrCancelNotAllowed.
func (s *Store) Cancel(ctx context.Context, id int64) (CancelOutcome, error) {
	ctx = ensureContext(ctx)
	var outcome CancelOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, getErr := getJobTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		now := timeString(time.Now())
		switch job.Status {
		case StatusQueued:
			_, execErr := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, ended_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
				StatusCanceled, now, now, id, StatusQueued,
			)
			if execErr != nil {
				return execErr
			}
			outcome = CancelOutcomeCanceled
			return nil
		case StatusRunning:
			_, execErr := tx.ExecContext(ctx,
				`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
				now, id, StatusRunning,
			)
			if execErr != nil {
				return execErr
			}
			outcome = CancelOutcomeFlagged
			return nil
		default:
			return fmt.Errorf("%w: job %d has status %s", ErrCancelNotAllowed, id, job.Status)
		}
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// CancelPendingForEntities cancels queued and retrying jobs and flags running
// jobs for the given entity ids. Used when a document is being torn down.
func (s *Store) CancelPendingForEntities(ctx context.Context, entityIDs ...string) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}
	ctx = ensureContext(ctx)
	now := timeString(time.Now())

	placeholders := makePlaceholders(len(entityIDs))
	args := make([]any, 0, len(entityIDs)+4)
	args = append(args, StatusCanceled, now, now)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, StatusQueued, StatusRetrying)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, ended_at = ?, updated_at = ? WHERE entity_id IN (`+placeholders+`) AND status IN (?, ?)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	canceled, _ := res.RowsAffected()

	flagArgs := make([]any, 0, len(entityIDs)+2)
	flagArgs = append(flagArgs, now)
	for _, id := range entityIDs {
		flagArgs = append(flagArgs, id)
	}
	flagArgs = append(flagArgs, StatusRunning)
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE entity_id IN (`+placeholders+`) AND status = ?`,
		flagArgs...,
	); err != nil {
		return canceled, fmt.Errorf("flag running jobs: %w", err)
	}
	return canceled, nil
}

// Heartbeat extends the lease of a running job held by the given worker.
func (s *Store) Heartbeat(ctx context.Context, id int64, workerID string, leaseDuration time.Duration) error {
	now := time.Now()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND status = ? AND worker_id = ?`,
		timeString(now.Add(leaseDuration)), timeString(now), id, StatusRunning, workerID,
	)
	if err != nil {
		return fmt.Errorf("heartbeat job %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("heartbeat job %d: lease no longer held", id)
	}
	return nil
}

// CancelRequested reports whether a cooperative cancel has been flagged.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	ctx = ensureContext(ctx)
	var flag int
	row := s.db.QueryRowContext(ctx, "SELECT cancel_requested FROM jobs WHERE id = ?", id)
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}
