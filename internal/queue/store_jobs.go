package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Enqueue records a job and makes it visible to workers. Enqueue is
// idempotent per (entity_id, type): while an active job exists for the pair
// the existing job is returned instead of creating a duplicate.
func (s *Store) Enqueue(ctx context.Context, req NewJob) (*Job, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, errors.New("entity id is required")
	}
	if req.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}

	ctx = ensureContext(ctx)
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE entity_id = ? AND type = ? AND status IN (?, ?, ?) ORDER BY id LIMIT 1",
			req.EntityID, string(req.Type), StatusQueued, StatusRunning, StatusRetrying,
		)
		existing, scanErr := scanJob(row)
		if scanErr == nil {
			job = existing
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("check active job: %w", scanErr)
		}

		now := timeString(time.Now())
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO jobs (type, status, lane, priority, attempts, max_attempts, entity_type, entity_id, payload, scheduled_at, created_at, updated_at)
             VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
			string(req.Type),
			StatusQueued,
			string(LaneForPriority(req.Priority)),
			req.Priority,
			req.MaxAttempts,
			req.EntityType,
			req.EntityID,
			nullableString(req.Payload),
			nullableTime(req.ScheduledAt),
			now,
			now,
		)
		if execErr != nil {
			return fmt.Errorf("insert job: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("job insert id: %w", idErr)
		}
		inserted, getErr := getJobTx(ctx, tx, id)
		if getErr != nil {
			return getErr
		}
		job = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// FindActive returns the non-terminal job for an entity/type pair, if any.
func (s *Store) FindActive(ctx context.Context, entityID string, jobType Type) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE entity_id = ? AND type = ? AND status IN (?, ?, ?) ORDER BY id LIMIT 1",
		entityID, string(jobType), StatusQueued, StatusRunning, StatusRetrying,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	ctx = ensureContext(ctx)

	query := "SELECT " + jobColumns + " FROM jobs"
	var conds []string
	var args []any
	if filter.Status != "" {
		if _, err := ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		if _, err := ParseType(string(filter.Type)); err != nil {
			return nil, err
		}
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListActiveByEntity returns non-terminal jobs acting on any of the given
// entity ids. Used by the deletion orchestrator to cancel in-flight work.
func (s *Store) ListActiveByEntity(ctx context.Context, entityIDs ...string) ([]*Job, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	args := make([]any, 0, len(entityIDs)+3)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, StatusQueued, StatusRunning, StatusRetrying)
	query := "SELECT " + jobColumns + " FROM jobs WHERE entity_id IN (" + makePlaceholders(len(entityIDs)) + ") AND status IN (?, ?, ?) ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
