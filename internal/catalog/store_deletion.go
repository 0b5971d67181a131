package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = "id, document_id, type, resource_id, resource_count, status, processing_order, retry_count, error_message, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*DeletionTask, error) {
	var (
		id            int64
		documentID    string
		taskType      string
		resourceID    sql.NullString
		resourceCount int
		status        string
		order         int
		retryCount    int
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&id, &documentID, &taskType, &resourceID, &resourceCount, &status, &order, &retryCount, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	task := &DeletionTask{
		ID:              id,
		DocumentID:      documentID,
		Type:            TaskType(taskType),
		ResourceID:      resourceID.String,
		ResourceCount:   resourceCount,
		Status:          TaskStatus(status),
		ProcessingOrder: order,
		RetryCount:      retryCount,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

// CreateDeletionTasks materializes the full ordered task set for a document
// and marks it for deletion, atomically. Tasks arrive pre-ordered by the
// orchestrator; classes with nothing to delete come in already skipped.
func (s *Store) CreateDeletionTasks(ctx context.Context, documentID string, tasks []*DeletionTask) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM deletion_tasks WHERE document_id = ?`, documentID)
		if err := row.Scan(&existing); err != nil {
			return fmt.Errorf("check existing tasks: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("deletion already requested for document %s", documentID)
		}

		now := timeString(time.Now())
		for _, task := range tasks {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO deletion_tasks (document_id, type, resource_id, resource_count, status, processing_order, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				documentID, string(task.Type), nullableString(task.ResourceID), task.ResourceCount,
				string(task.Status), task.ProcessingOrder, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert deletion task %s: %w", task.Type, err)
			}
			id, idErr := res.LastInsertId()
			if idErr != nil {
				return fmt.Errorf("deletion task insert id: %w", idErr)
			}
			task.ID = id
			task.DocumentID = documentID
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET deletion_status = ?, updated_at = ? WHERE id = ?`,
			string(DeletionMarked), now, documentID,
		); err != nil {
			return fmt.Errorf("mark document for deletion: %w", err)
		}
		return nil
	})
}

// GetDeletionTask returns a deletion task by id.
func (s *Store) GetDeletionTask(ctx context.Context, id int64) (*DeletionTask, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+taskColumns+" FROM deletion_tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deletion task %d: %w", id, err)
	}
	return task, nil
}

// ListDeletionTasks returns a document's tasks in processing order.
func (s *Store) ListDeletionTasks(ctx context.Context, documentID string) ([]*DeletionTask, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+taskColumns+" FROM deletion_tasks WHERE document_id = ? ORDER BY processing_order, id", documentID)
	if err != nil {
		return nil, fmt.Errorf("list deletion tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*DeletionTask
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan deletion task: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// EligibleDeletionTasks returns the pending tasks a worker may execute now:
// those whose processing_order has no lower-order task still unfinished. This
// is the dependency barrier, so dependent artifacts go before what owns them.
func (s *Store) EligibleDeletionTasks(ctx context.Context, documentID string) ([]*DeletionTask, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+taskColumns+` FROM deletion_tasks t
         WHERE document_id = ? AND status = ?
           AND NOT EXISTS (
               SELECT 1 FROM deletion_tasks b
               WHERE b.document_id = t.document_id
                 AND b.processing_order < t.processing_order
                 AND b.status NOT IN (?, ?)
           )
         ORDER BY processing_order, id`,
		documentID, string(TaskPending), string(TaskCompleted), string(TaskSkipped),
	)
	if err != nil {
		return nil, fmt.Errorf("eligible deletion tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*DeletionTask
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan deletion task: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkTaskInProgress moves a pending task to in_progress via compare-and-set.
func (s *Store) MarkTaskInProgress(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE deletion_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(TaskInProgress), timeString(time.Now()), id, string(TaskPending),
	)
	if err != nil {
		return fmt.Errorf("mark task in progress: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrStageConflict
	}
	return nil
}

// MarkTaskCompleted finishes a task. Completion is idempotent: a task that is
// already completed stays completed.
func (s *Store) MarkTaskCompleted(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE deletion_tasks SET status = ?, error_message = NULL, updated_at = ? WHERE id = ? AND status != ?`,
		string(TaskCompleted), timeString(time.Now()), id, string(TaskCompleted),
	); err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return nil
}

// MarkTaskFailed records a task failure and bumps its retry count.
func (s *Store) MarkTaskFailed(ctx context.Context, id int64, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE deletion_tasks SET status = ?, retry_count = retry_count + 1, error_message = ?, updated_at = ? WHERE id = ?`,
		string(TaskFailed), nullableString(message), timeString(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFailedTasks moves a document's failed tasks back to pending for a
// retry pass. Completed and skipped tasks are left untouched.
func (s *Store) ResetFailedTasks(ctx context.Context, documentID string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE deletion_tasks SET status = ?, error_message = NULL, updated_at = ? WHERE document_id = ? AND status = ?`,
		string(TaskPending), timeString(time.Now()), documentID, string(TaskFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// DeletionTaskSummary derives the aggregate deletion status from a document's
// tasks. The document row may already be gone by the time this is queried,
// so the aggregate is computed from the tasks alone.
func (s *Store) DeletionTaskSummary(ctx context.Context, documentID string, maxTaskRetries int) (*DeletionSummary, error) {
	tasks, err := s.ListDeletionTasks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return &DeletionSummary{
		DocumentID: documentID,
		Status:     AggregateDeletionStatus(tasks, maxTaskRetries),
		Tasks:      tasks,
	}, nil
}

// AggregateDeletionStatus folds task states into the document-level status.
func AggregateDeletionStatus(tasks []*DeletionTask, maxTaskRetries int) DeletionStatus {
	if len(tasks) == 0 {
		return DeletionNone
	}
	allDone := true
	anyStarted := false
	for _, task := range tasks {
		switch task.Status {
		case TaskCompleted:
			anyStarted = true
		case TaskSkipped:
			// Counts toward completion but not toward progress: a task set
			// that is pending plus pre-skipped classes is still only marked.
		case TaskFailed:
			anyStarted = true
			allDone = false
			if task.RetryCount >= maxTaskRetries {
				return DeletionFailed
			}
		case TaskInProgress:
			anyStarted = true
			allDone = false
		default:
			allDone = false
		}
	}
	if allDone {
		return DeletionDeleted
	}
	if anyStarted {
		return DeletionDeleting
	}
	return DeletionMarked
}
