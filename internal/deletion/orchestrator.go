// Package deletion tears down a document and everything derived from it as a
// sequence of ordered, idempotent tasks. Dependent artifacts always go before
// the rows that own them, so an interrupted run never strands derived data
// behind a deleted parent.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/storage"
)

// taskClasses defines the teardown order, lowest first. Each class maps to
// one task; classes with nothing to delete are materialized as skipped so the
// barrier can step over them.
var taskClasses = []struct {
	taskType catalog.TaskType
	order    int
}{
	{catalog.TaskEmbeddings, 1},
	{catalog.TaskFacts, 2},
	{catalog.TaskSpans, 3},
	{catalog.TaskSearchIndex, 4},
	{catalog.TaskStorageObject, 5},
	{catalog.TaskDocumentRow, 6},
}

// Orchestrator coordinates document deletion end to end.
type Orchestrator struct {
	cfg       *config.Config
	catalog   *catalog.Store
	jobs      *queue.Store
	artifacts storage.ArtifactStore
	logger    *slog.Logger
}

// New builds the orchestrator. The logger may be nil.
func New(cfg *config.Config, catalogStore *catalog.Store, jobs *queue.Store, artifacts storage.ArtifactStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		catalog:   catalogStore,
		jobs:      jobs,
		artifacts: artifacts,
		logger:    logging.NewComponentLogger(logger, "deletion"),
	}
}

func (o *Orchestrator) maxTaskRetries() int {
	return o.cfg.Jobs.DefaultMaxAttempts
}

// RequestDelete marks a document for deletion: cancels its outstanding
// pipeline jobs, materializes the full ordered task set, and enqueues the
// first eligible batch. Requesting deletion of a document already being
// deleted returns the current summary.
func (o *Orchestrator) RequestDelete(ctx context.Context, documentID string) (*catalog.DeletionSummary, error) {
	if _, err := o.catalog.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "deletion", "request", "catalog read failed", err)
	}
	if summary, err := o.catalog.DeletionTaskSummary(ctx, documentID, o.maxTaskRetries()); err == nil {
		return summary, nil
	}

	versions, err := o.catalog.ListVersions(ctx, documentID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "deletion", "request", "catalog read failed", err)
	}
	entityIDs := make([]string, 0, len(versions)+1)
	entityIDs = append(entityIDs, documentID)
	for _, v := range versions {
		entityIDs = append(entityIDs, v.ID)
	}
	canceled, err := o.jobs.CancelPendingForEntities(ctx, entityIDs...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "deletion", "request", "unable to cancel jobs", err)
	}
	if canceled > 0 {
		o.logger.Info("canceled outstanding jobs for deletion",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Int64("count", canceled))
	}

	tasks, err := o.materializeTasks(ctx, documentID, versions)
	if err != nil {
		return nil, err
	}
	if err := o.catalog.CreateDeletionTasks(ctx, documentID, tasks); err != nil {
		return nil, services.Wrap(services.ErrTransient, "deletion", "request", "unable to create tasks", err)
	}
	if err := o.enqueueEligible(ctx, documentID); err != nil {
		return nil, err
	}
	o.logger.Info("document marked for deletion",
		logging.String(logging.FieldDocumentID, documentID),
		logging.Int("tasks", len(tasks)))
	return o.catalog.DeletionTaskSummary(ctx, documentID, o.maxTaskRetries())
}

// materializeTasks counts what each class has to delete. Zero rows means the
// class comes in already skipped.
func (o *Orchestrator) materializeTasks(ctx context.Context, documentID string, versions []*catalog.Version) ([]*catalog.DeletionTask, error) {
	counts := map[catalog.TaskType]int{}
	for taskType, stageName := range map[catalog.TaskType]string{
		catalog.TaskEmbeddings: catalog.StageEmbed,
		catalog.TaskFacts:      catalog.StageFacts,
		catalog.TaskSpans:      catalog.StageSpans,
	} {
		count, err := o.catalog.CountDocumentStageOutputs(ctx, documentID, stageName)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "deletion", "materialize", "catalog read failed", err)
		}
		counts[taskType] = count
	}
	searchable, err := o.catalog.CountVersionsWithText(ctx, documentID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "deletion", "materialize", "catalog read failed", err)
	}
	counts[catalog.TaskSearchIndex] = searchable

	stored := 0
	for _, v := range versions {
		if v.UploadStatus == catalog.UploadUploaded {
			stored++
		}
	}
	counts[catalog.TaskStorageObject] = stored
	counts[catalog.TaskDocumentRow] = 1

	tasks := make([]*catalog.DeletionTask, 0, len(taskClasses))
	for _, class := range taskClasses {
		status := catalog.TaskPending
		if counts[class.taskType] == 0 {
			status = catalog.TaskSkipped
		}
		tasks = append(tasks, &catalog.DeletionTask{
			Type:            class.taskType,
			Status:          status,
			ProcessingOrder: class.order,
			ResourceCount:   counts[class.taskType],
		})
	}
	return tasks, nil
}

// Execute runs one deletion task. Re-running a completed task is a no-op;
// running a task whose predecessors are unfinished is an ordering violation.
func (o *Orchestrator) Execute(ctx context.Context, taskID int64) error {
	task, err := o.catalog.GetDeletionTask(ctx, taskID)
	if errors.Is(err, catalog.ErrNotFound) {
		return services.Wrap(services.ErrValidation, "deletion", "execute", "deletion task no longer exists", err)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "deletion", "execute", "catalog read failed", err)
	}

	switch task.Status {
	case catalog.TaskCompleted, catalog.TaskSkipped:
		return o.enqueueEligible(ctx, task.DocumentID)
	case catalog.TaskPending:
		if err := o.checkBarrier(ctx, task); err != nil {
			return err
		}
		if err := o.catalog.MarkTaskInProgress(ctx, task.ID); err != nil {
			if errors.Is(err, catalog.ErrStageConflict) {
				// Another worker claimed it.
				return nil
			}
			return services.Wrap(services.ErrTransient, "deletion", "execute", "catalog write failed", err)
		}
	case catalog.TaskInProgress, catalog.TaskFailed:
		// Re-delivery, either from a reclaimed lease or a job-level retry.
		// The work is idempotent, so run it again; each failure bumps the
		// task retry count until the budget is spent.
		if err := o.checkBarrier(ctx, task); err != nil {
			return err
		}
	}

	if err := o.deleteClass(ctx, task); err != nil {
		if markErr := o.catalog.MarkTaskFailed(ctx, task.ID, err.Error()); markErr != nil {
			o.logger.Error("unable to record task failure",
				logging.String(logging.FieldDocumentID, task.DocumentID),
				logging.Error(markErr))
		}
		o.refreshAggregate(ctx, task.DocumentID, task.Type)
		return err
	}

	if err := o.catalog.MarkTaskCompleted(ctx, task.ID); err != nil {
		return services.Wrap(services.ErrTransient, "deletion", "execute", "catalog write failed", err)
	}
	o.refreshAggregate(ctx, task.DocumentID, task.Type)
	o.logger.Info("deletion task complete",
		logging.String(logging.FieldDocumentID, task.DocumentID),
		logging.String("task_type", string(task.Type)))
	return o.enqueueEligible(ctx, task.DocumentID)
}

func (o *Orchestrator) checkBarrier(ctx context.Context, task *catalog.DeletionTask) error {
	tasks, err := o.catalog.ListDeletionTasks(ctx, task.DocumentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "deletion", "execute", "catalog read failed", err)
	}
	for _, other := range tasks {
		if other.ProcessingOrder >= task.ProcessingOrder {
			continue
		}
		if other.Status != catalog.TaskCompleted && other.Status != catalog.TaskSkipped {
			return services.Wrap(
				services.ErrOutOfOrder, "deletion", "execute",
				fmt.Sprintf("task %s is blocked by unfinished %s", task.Type, other.Type), nil)
		}
	}
	return nil
}

// deleteClass performs the actual teardown for one artifact class. Every
// branch tolerates the artifacts already being gone.
func (o *Orchestrator) deleteClass(ctx context.Context, task *catalog.DeletionTask) error {
	switch task.Type {
	case catalog.TaskEmbeddings:
		_, err := o.catalog.DeleteDocumentStageOutputs(ctx, task.DocumentID, catalog.StageEmbed)
		return wrapCatalogErr(err)
	case catalog.TaskFacts:
		_, err := o.catalog.DeleteDocumentStageOutputs(ctx, task.DocumentID, catalog.StageFacts)
		return wrapCatalogErr(err)
	case catalog.TaskSpans:
		if _, err := o.catalog.DeleteDocumentStageOutputs(ctx, task.DocumentID, catalog.StageSpans); err != nil {
			return wrapCatalogErr(err)
		}
		_, err := o.catalog.DeleteDocumentStageOutputs(ctx, task.DocumentID, catalog.StageQuality)
		return wrapCatalogErr(err)
	case catalog.TaskSearchIndex:
		_, err := o.catalog.ClearExtractedText(ctx, task.DocumentID)
		return wrapCatalogErr(err)
	case catalog.TaskStorageObject:
		versions, err := o.catalog.ListVersions(ctx, task.DocumentID)
		if err != nil {
			return wrapCatalogErr(err)
		}
		for _, v := range versions {
			if err := o.artifacts.DeleteObject(ctx, v.StorageKey); err != nil {
				return err
			}
		}
		return nil
	case catalog.TaskDocumentRow:
		return wrapCatalogErr(o.catalog.DeleteDocumentRow(ctx, task.DocumentID))
	default:
		return services.Wrap(
			services.ErrValidation, "deletion", "execute",
			fmt.Sprintf("unknown deletion task type %q", task.Type), nil)
	}
}

func wrapCatalogErr(err error) error {
	if err == nil {
		return nil
	}
	return services.Wrap(services.ErrTransient, "deletion", "execute", "catalog write failed", err)
}

// refreshAggregate recomputes the document-level deletion status. The row may
// already be gone once the document_row task runs; that is fine, the summary
// endpoint derives status from the tasks.
func (o *Orchestrator) refreshAggregate(ctx context.Context, documentID string, justRan catalog.TaskType) {
	if justRan == catalog.TaskDocumentRow {
		return
	}
	summary, err := o.catalog.DeletionTaskSummary(ctx, documentID, o.maxTaskRetries())
	if err != nil {
		o.logger.Error("unable to recompute deletion status",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Error(err))
		return
	}
	if err := o.catalog.SetDeletionStatus(ctx, documentID, summary.Status); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		o.logger.Error("unable to persist deletion status",
			logging.String(logging.FieldDocumentID, documentID),
			logging.Error(err))
	}
}

// enqueueEligible schedules jobs for every task the barrier currently allows.
// Enqueue dedup keeps re-scheduling harmless.
func (o *Orchestrator) enqueueEligible(ctx context.Context, documentID string) error {
	eligible, err := o.catalog.EligibleDeletionTasks(ctx, documentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "deletion", "schedule", "catalog read failed", err)
	}
	for _, task := range eligible {
		payload, err := TaskPayload(documentID, task.ID)
		if err != nil {
			return err
		}
		if _, err := o.jobs.Enqueue(ctx, queue.NewJob{
			Type:        queue.TypeDeletionTask,
			EntityType:  "deletion_task",
			EntityID:    fmt.Sprintf("%s/%d", documentID, task.ID),
			Payload:     payload,
			MaxAttempts: o.maxTaskRetries(),
		}); err != nil {
			return services.Wrap(services.ErrTransient, "deletion", "schedule", "enqueue failed", err)
		}
	}
	return nil
}

// RetryDocumentDeletion resets failed tasks to pending and schedules them.
// Completed and skipped tasks are untouched.
func (o *Orchestrator) RetryDocumentDeletion(ctx context.Context, documentID string) (*catalog.DeletionSummary, error) {
	reset, err := o.catalog.ResetFailedTasks(ctx, documentID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "deletion", "retry", "catalog write failed", err)
	}
	if reset == 0 {
		return nil, services.Wrap(
			services.ErrValidation, "deletion", "retry",
			"document has no failed deletion tasks", nil)
	}
	if err := o.enqueueEligible(ctx, documentID); err != nil {
		return nil, err
	}
	summary, err := o.catalog.DeletionTaskSummary(ctx, documentID, o.maxTaskRetries())
	if err != nil {
		return nil, err
	}
	if setErr := o.catalog.SetDeletionStatus(ctx, documentID, summary.Status); setErr != nil && !errors.Is(setErr, catalog.ErrNotFound) {
		return nil, services.Wrap(services.ErrTransient, "deletion", "retry", "catalog write failed", setErr)
	}
	return summary, nil
}

// Status returns the aggregate deletion state for a document. Works after the
// document row itself is gone.
func (o *Orchestrator) Status(ctx context.Context, documentID string) (*catalog.DeletionSummary, error) {
	return o.catalog.DeletionTaskSummary(ctx, documentID, o.maxTaskRetries())
}
