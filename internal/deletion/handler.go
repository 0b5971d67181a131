package deletion

import (
	"context"

	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/stage"
)

type taskPayload struct {
	DocumentID string `json:"document_id"`
	TaskID     int64  `json:"task_id"`
}

// TaskPayload builds the payload for a deletion_task job.
func TaskPayload(documentID string, taskID int64) (string, error) {
	return stage.EncodePayload(taskPayload{DocumentID: documentID, TaskID: taskID})
}

// TaskHandler runs one deletion task per job.
type TaskHandler struct {
	orchestrator *Orchestrator
}

// NewTaskHandler builds the deletion_task job handler.
func NewTaskHandler(orchestrator *Orchestrator) *TaskHandler {
	return &TaskHandler{orchestrator: orchestrator}
}

func (h *TaskHandler) Prepare(ctx context.Context, job *queue.Job) error {
	var payload taskPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	if payload.TaskID <= 0 || payload.DocumentID == "" {
		return services.Wrap(
			services.ErrValidation, "deletion_task", "prepare",
			"payload is missing document_id or task_id", nil)
	}
	return nil
}

func (h *TaskHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload taskPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	return h.orchestrator.Execute(ctx, payload.TaskID)
}

func (h *TaskHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("deletion_task")
}

var _ stage.Handler = (*TaskHandler)(nil)
