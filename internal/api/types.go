// Package api defines the JSON contract between the daemon and its clients,
// plus the HTTP client the CLI uses.
package api

import (
	"time"

	"curator/internal/catalog"
	"curator/internal/queue"
	"curator/internal/workflow"
)

// Job is the wire form of a queue job.
type Job struct {
	ID              int64      `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	Lane            string     `json:"lane"`
	Priority        int        `json:"priority"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	EntityType      string     `json:"entity_type,omitempty"`
	EntityID        string     `json:"entity_id,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ConvertJob maps a queue job to its wire form.
func ConvertJob(job *queue.Job) Job {
	return Job{
		ID:              job.ID,
		Type:            string(job.Type),
		Status:          string(job.Status),
		Lane:            string(job.Lane),
		Priority:        job.Priority,
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		EntityType:      job.EntityType,
		EntityID:        job.EntityID,
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		ScheduledAt:     job.ScheduledAt,
		StartedAt:       job.StartedAt,
		EndedAt:         job.EndedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// ConvertJobs maps a job slice to wire form.
func ConvertJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, ConvertJob(job))
	}
	return out
}

// UploadIntentRequest declares an upcoming upload.
type UploadIntentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UploadIntentResponse carries the grant the client transfers against.
type UploadIntentResponse struct {
	DocumentID string    `json:"document_id"`
	VersionID  string    `json:"version_id"`
	UploadURL  string    `json:"upload_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// UploadConfirmRequest completes the handshake.
type UploadConfirmRequest struct {
	DocumentID string `json:"document_id"`
	VersionID  string `json:"version_id"`
}

// UploadConfirmResponse returns the first pipeline job.
type UploadConfirmResponse struct {
	Job Job `json:"job"`
}

// JobListResponse is a page of jobs.
type JobListResponse struct {
	Jobs   []Job `json:"jobs"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

// CancelResponse reports what canceling a job did.
type CancelResponse struct {
	Outcome string `json:"outcome"`
	Job     Job    `json:"job"`
}

// DeletionTask is the wire form of one teardown step.
type DeletionTask struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	ProcessingOrder int    `json:"processing_order"`
	ResourceCount   int    `json:"resource_count"`
	RetryCount      int    `json:"retry_count"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// DeletionStatusResponse aggregates a document's teardown progress.
type DeletionStatusResponse struct {
	DocumentID string         `json:"document_id"`
	Status     string         `json:"status"`
	Tasks      []DeletionTask `json:"tasks"`
}

// ConvertDeletionSummary maps a catalog summary to wire form.
func ConvertDeletionSummary(summary *catalog.DeletionSummary) DeletionStatusResponse {
	resp := DeletionStatusResponse{
		DocumentID: summary.DocumentID,
		Status:     string(summary.Status),
		Tasks:      make([]DeletionTask, 0, len(summary.Tasks)),
	}
	for _, task := range summary.Tasks {
		resp.Tasks = append(resp.Tasks, DeletionTask{
			ID:              task.ID,
			Type:            string(task.Type),
			Status:          string(task.Status),
			ProcessingOrder: task.ProcessingOrder,
			ResourceCount:   task.ResourceCount,
			RetryCount:      task.RetryCount,
			ErrorMessage:    task.ErrorMessage,
		})
	}
	return resp
}

// HandlerHealth is the wire form of a handler readiness record.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QueueHealth summarizes queue depth.
type QueueHealth struct {
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"by_status"`
	ByLane           map[string]int64 `json:"by_lane"`
	OldestAgeSeconds float64          `json:"oldest_age_seconds"`
}

// ConvertQueueHealth maps a queue health summary to wire form.
func ConvertQueueHealth(health queue.HealthSummary) QueueHealth {
	out := QueueHealth{
		Total:            health.Total,
		ByStatus:         make(map[string]int64, len(health.ByStatus)),
		ByLane:           make(map[string]int64, len(health.ByLane)),
		OldestAgeSeconds: health.OldestAge.Seconds(),
	}
	for status, count := range health.ByStatus {
		out.ByStatus[string(status)] = count
	}
	for lane, count := range health.ByLane {
		out.ByLane[string(lane)] = count
	}
	return out
}

// StatusResponse describes the daemon.
type StatusResponse struct {
	Running  bool            `json:"running"`
	Queue    QueueHealth     `json:"queue"`
	Handlers []HandlerHealth `json:"handlers"`
}

// ConvertStatus maps a workflow status summary to wire form.
func ConvertStatus(summary workflow.StatusSummary) StatusResponse {
	resp := StatusResponse{
		Running:  summary.Running,
		Queue:    ConvertQueueHealth(summary.Queue),
		Handlers: make([]HandlerHealth, 0, len(summary.Handlers)),
	}
	for _, h := range summary.Handlers {
		resp.Handlers = append(resp.Handlers, HandlerHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return resp
}

// RetryResponse reports how many jobs were requeued.
type RetryResponse struct {
	Retried int64 `json:"retried"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
