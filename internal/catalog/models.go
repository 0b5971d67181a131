package catalog

import (
	"fmt"
	"time"
)

// UploadStatus tracks the byte-transfer handshake for a version.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// ProcessingStatus is the pipeline position of a version. The order is fixed;
// a version only ever moves forward through it.
type ProcessingStatus string

const (
	ProcessingPending        ProcessingStatus = "pending"
	ProcessingUploaded       ProcessingStatus = "uploaded"
	ProcessingExtracted      ProcessingStatus = "extracted"
	ProcessingSpansBuilt     ProcessingStatus = "spans_built"
	ProcessingEmbedded       ProcessingStatus = "embedded"
	ProcessingFactsExtracted ProcessingStatus = "facts_extracted"
	ProcessingQualityChecked ProcessingStatus = "quality_checked"
	ProcessingFailed         ProcessingStatus = "failed"
)

var processingOrder = map[ProcessingStatus]int{
	ProcessingPending:        0,
	ProcessingUploaded:       1,
	ProcessingExtracted:      2,
	ProcessingSpansBuilt:     3,
	ProcessingEmbedded:       4,
	ProcessingFactsExtracted: 5,
	ProcessingQualityChecked: 6,
}

// Rank returns the position of a status in the pipeline order, or -1 for
// failed and unknown statuses.
func (p ProcessingStatus) Rank() int {
	if rank, ok := processingOrder[p]; ok {
		return rank
	}
	return -1
}

// ParseProcessingStatus validates a processing status string.
func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	s := ProcessingStatus(value)
	if _, ok := processingOrder[s]; ok {
		return s, nil
	}
	if s == ProcessingFailed {
		return s, nil
	}
	return "", fmt.Errorf("invalid processing status %q", value)
}

// ExtractionStatus is the derived summary of the extract stage.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// DeletionStatus is the aggregate teardown state of a document.
type DeletionStatus string

const (
	DeletionNone     DeletionStatus = "none"
	DeletionMarked   DeletionStatus = "marked"
	DeletionDeleting DeletionStatus = "deleting"
	DeletionDeleted  DeletionStatus = "deleted"
	DeletionFailed   DeletionStatus = "failed"
)

// Stage names derived rows are keyed by.
const (
	StageSpans   = "spans"
	StageEmbed   = "embeddings"
	StageFacts   = "facts"
	StageQuality = "quality"
)

// Document is the client-visible record a version hangs off.
type Document struct {
	ID             string
	Filename       string
	ContentType    string
	DeletionStatus DeletionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Version is the unit the pipeline advances.
type Version struct {
	ID               string
	DocumentID       string
	VersionNumber    int
	StorageKey       string
	UploadStatus     UploadStatus
	ProcessingStatus ProcessingStatus
	ExtractionStatus ExtractionStatus
	FileSize         int64
	FileHash         string
	PageCount        int
	ExtractedText    string
	ExtractionError  string
	ExtractedAt      *time.Time
	GrantExpiresAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StageOutput is one derived row produced by a pipeline stage. Rows are keyed
// (version_id, stage, sequence) so stage re-execution upserts instead of
// duplicating.
type StageOutput struct {
	VersionID string
	Stage     string
	Sequence  int
	Content   string
	Vector    string
	CharStart int
	CharEnd   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskType is the artifact class a deletion task tears down.
type TaskType string

const (
	TaskEmbeddings    TaskType = "embeddings"
	TaskFacts         TaskType = "facts"
	TaskSpans         TaskType = "spans"
	TaskSearchIndex   TaskType = "search_index"
	TaskStorageObject TaskType = "storage_object"
	TaskDocumentRow   TaskType = "document_row"
)

// TaskStatus is the lifecycle state of a deletion task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// DeletionTask is one idempotent, ordered step of a cascading delete.
type DeletionTask struct {
	ID              int64
	DocumentID      string
	Type            TaskType
	ResourceID      string
	ResourceCount   int
	Status          TaskStatus
	ProcessingOrder int
	RetryCount      int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeletionSummary aggregates a document's deletion tasks for status queries.
type DeletionSummary struct {
	DocumentID string
	Status     DeletionStatus
	Tasks      []*DeletionTask
}
