package queue

import (
	"fmt"
	"time"
)

// Type identifies the kind of work a job performs. The set is closed; Enqueue
// rejects anything not listed here.
type Type string

const (
	TypeIngest       Type = "ingest"
	TypeExtract      Type = "extract"
	TypeBuildSpans   Type = "build_spans"
	TypeEmbed        Type = "embed"
	TypeExtractFacts Type = "extract_facts"
	TypeQualityCheck Type = "quality_check"
	TypeBulkIngest   Type = "bulk_ingest"
	TypeURLIngest    Type = "url_ingest"
	TypeDeletionTask Type = "deletion_task"
)

var validTypes = map[Type]struct{}{
	TypeIngest:       {},
	TypeExtract:      {},
	TypeBuildSpans:   {},
	TypeEmbed:        {},
	TypeExtractFacts: {},
	TypeQualityCheck: {},
	TypeBulkIngest:   {},
	TypeURLIngest:    {},
	TypeDeletionTask: {},
}

// ParseType validates a job type string.
func ParseType(value string) (Type, error) {
	t := Type(value)
	if _, ok := validTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobKind, value)
	}
	return t, nil
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusRetrying  Status = "retrying"
)

var validStatuses = map[Status]struct{}{
	StatusQueued:    {},
	StatusRunning:   {},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCanceled:  {},
	StatusRetrying:  {},
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if _, ok := validStatuses[s]; !ok {
		return "", fmt.Errorf("invalid job status %q", value)
	}
	return s, nil
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Lane is the priority partition a job is leased from.
type Lane string

const (
	LaneHigh   Lane = "high"
	LaneNormal Lane = "normal"
	LaneLow    Lane = "low"
)

// LaneForPriority maps a numeric priority to its lane. Priorities of 10 and
// above are high, negative priorities are low, everything else is normal.
func LaneForPriority(priority int) Lane {
	switch {
	case priority >= 10:
		return LaneHigh
	case priority < 0:
		return LaneLow
	default:
		return LaneNormal
	}
}

// Job is one leasable unit of background work.
type Job struct {
	ID              int64
	Type            Type
	Status          Status
	Lane            Lane
	Priority        int
	Attempts        int
	MaxAttempts     int
	EntityType      string
	EntityID        string
	Payload         string
	Result          string
	ErrorMessage    string
	CancelRequested bool
	WorkerID        string
	ScheduledAt     *time.Time
	LeaseExpiresAt  *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanRetry reports whether a failed job still has attempts left.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// NewJob describes a job to enqueue.
type NewJob struct {
	Type        Type
	Priority    int
	EntityType  string
	EntityID    string
	Payload     string
	MaxAttempts int
	ScheduledAt *time.Time
}

// Filter narrows List results. Zero values mean "no constraint"; Limit
// defaults to 50 when unset.
type Filter struct {
	Status Status
	Type   Type
	Offset int
	Limit  int
}
