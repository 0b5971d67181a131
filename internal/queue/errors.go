package queue

import "errors"

var (
	// ErrInvalidJobKind is returned when enqueueing an unrecognized job type.
	ErrInvalidJobKind = errors.New("invalid job kind")
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrCancelNotAllowed is returned when canceling a job in a terminal or
	// retrying state. Running jobs are flagged instead, never an error.
	ErrCancelNotAllowed = errors.New("cancel not allowed")
)
