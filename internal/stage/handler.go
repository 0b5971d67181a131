package stage

import (
	"context"

	"curator/internal/queue"
)

// Handler describes the contract the workflow manager needs from each job
// handler. Prepare runs quick validation before Execute does the work; a
// Prepare failure is treated the same as an Execute failure.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
