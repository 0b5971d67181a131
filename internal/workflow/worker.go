package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
)

func (m *Manager) runWorker(ctx context.Context, lane queue.Lane, workerID string) {
	defer m.wg.Done()
	poll := m.pollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.Lease(ctx, lane, workerID, m.cfg.LeaseDuration())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Warn("lease failed",
				logging.String(logging.FieldLane, string(lane)),
				logging.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}
		m.runJob(ctx, job, workerID)
	}
}

func (m *Manager) runJob(ctx context.Context, job *queue.Job, workerID string) {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithLane(jobCtx, string(job.Lane))
	jobCtx = services.WithStage(jobCtx, string(job.Type))
	log := logging.WithContext(jobCtx, m.logger)

	// Cancellation requested while the job sat queued.
	if job.CancelRequested {
		if err := m.store.MarkCanceled(jobCtx, job.ID); err != nil {
			log.Warn("unable to mark job canceled", logging.Error(err))
		}
		return
	}

	handler, ok := m.handlers[job.Type]
	if !ok {
		log.Error("no handler registered for job type",
			logging.String(logging.FieldJobType, string(job.Type)))
		if err := m.store.FailPermanent(jobCtx, job.ID, "no handler registered for job type"); err != nil {
			log.Error("unable to fail job", logging.Error(err))
		}
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID, workerID)

	log.Info("job started",
		logging.String(logging.FieldJobType, string(job.Type)),
		logging.Int("attempt", job.Attempts))

	execErr := handler.Prepare(jobCtx, job)
	if execErr == nil {
		execErr = handler.Execute(jobCtx, job)
	}

	stopHeartbeat()
	hbWG.Wait()

	// Stage boundary: a cancel that arrived mid-run wins over the outcome.
	if canceled, err := m.store.CancelRequested(jobCtx, job.ID); err == nil && canceled {
		if err := m.store.MarkCanceled(jobCtx, job.ID); err != nil {
			log.Warn("unable to mark job canceled", logging.Error(err))
		} else {
			log.Info("job canceled")
		}
		return
	}

	if execErr != nil {
		m.finishFailed(jobCtx, job, execErr)
		return
	}
	if err := m.store.Complete(jobCtx, job.ID, ""); err != nil {
		log.Warn("unable to complete job", logging.Error(err))
		return
	}
	log.Info("job succeeded")
}

func (m *Manager) finishFailed(ctx context.Context, job *queue.Job, execErr error) {
	log := logging.WithContext(ctx, m.logger)
	if services.Permanent(execErr) {
		if err := m.store.FailPermanent(ctx, job.ID, execErr.Error()); err != nil {
			log.Error("unable to fail job", logging.Error(err))
			return
		}
		log.Error("job failed permanently", logging.Error(execErr))
		return
	}

	delay := m.backoffDelay(job.Attempts)
	status, err := m.store.Fail(ctx, job.ID, execErr.Error(), delay)
	if err != nil {
		log.Error("unable to record job failure", logging.Error(err))
		return
	}
	if status == queue.StatusRetrying {
		log.Warn("job failed, will retry",
			logging.Int("attempt", job.Attempts),
			logging.Duration("retry_in", delay),
			logging.Error(execErr))
		return
	}
	log.Error("job failed, attempts exhausted", logging.Error(execErr))
}

// backoffDelay doubles the base per prior attempt, capped by config.
func (m *Manager) backoffDelay(attempts int) time.Duration {
	base := m.cfg.BackoffBase()
	if base <= 0 {
		return 0
	}
	limit := m.cfg.BackoffCap()
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}
