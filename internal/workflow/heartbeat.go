package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"curator/internal/logging"
	"curator/internal/queue"
)

// HeartbeatMonitor extends job leases while their workers are alive.
type HeartbeatMonitor struct {
	store         *queue.Store
	logger        *slog.Logger
	interval      time.Duration
	leaseDuration time.Duration
}

// NewHeartbeatMonitor creates a monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, leaseDuration time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:         store,
		logger:        logger,
		interval:      interval,
		leaseDuration: leaseDuration,
	}
}

// StartLoop renews one job's lease until the context is canceled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64, workerID string) {
	defer wg.Done()
	interval := h.interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Heartbeat(ctx, jobID, workerID, h.leaseDuration); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat failed",
					logging.Int64(logging.FieldJobID, jobID),
					logging.Error(err))
			}
		}
	}
}
