// Package workflow runs the worker pool that drains the job queue. Workers
// are partitioned into priority lanes; each leases one job at a time,
// heartbeats while it runs, and applies exponential backoff on transient
// failures. A sweep loop reclaims expired leases and lapsed upload grants.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/stage"
)

// SweepFunc is periodic maintenance work run by the sweep loop.
type SweepFunc func(context.Context) error

// Manager coordinates queue processing through registered job handlers.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	handlers map[queue.Type]stage.Handler
	sweeps   []SweepFunc

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	sweepInterval     time.Duration

	heartbeat *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager. Handlers are registered before
// Start.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	heartbeatInterval := time.Duration(cfg.Workers.HeartbeatInterval) * time.Second
	return &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logger,
		handlers:          make(map[queue.Type]stage.Handler),
		pollInterval:      time.Duration(cfg.Workers.QueuePollInterval) * time.Second,
		heartbeatInterval: heartbeatInterval,
		sweepInterval:     time.Duration(cfg.Workers.SweepInterval) * time.Second,
		heartbeat:         NewHeartbeatMonitor(store, logger, heartbeatInterval, cfg.LeaseDuration()),
	}
}

// Register binds a handler to a job type. Registering twice replaces the
// previous handler.
func (m *Manager) Register(jobType queue.Type, handler stage.Handler) {
	m.handlers[jobType] = handler
}

// RegisterSweep adds maintenance work to the sweep loop.
func (m *Manager) RegisterSweep(fn SweepFunc) {
	m.sweeps = append(m.sweeps, fn)
}

// Start launches the lane workers and the sweep loop. Calling Start on a
// running manager is an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("workflow manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	lanes := []struct {
		lane  queue.Lane
		count int
	}{
		{queue.LaneHigh, m.cfg.Workers.High},
		{queue.LaneNormal, m.cfg.Workers.Normal},
		{queue.LaneLow, m.cfg.Workers.Low},
	}
	for _, entry := range lanes {
		for i := 0; i < entry.count; i++ {
			workerID := fmt.Sprintf("%s-%d", entry.lane, i)
			m.wg.Add(1)
			go m.runWorker(runCtx, entry.lane, workerID)
		}
	}

	m.wg.Add(1)
	go m.runSweeper(runCtx)

	m.logger.Info("workflow manager started",
		logging.Int("workers_high", m.cfg.Workers.High),
		logging.Int("workers_normal", m.cfg.Workers.Normal),
		logging.Int("workers_low", m.cfg.Workers.Low))
	return nil
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow manager stopped")
}

// Running reports whether the pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// StatusSummary describes the manager and its handlers for the status API.
type StatusSummary struct {
	Running  bool
	Queue    queue.HealthSummary
	Handlers []stage.Health
}

// Status collects queue counts and handler health.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	health, err := m.store.Health(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{Running: m.Running(), Queue: health}
	for _, handler := range m.handlers {
		summary.Handlers = append(summary.Handlers, handler.HealthCheck(ctx))
	}
	return summary, nil
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()
	interval := m.sweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) {
	if reclaimed, err := m.store.ReclaimExpiredLeases(ctx); err != nil {
		m.logger.Warn("lease reclamation failed", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed expired leases", logging.Int64("count", reclaimed))
	}

	cutoff := time.Now().Add(-m.cfg.StaleAfter())
	if reclaimed, err := m.store.ReclaimStale(ctx, cutoff); err != nil {
		m.logger.Warn("stale reclamation failed", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}

	for _, sweep := range m.sweeps {
		if err := sweep(ctx); err != nil {
			m.logger.Warn("sweep hook failed", logging.Error(err))
		}
	}
}
