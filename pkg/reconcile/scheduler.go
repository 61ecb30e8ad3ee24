package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
)

// SchedulerConfig holds the scheduler timers.
type SchedulerConfig struct {
	// Interval is the cadence of the reconciliation cycle (stuck uploads,
	// missing events, orphaned intents). Default: 1 minute.
	Interval time.Duration

	// CleanupInterval is the cadence of the blob cleanup cycle.
	// Default: 1 hour.
	CleanupInterval time.Duration
}

// ApplyDefaults fills in zero values.
func (c *SchedulerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
}

// Scheduler drives the reconcilers on two timers: the reconciliation loops
// on the short one, blob cleanup on the long one. A re-entrance guard keeps
// cycles from overlapping on this instance; cross-instance overlap is handled
// by the row locks inside the reconcilers.
type Scheduler struct {
	cfg         SchedulerConfig
	reconcilers []Reconciler
	cleanup     []Reconciler
	metrics     *metrics.ReconcileMetrics

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	stoppedCh chan struct{}

	trigger chan struct{}
	running atomic.Bool
}

// NewScheduler creates a scheduler over the two reconciler groups.
// metrics may be nil.
func NewScheduler(cfg SchedulerConfig, reconcilers, cleanup []Reconciler, m *metrics.ReconcileMetrics) *Scheduler {
	cfg.ApplyDefaults()
	return &Scheduler{
		cfg:         cfg,
		reconcilers: reconcilers,
		cleanup:     cleanup,
		metrics:     m,
		trigger:     make(chan struct{}, 1),
	}
}

// Start launches the timer loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.stoppedCh = make(chan struct{})
	s.mu.Unlock()

	logger.Info("Starting reconciliation scheduler",
		"interval", s.cfg.Interval, "cleanupInterval", s.cfg.CleanupInterval)

	go s.loop(ctx)
}

// Stop cancels the timers and waits for the in-flight cycle to finish.
// Stop before Start, or a second Stop, is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, stoppedCh := s.cancel, s.stoppedCh
	s.mu.Unlock()

	cancel()
	<-stoppedCh
	logger.Info("Reconciliation scheduler stopped")
}

// TriggerNow requests an immediate cycle of both groups. Non-blocking; a
// pending trigger coalesces with this one.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedCh)

	reconcileTicker := time.NewTicker(s.cfg.Interval)
	defer reconcileTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcileTicker.C:
			s.runCycle(ctx, s.reconcilers)
		case <-cleanupTicker.C:
			s.runCycle(ctx, s.cleanup)
		case <-s.trigger:
			s.runCycle(ctx, s.reconcilers)
			s.runCycle(ctx, s.cleanup)
		}
	}
}

// runCycle executes one group once. Overlapping cycles on the same instance
// are skipped rather than queued; the next tick picks the work up.
func (s *Scheduler) runCycle(ctx context.Context, group []Reconciler) {
	if !s.running.CompareAndSwap(false, true) {
		logger.Debug("Reconciliation cycle still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	for _, r := range group {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		stats, err := r.Run(ctx)
		s.metrics.ObserveRun(r.Name(), time.Since(start), err)

		if err != nil {
			logger.WarnCtx(ctx, "reconciler run failed",
				"reconciler", r.Name(), logger.Err(err))
			continue
		}
		if stats.Claimed > 0 {
			logger.InfoCtx(ctx, "reconciler run finished",
				"reconciler", r.Name(),
				"claimed", stats.Claimed,
				"advanced", stats.Advanced,
				"retried", stats.Retried,
				"failed", stats.Failed,
				"deleted", stats.Deleted,
				"kept", stats.Kept,
			)
		}
	}
}
