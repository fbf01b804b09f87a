/*
scheduler.go - Automated pool lifecycle scheduler

PURPOSE:
  Periodically persists due pool status transitions: active pools become
  released on their release date and every pool expires after valid_to.
  Inactive pools are only ever moved to expired.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run covers every tenant and is safe to repeat; a transition
    that already happened is not applied again

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewLifecycleScheduler(handler.Lifecycle)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunLifecycle endpoint (manual run)
  - inventory/lifecycle.go: Transition rules
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/logger"
)

// LifecycleScheduler runs the pool lifecycle on a ticker.
type LifecycleScheduler struct {
	Lifecycle     *inventory.LifecycleService
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	lastMu  sync.Mutex // guards lastRun
	lastRun time.Time
}

// NewLifecycleScheduler creates a new scheduler.
func NewLifecycleScheduler(lifecycle *inventory.LifecycleService) *LifecycleScheduler {
	return &LifecycleScheduler{
		Lifecycle:     lifecycle,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (ls *LifecycleScheduler) Start() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ctx := logger.WithField(context.Background(), "component", "lifecycle_scheduler")
	if !ls.Enabled {
		logger.Info(ctx, "scheduler disabled, not starting")
		return
	}
	if ls.ticker != nil {
		return
	}

	ls.ticker = time.NewTicker(ls.CheckInterval)
	ls.stop = make(chan struct{})
	ls.wg.Add(1)

	go ls.run(ctx)

	logger.Info(logger.WithField(ctx, "interval", ls.CheckInterval.String()), "scheduler started")
}

// Stop stops the scheduler and waits for a run in progress.
func (ls *LifecycleScheduler) Stop() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.ticker != nil {
		ls.ticker.Stop()
		close(ls.stop)
		ls.wg.Wait()
		ls.ticker = nil
		logger.Info(context.Background(), "lifecycle scheduler stopped")
	}
}

func (ls *LifecycleScheduler) run(ctx context.Context) {
	defer ls.wg.Done()

	ls.checkAndProcess(ctx)

	for {
		select {
		case <-ls.ticker.C:
			ls.checkAndProcess(ctx)
		case <-ls.stop:
			return
		}
	}
}

func (ls *LifecycleScheduler) checkAndProcess(ctx context.Context) []inventory.Transition {
	now := ls.Now()
	transitions, err := ls.Lifecycle.Run(ctx, now)
	if err != nil {
		logger.Error(ctx, "lifecycle run failed", err)
		return nil
	}

	ls.lastMu.Lock()
	ls.lastRun = now
	ls.lastMu.Unlock()

	if len(transitions) > 0 {
		logger.Info(logger.WithField(ctx, "transitions", len(transitions)), "lifecycle run applied transitions")
	}
	return transitions
}

// RunNow triggers an immediate run (for testing/admin).
func (ls *LifecycleScheduler) RunNow(ctx context.Context) []inventory.Transition {
	return ls.checkAndProcess(ctx)
}

// LastRun returns when the last successful run happened.
func (ls *LifecycleScheduler) LastRun() time.Time {
	ls.lastMu.Lock()
	defer ls.lastMu.Unlock()
	return ls.lastRun
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ls *LifecycleScheduler) GetNextRunTime() time.Time {
	last := ls.LastRun()
	if last.IsZero() {
		return ls.Now()
	}
	return last.Add(ls.CheckInterval)
}
