// runner.go - Ticker-driven scheduling of the sweeps.
//
// Each sweep runs on its own interval, independently: reminders and
// stale resolution every few minutes, post-session resolution and
// entitlement expiry much less often. They share no ordering dependency
// and may overlap; every sweep is idempotent.
package sweep

import (
	"context"
	"log"
	"sync"
	"time"
)

// Intervals configures how often each sweep fires. Zero disables a sweep.
type Intervals struct {
	Reminders   time.Duration
	Stale       time.Duration
	PostSession time.Duration
	Expiry      time.Duration
}

// DefaultIntervals mirror the cadence the sweeps were designed around:
// a 30 minute reminder cycle inside a 60 minute look-ahead window.
func DefaultIntervals() Intervals {
	return Intervals{
		Reminders:   30 * time.Minute,
		Stale:       15 * time.Minute,
		PostSession: 1 * time.Hour,
		Expiry:      24 * time.Hour,
	}
}

// Runner drives an Engine on the configured intervals.
type Runner struct {
	engine    *Engine
	intervals Intervals

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewRunner(engine *Engine, intervals Intervals) *Runner {
	return &Runner{engine: engine, intervals: intervals}
}

// Start launches one goroutine per enabled sweep. Each runs immediately,
// then on its ticker.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true

	r.launch(ctx, "reminders", r.intervals.Reminders, r.engine.SendReminders)
	r.launch(ctx, "stale", r.intervals.Stale, r.engine.ResolveStale)
	r.launch(ctx, "post-session", r.intervals.PostSession, r.engine.ResolvePast)
	r.launch(ctx, "expiry", r.intervals.Expiry, r.engine.ExpireEntitlements)

	log.Printf("[Sweep] Runner started (reminders=%v stale=%v post=%v expiry=%v)",
		r.intervals.Reminders, r.intervals.Stale, r.intervals.PostSession, r.intervals.Expiry)
}

// Stop halts all sweeps and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.started = false
	log.Println("[Sweep] Runner stopped")
}

func (r *Runner) launch(ctx context.Context, name string, every time.Duration, run func(context.Context) (Counts, error)) {
	if every <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		r.runOnce(ctx, name, run)
		for {
			select {
			case <-ticker.C:
				r.runOnce(ctx, name, run)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Runner) runOnce(ctx context.Context, name string, run func(context.Context) (Counts, error)) {
	counts, err := run(ctx)
	if err != nil {
		log.Printf("[Sweep] %s failed: %v", name, err)
		return
	}
	if counts.Processed > 0 || counts.Failed > 0 {
		log.Printf("[Sweep] %s: %d processed, %d skipped, %d failed",
			name, counts.Processed, counts.Skipped, counts.Failed)
	}
}

// RunAll executes every sweep once, synchronously (admin endpoint and
// tests).
func (r *Runner) RunAll(ctx context.Context) {
	r.runOnce(ctx, "reminders", r.engine.SendReminders)
	r.runOnce(ctx, "stale", r.engine.ResolveStale)
	r.runOnce(ctx, "post-session", r.engine.ResolvePast)
	r.runOnce(ctx, "expiry", r.engine.ExpireEntitlements)
}
