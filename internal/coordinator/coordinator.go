// Package coordinator owns worker lifecycle: start, restart-on-fault with a
// sliding-window limit, ordered drain on shutdown, and one aggregated
// status surface.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
)

// Worker is a long-running component supervised by the coordinator. Run
// returns nil on a clean stop (context cancelled or input drained) and an
// error on a fault.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Option configures optional per-worker hooks.
type Option func(*entry)

// WithQueueDepth wires a live queue-depth probe into the status surface.
func WithQueueDepth(fn func() int) Option {
	return func(e *entry) { e.queueDepth = fn }
}

// WithLastActivity wires a last-activity probe into the status surface.
func WithLastActivity(fn func() time.Time) Option {
	return func(e *entry) { e.lastActivity = fn }
}

// WithDrain registers a hook invoked at shutdown before waiting for the
// worker to finish, typically closing the worker's input queue so it can
// drain remaining work.
func WithDrain(fn func()) Option {
	return func(e *entry) { e.drain = fn }
}

type entry struct {
	worker       Worker
	queueDepth   func() int
	lastActivity func() time.Time
	drain        func()

	status     atomic.Pointer[models.WorkerStatus]
	cancel     atomic.Pointer[context.CancelFunc]
	done       chan struct{} // replaced on revive, guarded by Coordinator.mu
	stop       chan struct{} // closed once by Shutdown; interrupts restart backoff
	stopOnce   sync.Once
	restarts   []time.Time
	stopping   atomic.Bool
	restartReq atomic.Bool
}

func (e *entry) cancelRun() {
	if fn := e.cancel.Load(); fn != nil {
		(*fn)()
	}
}

func (e *entry) setStatus(state models.WorkerState, restarts int, lastErr string) {
	e.status.Store(&models.WorkerStatus{
		Name:      e.worker.Name(),
		State:     state,
		Restarts:  restarts,
		LastError: lastErr,
	})
}

type Coordinator struct {
	cfg config.PipelineConfig

	mu      sync.Mutex
	entries []*entry
	started bool
	ctx     context.Context // set by Start; used to revive workers

	// onCritical is invoked when a worker becomes permanently failed.
	onCritical func(worker string, err error)
}

func New(cfg config.PipelineConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// OnCritical sets the callback invoked when a worker exceeds its restart
// budget. Must be called before Start.
func (c *Coordinator) OnCritical(fn func(worker string, err error)) {
	c.onCritical = fn
}

// Register adds a worker. Shutdown stops workers in registration order, so
// register producers before their consumers.
func (c *Coordinator) Register(w Worker, opts ...Option) {
	e := &entry{worker: w, done: make(chan struct{}), stop: make(chan struct{})}
	for _, opt := range opts {
		opt(e)
	}
	e.setStatus(models.WorkerStopped, 0, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

// Start launches every registered worker under its own supervised goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx = ctx

	for _, e := range c.entries {
		go c.supervise(ctx, e)
	}
}

func (c *Coordinator) supervise(ctx context.Context, e *entry) {
	defer close(e.done)

	restarts := 0
	for {
		if e.stopping.Load() {
			e.setStatus(models.WorkerStopped, restarts, "")
			return
		}
		e.setStatus(models.WorkerStarting, restarts, "")

		runCtx, cancel := context.WithCancel(ctx)
		e.cancel.Store(&cancel)

		e.setStatus(models.WorkerRunning, restarts, "")
		slog.Info("worker running", "worker", e.worker.Name(), "restarts", restarts)

		err := e.worker.Run(runCtx)
		cancel()

		if ctx.Err() != nil || e.stopping.Load() {
			e.setStatus(models.WorkerStopped, restarts, "")
			slog.Info("worker stopped", "worker", e.worker.Name())
			return
		}

		if e.restartReq.CompareAndSwap(true, false) {
			// Operator-requested restart: not a fault, no budget charge.
			restarts++
			observability.WorkerRestarts.WithLabelValues(e.worker.Name()).Inc()
			slog.Info("worker restarting on request", "worker", e.worker.Name())
			continue
		}

		if err == nil {
			// Input drained and closed: a clean end of work.
			e.setStatus(models.WorkerStopped, restarts, "")
			slog.Info("worker finished", "worker", e.worker.Name())
			return
		}

		e.setStatus(models.WorkerFaulted, restarts, err.Error())
		slog.Error("worker faulted", "worker", e.worker.Name(), "error", err)

		now := time.Now()
		e.restarts = append(e.restarts, now)
		e.restarts = pruneWindow(e.restarts, now.Add(-c.cfg.RestartWindow))

		if len(e.restarts) > c.cfg.RestartLimit {
			e.setStatus(models.WorkerPermanentlyFailed, restarts, err.Error())
			slog.Error("worker permanently failed",
				"worker", e.worker.Name(),
				"restarts_in_window", len(e.restarts),
				"window", c.cfg.RestartWindow,
			)
			if c.onCritical != nil {
				c.onCritical(e.worker.Name(), err)
			}
			return
		}

		restarts++
		observability.WorkerRestarts.WithLabelValues(e.worker.Name()).Inc()
		delay := time.Duration(1<<uint(min(len(e.restarts)-1, 5))) * time.Second
		slog.Warn("restarting worker", "worker", e.worker.Name(), "delay", delay)

		select {
		case <-ctx.Done():
			e.setStatus(models.WorkerStopped, restarts, "")
			return
		case <-e.stop:
			e.setStatus(models.WorkerStopped, restarts, "")
			return
		case <-time.After(delay):
		}
	}
}

func pruneWindow(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Restart cancels a running worker's current run without charging its
// fault budget. A permanently failed worker is revived instead: its fault
// window is cleared and supervision starts over.
func (c *Coordinator) Restart(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.worker.Name() != name {
			continue
		}
		switch e.status.Load().State {
		case models.WorkerRunning:
			if fn := e.cancel.Load(); fn != nil {
				slog.Info("restart requested", "worker", name)
				e.restartReq.Store(true)
				(*fn)()
				return true
			}
		case models.WorkerPermanentlyFailed:
			if c.ctx == nil || c.ctx.Err() != nil {
				return false
			}
			slog.Info("reviving permanently failed worker", "worker", name)
			e.restarts = nil
			e.done = make(chan struct{})
			go c.supervise(c.ctx, e)
			return true
		}
		return false
	}
	return false
}

// Status returns an aggregated snapshot of every worker.
func (c *Coordinator) Status() []models.WorkerStatus {
	c.mu.Lock()
	entries := make([]*entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	out := make([]models.WorkerStatus, 0, len(entries))
	for _, e := range entries {
		st := *e.status.Load()
		if e.queueDepth != nil {
			st.QueueDepth = e.queueDepth()
		}
		if e.lastActivity != nil {
			st.LastActivity = e.lastActivity()
		}
		out = append(out, st)
	}
	return out
}

// Shutdown stops workers in registration order. For each worker the drain
// hook (if any) runs first, then the coordinator waits up to the remaining
// drain budget before force-cancelling.
func (c *Coordinator) Shutdown() {
	deadline := time.Now().Add(c.cfg.DrainTimeout)

	c.mu.Lock()
	entries := make([]*entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	for _, e := range entries {
		e.stopping.Store(true)
		e.stopOnce.Do(func() { close(e.stop) })

		c.mu.Lock()
		done := e.done
		c.mu.Unlock()

		if e.drain != nil {
			e.drain()
		} else {
			e.cancelRun()
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		select {
		case <-done:
		case <-time.After(remaining):
			slog.Warn("drain timeout, force-terminating worker", "worker", e.worker.Name())
			e.cancelRun()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				slog.Error("worker did not terminate", "worker", e.worker.Name())
			}
		}
	}
	slog.Info("all workers stopped")
}
