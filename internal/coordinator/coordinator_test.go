package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		RestartLimit:  2,
		RestartWindow: time.Minute,
		DrainTimeout:  2 * time.Second,
	}
}

// crashingWorker fails a fixed number of times, then runs until cancelled.
type crashingWorker struct {
	name     string
	failures int

	runs atomic.Int32
}

func (w *crashingWorker) Name() string { return w.name }

func (w *crashingWorker) Run(ctx context.Context) error {
	n := w.runs.Add(1)
	if int(n) <= w.failures {
		return errors.New("boom")
	}
	<-ctx.Done()
	return nil
}

func waitForState(t *testing.T, c *Coordinator, worker string, want models.WorkerState) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		for _, st := range c.Status() {
			if st.Name == worker && st.State == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("worker %s never reached state %s: %+v", worker, want, c.Status())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerRestartsAfterFault(t *testing.T) {
	w := &crashingWorker{name: "flaky", failures: 1}

	c := New(testPipelineConfig())
	c.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForState(t, c, "flaky", models.WorkerRunning)
	if got := w.runs.Load(); got != 2 {
		t.Errorf("worker ran %d times, want 2 (fault + restart)", got)
	}

	cancel()
	waitForState(t, c, "flaky", models.WorkerStopped)
}

func TestRestartLimitMarksPermanentlyFailed(t *testing.T) {
	w := &crashingWorker{name: "dead", failures: 100}

	var criticalMu sync.Mutex
	var critical []string

	c := New(testPipelineConfig())
	c.OnCritical(func(worker string, err error) {
		criticalMu.Lock()
		critical = append(critical, worker)
		criticalMu.Unlock()
	})
	c.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForState(t, c, "dead", models.WorkerPermanentlyFailed)

	// RestartLimit 2 allows 2 faults in window; the 3rd exceeds it.
	if got := w.runs.Load(); got != 3 {
		t.Errorf("worker ran %d times, want 3", got)
	}

	criticalMu.Lock()
	defer criticalMu.Unlock()
	if len(critical) != 1 || critical[0] != "dead" {
		t.Errorf("critical callback saw %v, want [dead]", critical)
	}
}

// drainingWorker consumes from a channel until it is closed, then returns
// nil. Mimics a queue-fed pipeline stage.
type drainingWorker struct {
	name    string
	in      chan int
	drained atomic.Int32
	stopped chan string
}

func (w *drainingWorker) Name() string { return w.name }

func (w *drainingWorker) Run(ctx context.Context) error {
	for {
		select {
		case _, ok := <-w.in:
			if !ok {
				w.stopped <- w.name
				return nil
			}
			w.drained.Add(1)
		case <-ctx.Done():
			w.stopped <- w.name
			return nil
		}
	}
}

func TestShutdownDrainsInRegistrationOrder(t *testing.T) {
	stopped := make(chan string, 2)

	first := &drainingWorker{name: "first", in: make(chan int, 8), stopped: stopped}
	second := &drainingWorker{name: "second", in: make(chan int, 8), stopped: stopped}

	c := New(testPipelineConfig())
	c.Register(first, WithDrain(func() { close(first.in) }))
	c.Register(second, WithDrain(func() { close(second.in) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForState(t, c, "first", models.WorkerRunning)
	waitForState(t, c, "second", models.WorkerRunning)

	// Queue pending work; a drain-based shutdown must process it.
	for i := 0; i < 5; i++ {
		first.in <- i
	}

	c.Shutdown()

	if got := first.drained.Load(); got != 5 {
		t.Errorf("first drained %d items before stopping, want 5", got)
	}
	if a, b := <-stopped, <-stopped; a != "first" || b != "second" {
		t.Errorf("stop order = %s, %s; want first, second", a, b)
	}
	waitForState(t, c, "first", models.WorkerStopped)
	waitForState(t, c, "second", models.WorkerStopped)
}

func TestManualRestartDoesNotChargeBudget(t *testing.T) {
	w := &crashingWorker{name: "steady", failures: 0}

	c := New(testPipelineConfig())
	c.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForState(t, c, "steady", models.WorkerRunning)
	if !c.Restart("steady") {
		t.Fatal("Restart returned false for a running worker")
	}

	deadline := time.After(10 * time.Second)
	for w.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker was not restarted")
		case <-time.After(10 * time.Millisecond):
		}
	}
	waitForState(t, c, "steady", models.WorkerRunning)

	if c.Restart("no-such-worker") {
		t.Error("Restart returned true for an unknown worker")
	}
}

func TestShutdownInterruptsRestartBackoff(t *testing.T) {
	w := &crashingWorker{name: "sleepy", failures: 100}

	cfg := testPipelineConfig()
	cfg.RestartLimit = 5
	c := New(cfg)
	c.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	// First fault puts the supervisor into its 1s restart backoff.
	waitForState(t, c, "sleepy", models.WorkerFaulted)

	start := time.Now()
	c.Shutdown()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Shutdown took %v, want the backoff sleep interrupted", elapsed)
	}

	waitForState(t, c, "sleepy", models.WorkerStopped)
	if got := w.runs.Load(); got != 1 {
		t.Errorf("worker ran %d times, want 1 (no fresh run mid-shutdown)", got)
	}
}

func TestRestartRevivesPermanentlyFailedWorker(t *testing.T) {
	w := &crashingWorker{name: "revivable", failures: 1}

	cfg := testPipelineConfig()
	cfg.RestartLimit = 0 // first fault is permanent
	c := New(cfg)
	c.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForState(t, c, "revivable", models.WorkerPermanentlyFailed)
	if got := w.runs.Load(); got != 1 {
		t.Fatalf("worker ran %d times before revival, want 1", got)
	}

	if !c.Restart("revivable") {
		t.Fatal("Restart returned false for a permanently failed worker")
	}
	waitForState(t, c, "revivable", models.WorkerRunning)
	if got := w.runs.Load(); got != 2 {
		t.Errorf("worker ran %d times after revival, want 2", got)
	}

	cancel()
	waitForState(t, c, "revivable", models.WorkerStopped)
}

func TestStatusIncludesProbes(t *testing.T) {
	w := &crashingWorker{name: "probed", failures: 0}

	c := New(testPipelineConfig())
	when := time.Now()
	c.Register(w,
		WithQueueDepth(func() int { return 17 }),
		WithLastActivity(func() time.Time { return when }),
	)

	sts := c.Status()
	if len(sts) != 1 {
		t.Fatalf("Status() returned %d entries, want 1", len(sts))
	}
	if sts[0].QueueDepth != 17 {
		t.Errorf("QueueDepth = %d, want 17", sts[0].QueueDepth)
	}
	if !sts[0].LastActivity.Equal(when) {
		t.Errorf("LastActivity = %v, want %v", sts[0].LastActivity, when)
	}
	if sts[0].State != models.WorkerStopped {
		t.Errorf("unstarted worker state = %s, want stopped", sts[0].State)
	}
}
