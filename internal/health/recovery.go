package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/your-org/edgewatch/internal/models"
)

// RecoveryAction is an optional automated response to a critical check.
type RecoveryAction interface {
	Name() string
	Execute(ctx context.Context) error
}

// TempCleanupAction removes stale files from a scratch directory.
type TempCleanupAction struct {
	Dir    string
	MaxAge time.Duration
}

func (a *TempCleanupAction) Name() string { return "temp-cleanup" }

func (a *TempCleanupAction) Execute(_ context.Context) error {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", a.Dir, err)
	}

	cutoff := time.Now().Add(-a.MaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(a.Dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed == 0 {
		return fmt.Errorf("nothing to clean in %s", a.Dir)
	}
	return nil
}

// MemoryReclaimAction forces a GC pass and returns freed pages to the OS.
type MemoryReclaimAction struct{}

func (MemoryReclaimAction) Name() string { return "memory-reclaim" }

func (MemoryReclaimAction) Execute(_ context.Context) error {
	debug.FreeOSMemory()
	return nil
}

// WorkerRestartAction asks the coordinator to revive the first permanently
// failed worker. Paired with the liveness check, which only goes critical
// on a permanent failure.
type WorkerRestartAction struct {
	Status  func() []models.WorkerStatus
	Restart func(name string) bool
}

func (a *WorkerRestartAction) Name() string { return "worker-restart" }

func (a *WorkerRestartAction) Execute(_ context.Context) error {
	for _, ws := range a.Status() {
		if ws.State != models.WorkerPermanentlyFailed {
			continue
		}
		if !a.Restart(ws.Name) {
			return fmt.Errorf("worker %s not restartable", ws.Name)
		}
		return nil
	}
	return errors.New("no permanently failed worker found")
}
