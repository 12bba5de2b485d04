package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

// Check is one independent active probe.
type Check interface {
	Name() string
	Run(ctx context.Context) models.HealthCheckResult
}

// ResourceCheck compares host CPU, memory and disk usage against the
// configured warning/critical thresholds.
type ResourceCheck struct {
	cfg config.HealthConfig
}

func NewResourceCheck(cfg config.HealthConfig) *ResourceCheck {
	return &ResourceCheck{cfg: cfg}
}

func (c *ResourceCheck) Name() string { return "resources" }

func (c *ResourceCheck) Run(ctx context.Context) models.HealthCheckResult {
	res := models.HealthCheckResult{
		Name:    c.Name(),
		Status:  models.HealthHealthy,
		LastRun: time.Now(),
	}

	type figure struct {
		label    string
		value    float64
		warn     float64
		critical float64
	}
	var figures []figure

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		figures = append(figures, figure{"cpu", pcts[0], c.cfg.CPUWarn, c.cfg.CPUCritical})
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		figures = append(figures, figure{"memory", vm.UsedPercent, c.cfg.MemoryWarn, c.cfg.MemoryCritical})
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		figures = append(figures, figure{"disk", du.UsedPercent, c.cfg.DiskWarn, c.cfg.DiskCritical})
	}

	for _, f := range figures {
		switch {
		case f.value >= f.critical:
			res.Status = models.HealthCritical
			res.Detail = fmt.Sprintf("%s at %.1f%% (critical threshold %.0f%%)", f.label, f.value, f.critical)
			return res
		case f.value >= f.warn && res.Status == models.HealthHealthy:
			res.Status = models.HealthWarning
			res.Detail = fmt.Sprintf("%s at %.1f%% (warning threshold %.0f%%)", f.label, f.value, f.warn)
		}
	}

	if res.Detail == "" {
		res.Detail = "resources within thresholds"
	}
	return res
}

// DependencyCheck probes the remote platform with a lightweight request.
type DependencyCheck struct {
	probe func(ctx context.Context) error
}

func NewDependencyCheck(probe func(ctx context.Context) error) *DependencyCheck {
	return &DependencyCheck{probe: probe}
}

func (c *DependencyCheck) Name() string { return "platform" }

func (c *DependencyCheck) Run(ctx context.Context) models.HealthCheckResult {
	res := models.HealthCheckResult{Name: c.Name(), LastRun: time.Now()}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.probe(probeCtx); err != nil {
		res.Status = models.HealthCritical
		res.Detail = err.Error()
		return res
	}
	res.Status = models.HealthHealthy
	res.Detail = "platform reachable"
	return res
}

// LivenessCheck inspects the coordinator's worker states: any permanently
// failed worker is critical, any faulted worker is a warning.
type LivenessCheck struct {
	status func() []models.WorkerStatus
}

func NewLivenessCheck(status func() []models.WorkerStatus) *LivenessCheck {
	return &LivenessCheck{status: status}
}

func (c *LivenessCheck) Name() string { return "workers" }

func (c *LivenessCheck) Run(_ context.Context) models.HealthCheckResult {
	res := models.HealthCheckResult{
		Name:    c.Name(),
		Status:  models.HealthHealthy,
		Detail:  "all workers running",
		LastRun: time.Now(),
	}

	for _, ws := range c.status() {
		switch ws.State {
		case models.WorkerPermanentlyFailed:
			res.Status = models.HealthCritical
			res.Detail = fmt.Sprintf("worker %s permanently failed: %s", ws.Name, ws.LastError)
			return res
		case models.WorkerFaulted:
			res.Status = models.HealthWarning
			res.Detail = fmt.Sprintf("worker %s faulted: %s", ws.Name, ws.LastError)
		}
	}
	return res
}

// WritabilityCheck verifies the data directory accepts writes.
type WritabilityCheck struct {
	dir string
}

func NewWritabilityCheck(dir string) *WritabilityCheck {
	return &WritabilityCheck{dir: dir}
}

func (c *WritabilityCheck) Name() string { return "filesystem" }

func (c *WritabilityCheck) Run(_ context.Context) models.HealthCheckResult {
	res := models.HealthCheckResult{Name: c.Name(), LastRun: time.Now()}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		res.Status = models.HealthCritical
		res.Detail = fmt.Sprintf("create %s: %v", c.dir, err)
		return res
	}

	probe := filepath.Join(c.dir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		res.Status = models.HealthCritical
		res.Detail = fmt.Sprintf("write probe: %v", err)
		return res
	}
	_ = os.Remove(probe)

	res.Status = models.HealthHealthy
	res.Detail = "filesystem writable"
	return res
}
