// Package health runs periodic active checks independent of the pipeline
// and triggers optional automated recovery actions when a check turns
// critical.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

// Report is the health surface returned by the status API.
type Report struct {
	Overall  models.HealthStatus        `json:"overall"`
	Checks   []models.HealthCheckResult `json:"checks"`
	Recovery []models.RecoveryOutcome   `json:"recovery,omitempty"`
	LastRun  time.Time                  `json:"last_run"`
}

type Monitor struct {
	cfg config.HealthConfig

	mu          sync.Mutex
	checks      []Check
	actions     map[string]RecoveryAction
	lastAttempt map[string]time.Time
	results     map[string]models.HealthCheckResult
	recovery    []models.RecoveryOutcome
	lastRun     time.Time

	// notify feeds critical transitions into the alerting engine.
	notify func(models.Alert)
}

func NewMonitor(cfg config.HealthConfig) *Monitor {
	return &Monitor{
		cfg:         cfg,
		actions:     make(map[string]RecoveryAction),
		lastAttempt: make(map[string]time.Time),
		results:     make(map[string]models.HealthCheckResult),
	}
}

func (m *Monitor) Name() string { return "health" }

// AddCheck registers a check, optionally with an automated recovery action
// invoked when the check is critical.
func (m *Monitor) AddCheck(c Check, action RecoveryAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, c)
	if action != nil {
		m.actions[c.Name()] = action
	}
}

// OnCritical sets the alert feed for newly critical checks.
func (m *Monitor) OnCritical(fn func(models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

// Run executes all checks on every check interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks executes every registered check once.
func (m *Monitor) RunChecks(ctx context.Context) {
	m.mu.Lock()
	checks := make([]Check, len(m.checks))
	copy(checks, m.checks)
	m.mu.Unlock()

	for _, c := range checks {
		result := c.Run(ctx)

		m.mu.Lock()
		prev, seen := m.results[c.Name()]
		m.results[c.Name()] = result
		m.lastRun = result.LastRun
		notify := m.notify
		m.mu.Unlock()

		if result.Status == models.HealthCritical {
			slog.Error("health check critical", "check", c.Name(), "detail", result.Detail)
			if notify != nil && (!seen || prev.Status != models.HealthCritical) {
				notify(models.Alert{
					Rule:     "health:" + c.Name(),
					Metric:   "health." + c.Name(),
					Severity: models.SeverityCritical,
					State:    models.AlertFiring,
					Message:  fmt.Sprintf("health check %s critical: %s", c.Name(), result.Detail),
					FiredAt:  result.LastRun,
				})
			}
			m.maybeRecover(ctx, c.Name())
		} else if result.Status == models.HealthWarning {
			slog.Warn("health check warning", "check", c.Name(), "detail", result.Detail)
		}
	}
}

// maybeRecover runs the check's recovery action if one is defined and its
// own cooldown has passed.
func (m *Monitor) maybeRecover(ctx context.Context, check string) {
	m.mu.Lock()
	action, ok := m.actions[check]
	if !ok {
		m.mu.Unlock()
		return
	}
	if last, attempted := m.lastAttempt[check]; attempted && time.Since(last) < m.cfg.RecoveryCooldown {
		m.mu.Unlock()
		return
	}
	m.lastAttempt[check] = time.Now()
	m.mu.Unlock()

	err := action.Execute(ctx)
	outcome := models.RecoveryOutcome{
		Check:       check,
		Action:      action.Name(),
		Succeeded:   err == nil,
		AttemptedAt: time.Now(),
	}
	if err != nil {
		outcome.Detail = err.Error()
		slog.Error("recovery action failed", "check", check, "action", action.Name(), "error", err)
	} else {
		slog.Info("recovery action executed", "check", check, "action", action.Name())
	}

	m.mu.Lock()
	m.recovery = append(m.recovery, outcome)
	if len(m.recovery) > m.cfg.HistorySize {
		m.recovery = m.recovery[len(m.recovery)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()
}

// Overall is healthy iff all checks are healthy and critical if any check
// is critical.
func (m *Monitor) Overall() models.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() models.HealthStatus {
	if len(m.results) == 0 {
		return models.HealthHealthy
	}
	overall := models.HealthHealthy
	for _, r := range m.results {
		switch r.Status {
		case models.HealthCritical:
			return models.HealthCritical
		case models.HealthWarning:
			overall = models.HealthWarning
		}
	}
	return overall
}

// Report returns the overall status, per-check detail and recent recovery
// history.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{
		Overall: m.overallLocked(),
		LastRun: m.lastRun,
	}
	for _, c := range m.checks {
		if r, ok := m.results[c.Name()]; ok {
			rep.Checks = append(rep.Checks, r)
		}
	}
	rep.Recovery = append(rep.Recovery, m.recovery...)
	return rep
}
