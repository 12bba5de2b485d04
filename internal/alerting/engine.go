// Package alerting evaluates metric snapshots against threshold rules and
// manages the alert lifecycle: firing, cooldown, suppression, resolution
// and dispatch to the configured notification channels.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
)

type ruleState struct {
	rule            config.AlertRuleConfig
	active          *models.Alert
	lastResolved    time.Time
	suppressedUntil time.Time
}

type Engine struct {
	mu          sync.Mutex
	rules       []*ruleState
	notifiers   []Notifier
	history     []models.Alert
	historySize int

	now func() time.Time // swapped in tests
}

func NewEngine(cfg config.AlertingConfig) *Engine {
	e := &Engine{
		historySize: cfg.HistorySize,
		now:         time.Now,
	}
	for _, r := range cfg.Rules {
		e.rules = append(e.rules, &ruleState{rule: r})
	}

	e.notifiers = append(e.notifiers, LogNotifier{})
	if cfg.WebhookURL != "" {
		e.notifiers = append(e.notifiers, NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.Email.SMTPAddr != "" {
		e.notifiers = append(e.notifiers, NewEmailNotifier(cfg.Email))
	}
	return e
}

// AddNotifier registers an extra channel (e.g. the NATS event sink).
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Evaluate checks every rule against the snapshot. Rules on the same metric
// are evaluated independently. Intended as the collector's OnCollect hook.
// State changes happen under the lock; dispatch happens after it is
// released so a slow notifier cannot stall collection or the status API.
func (e *Engine) Evaluate(snap models.MetricSnapshot) {
	e.mu.Lock()

	now := e.now()
	var pending []models.Alert
	for _, rs := range e.rules {
		value, ok := snap.Values[rs.rule.Metric]
		if !ok {
			continue
		}

		tripped := compare(value, rs.rule.Op, rs.rule.Threshold)

		if !tripped {
			if rs.active != nil {
				if a := e.resolveLocked(rs, value, now); a != nil {
					pending = append(pending, *a)
				}
			}
			continue
		}

		if rs.active != nil {
			// Repeated trip within the alert's lifetime: update the
			// observed value, dispatch nothing.
			rs.active.Value = value
			continue
		}

		if !rs.lastResolved.IsZero() && now.Sub(rs.lastResolved) < rs.rule.Cooldown {
			slog.Debug("rule tripped within post-resolution cooldown",
				"rule", rs.rule.Name, "value", value)
			continue
		}

		if a := e.fireLocked(rs, value, now); a != nil {
			pending = append(pending, *a)
		}
	}

	notifiers := e.notifierSnapshotLocked()
	e.mu.Unlock()

	for _, a := range pending {
		dispatch(notifiers, a)
	}
}

// fireLocked records the new alert and returns a copy for dispatch, or nil
// when the rule is suppressed.
func (e *Engine) fireLocked(rs *ruleState, value float64, now time.Time) *models.Alert {
	alert := &models.Alert{
		Rule:      rs.rule.Name,
		Metric:    rs.rule.Metric,
		Severity:  models.AlertSeverity(rs.rule.Severity),
		State:     models.AlertFiring,
		Value:     value,
		Threshold: rs.rule.Threshold,
		Message: fmt.Sprintf("%s: %s %s %g (observed %g)",
			rs.rule.Name, rs.rule.Metric, rs.rule.Op, rs.rule.Threshold, value),
		FiredAt: now,
	}

	suppressed := now.Before(rs.suppressedUntil)
	if suppressed {
		alert.State = models.AlertSuppressed
	}

	rs.active = alert
	e.recordLocked(*alert)
	observability.AlertsFired.WithLabelValues(string(alert.Severity)).Inc()

	if suppressed {
		// Suppressed rules are still evaluated and logged, never notified.
		slog.Info("alert suppressed",
			"rule", alert.Rule, "value", value, "until", rs.suppressedUntil)
		return nil
	}

	out := *alert
	return &out
}

// resolveLocked records the resolution and returns a copy for dispatch, or
// nil when the alert was suppressed.
func (e *Engine) resolveLocked(rs *ruleState, value float64, now time.Time) *models.Alert {
	alert := rs.active
	wasSuppressed := alert.State == models.AlertSuppressed

	alert.State = models.AlertResolved
	alert.Value = value
	alert.ResolvedAt = &now
	alert.Message = fmt.Sprintf("resolved: %s (was firing for %s)",
		rs.rule.Name, now.Sub(alert.FiredAt).Round(time.Second))

	rs.active = nil
	rs.lastResolved = now
	e.recordLocked(*alert)

	if wasSuppressed || now.Before(rs.suppressedUntil) {
		slog.Info("suppressed alert resolved", "rule", alert.Rule)
		return nil
	}

	out := *alert
	return &out
}

func (e *Engine) notifierSnapshotLocked() []Notifier {
	ns := make([]Notifier, len(e.notifiers))
	copy(ns, e.notifiers)
	return ns
}

// dispatch runs without the engine lock held: notifier I/O can take up to
// the full timeout per channel.
func dispatch(notifiers []Notifier, alert models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, n := range notifiers {
		if err := n.Send(ctx, alert); err != nil {
			slog.Error("notification dispatch failed",
				"channel", n.Name(), "rule", alert.Rule, "error", err)
		}
	}
}

func (e *Engine) recordLocked(alert models.Alert) {
	e.history = append(e.history, alert)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
}

// Notify dispatches an out-of-band alert (worker permanently failed, health
// critical) through every channel and records it in history.
func (e *Engine) Notify(alert models.Alert) {
	e.mu.Lock()
	if alert.FiredAt.IsZero() {
		alert.FiredAt = e.now()
	}
	e.recordLocked(alert)
	notifiers := e.notifierSnapshotLocked()
	e.mu.Unlock()

	observability.AlertsFired.WithLabelValues(string(alert.Severity)).Inc()
	dispatch(notifiers, alert)
}

// Suppress silences a rule's notifications for the given duration. Returns
// false when no such rule exists.
func (e *Engine) Suppress(rule string, d time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rs := range e.rules {
		if rs.rule.Name == rule {
			rs.suppressedUntil = e.now().Add(d)
			if rs.active != nil {
				rs.active.State = models.AlertSuppressed
			}
			slog.Info("rule suppressed", "rule", rule, "until", rs.suppressedUntil)
			return true
		}
	}
	return false
}

// Active returns all non-resolved alerts.
func (e *Engine) Active() []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Alert
	for _, rs := range e.rules {
		if rs.active != nil {
			out = append(out, *rs.active)
		}
	}
	return out
}

// History returns recorded alert transitions, oldest first.
func (e *Engine) History() []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Alert, len(e.history))
	copy(out, e.history)
	return out
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}
