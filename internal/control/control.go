// Package control is the optional NATS control plane: operators issue
// commands (suppress an alert rule, restart a worker, replay the
// dead-letter store, trigger a backup) and the device fans out alert and
// detection events. Connection loss is logged, never fatal.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/pkg/dto"
)

const (
	ControlSubject    = "edgewatch.control"
	EventsSubjectBase = "edgewatch.events"
)

// Command is one operator instruction received on the control subject.
type Command struct {
	Action   string `json:"action"` // suppress, restart, replay, backup
	Rule     string `json:"rule,omitempty"`
	Worker   string `json:"worker,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handlers wires commands to the owning components.
type Handlers struct {
	Suppress func(rule string, d time.Duration) bool
	Restart  func(worker string) bool
	Replay   func(ctx context.Context) (int, error)
	Backup   func(ctx context.Context) (models.BackupRecord, error)
}

type Plane struct {
	nc       *nats.Conn
	deviceID string
}

func Connect(url, deviceID string) (*Plane, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Plane{nc: nc, deviceID: deviceID}, nil
}

// Subscribe starts handling control commands until the connection closes.
func (p *Plane) Subscribe(ctx context.Context, h Handlers) error {
	_, err := p.nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			slog.Error("parse control command", "error", err)
			return
		}
		p.handle(ctx, cmd, h)
	})
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	slog.Info("control plane subscribed", "subject", ControlSubject)
	return nil
}

func (p *Plane) handle(ctx context.Context, cmd Command, h Handlers) {
	slog.Info("control command received", "action", cmd.Action)

	switch cmd.Action {
	case "suppress":
		d, err := time.ParseDuration(cmd.Duration)
		if err != nil {
			slog.Error("bad suppress duration", "duration", cmd.Duration, "error", err)
			return
		}
		if h.Suppress == nil || !h.Suppress(cmd.Rule, d) {
			slog.Warn("suppress failed: unknown rule", "rule", cmd.Rule)
		}
	case "restart":
		if h.Restart == nil || !h.Restart(cmd.Worker) {
			slog.Warn("restart failed: worker not restartable", "worker", cmd.Worker)
		}
	case "replay":
		if h.Replay == nil {
			return
		}
		n, err := h.Replay(ctx)
		if err != nil {
			slog.Error("dead-letter replay failed", "error", err)
			return
		}
		slog.Info("dead-letter replay requeued", "tasks", n)
	case "backup":
		if h.Backup == nil {
			return
		}
		rec, err := h.Backup(ctx)
		if err != nil {
			slog.Error("on-demand backup failed", "error", err)
			return
		}
		slog.Info("on-demand backup stored", "id", rec.ID)
	default:
		slog.Warn("unknown control action", "action", cmd.Action)
	}
}

// PublishEvent fans an event out on the device's events subject.
func (p *Plane) PublishEvent(evt dto.WSEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", EventsSubjectBase, p.deviceID, evt.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Plane) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Plane) Close() {
	p.nc.Close()
}

// AlertNotifier adapts the plane into an alerting notification channel.
type AlertNotifier struct {
	Plane *Plane
}

func (n AlertNotifier) Name() string { return "nats" }

func (n AlertNotifier) Send(_ context.Context, alert models.Alert) error {
	evtType := "alert"
	if alert.State == models.AlertResolved {
		evtType = "alert_resolved"
	}
	return n.Plane.PublishEvent(dto.WSEvent{
		Type:      evtType,
		Timestamp: time.Now(),
		Payload:   alert,
	})
}
