package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

// Notifier is one notification channel. Send is called for both firing and
// resolution dispatches.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert models.Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Send(_ context.Context, alert models.Alert) error {
	attrs := []any{
		"rule", alert.Rule,
		"metric", alert.Metric,
		"value", alert.Value,
		"threshold", alert.Threshold,
		"state", alert.State,
	}
	switch alert.Severity {
	case models.SeverityCritical:
		slog.Error(alert.Message, attrs...)
	case models.SeverityWarning:
		slog.Warn(alert.Message, attrs...)
	default:
		slog.Info(alert.Message, attrs...)
	}
	return nil
}

// WebhookNotifier POSTs the alert as JSON to a configured URL.
type WebhookNotifier struct {
	URL  string
	http *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, http: &http.Client{Timeout: 5 * time.Second}}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Send(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailNotifier sends plain-text mail over SMTP (no auth; intended for a
// local relay).
type EmailNotifier struct {
	cfg config.EmailConfig
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Send(_ context.Context, alert models.Alert) error {
	subject := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(alert.Severity)), alert.State, alert.Rule)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\nmetric=%s value=%g threshold=%g\r\n",
		n.cfg.From,
		strings.Join(n.cfg.To, ", "),
		subject,
		alert.Message,
		alert.Metric, alert.Value, alert.Threshold,
	)

	if err := smtp.SendMail(n.cfg.SMTPAddr, nil, n.cfg.From, n.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
