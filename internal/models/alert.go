package models

import "time"

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type AlertState string

const (
	AlertFiring     AlertState = "firing"
	AlertResolved   AlertState = "resolved"
	AlertSuppressed AlertState = "suppressed"
)

// Alert tracks one tripped rule. At most one non-resolved Alert exists per
// rule at a time; repeated trips within cooldown update Value in place.
type Alert struct {
	Rule       string        `json:"rule"`
	Metric     string        `json:"metric"`
	Severity   AlertSeverity `json:"severity"`
	State      AlertState    `json:"state"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	Message    string        `json:"message"`
	FiredAt    time.Time     `json:"fired_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}
