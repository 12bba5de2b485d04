package models

import "time"

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthCheckResult is the outcome of one active check run.
type HealthCheckResult struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Detail  string       `json:"detail"`
	LastRun time.Time    `json:"last_run"`
}

// RecoveryOutcome records one automated recovery attempt.
type RecoveryOutcome struct {
	Check       string    `json:"check"`
	Action      string    `json:"action"`
	Succeeded   bool      `json:"succeeded"`
	Detail      string    `json:"detail,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
