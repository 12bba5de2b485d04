package models

import "time"

type WorkerState string

const (
	WorkerStopped           WorkerState = "stopped"
	WorkerStarting          WorkerState = "starting"
	WorkerRunning           WorkerState = "running"
	WorkerStopping          WorkerState = "stopping"
	WorkerFaulted           WorkerState = "faulted"
	WorkerPermanentlyFailed WorkerState = "permanently_failed"
)

// WorkerStatus is an immutable snapshot published by the coordinator.
type WorkerStatus struct {
	Name         string      `json:"name"`
	State        WorkerState `json:"state"`
	QueueDepth   int         `json:"queue_depth"`
	LastActivity time.Time   `json:"last_activity"`
	Restarts     int         `json:"restarts"`
	LastError    string      `json:"last_error,omitempty"`
}
