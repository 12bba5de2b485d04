package dto

import "time"

// WSEvent is broadcast to WebSocket clients and, when the control plane is
// enabled, published on the events subject.
type WSEvent struct {
	Type      string    `json:"type"` // detection, alert, alert_resolved
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}
