package models

import (
	"time"

	"github.com/google/uuid"
)

type UploadStatus string

const (
	UploadStatusPending      UploadStatus = "pending"
	UploadStatusInFlight     UploadStatus = "in-flight"
	UploadStatusSucceeded    UploadStatus = "succeeded"
	UploadStatusDeadLettered UploadStatus = "dead-lettered"
)

// UploadTask wraps one DetectionResult for delivery to the platform.
// IdempotencyKey is generated once when the task is created and reused on
// every retry, so an ambiguous failure never creates a duplicate record.
type UploadTask struct {
	ID             uuid.UUID       `json:"id"`
	Destination    string          `json:"destination"`
	IdempotencyKey string          `json:"idempotency_key"`
	Result         DetectionResult `json:"result"`
	Attempts       int             `json:"attempts"`
	Status         UploadStatus    `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
