package dto

import "time"

// UploadDetection is one detection on the wire. BBox is normalized
// [x, y, w, h] in [0, 1].
type UploadDetection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Mask       []float32  `json:"mask,omitempty"`
}

// UploadRequest is one detection batch sent to the platform. The
// idempotency key travels in the Idempotency-Key header and is mirrored
// here for the platform's audit trail.
type UploadRequest struct {
	DeviceID       string            `json:"device_id"`
	FrameSeq       uint64            `json:"frame_seq"`
	CapturedAt     time.Time         `json:"captured_at"`
	Detections     []UploadDetection `json:"detections"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type UploadResponse struct {
	RecordID string `json:"record_id"`
}

// RegisterRequest announces this engine to the platform at startup.
type RegisterRequest struct {
	DeviceID     string   `json:"device_id"`
	Address      string   `json:"address"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
}
