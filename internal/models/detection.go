package models

import (
	"time"

	"github.com/google/uuid"
)

// Detection is one recognized object instance within a frame.
// BBox is normalized [x, y, w, h], each component in [0, 1].
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Mask       []float32  `json:"mask,omitempty"` // optional segmentation mask
}

// DetectionResult references exactly one frame and carries the detections
// that survived the confidence filter.
type DetectionResult struct {
	FrameID    uuid.UUID     `json:"frame_id"`
	FrameSeq   uint64        `json:"frame_seq"`
	CapturedAt time.Time     `json:"captured_at"`
	Detections []Detection   `json:"detections"`
	Duration   time.Duration `json:"duration"`
}
