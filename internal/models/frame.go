package models

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one captured image with capture metadata. Seq is strictly
// increasing per source; a gap means frames were dropped under backpressure.
type Frame struct {
	ID        uuid.UUID `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
}
