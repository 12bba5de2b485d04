// Package detect runs the two-stage detection pipeline: stage 1 localizes
// and classifies candidate objects, stage 2 optionally refines accepted
// candidates with a segmentation mask.
package detect

import (
	"context"
	"image"

	"github.com/your-org/edgewatch/internal/models"
)

// Candidate is a stage-1 detection before confidence filtering.
type Candidate struct {
	Label      string
	Confidence float64
	BBox       [4]float64 // normalized x, y, w, h
}

// Engine is the inference capability behind a stable request/response
// contract. The stage decodes frames itself and serializes every engine
// call through one mutex, so implementations may keep per-call scratch
// state (pre-allocated tensors) without internal locking.
type Engine interface {
	// Detect runs stage-1 localization/classification on a decoded frame.
	Detect(ctx context.Context, frame models.Frame, img image.Image) ([]Candidate, error)
	// Refine runs stage-2 segmentation for one accepted candidate.
	Refine(ctx context.Context, img image.Image, cand Candidate) ([]float32, error)
	Close()
}
