package detect

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
	"github.com/your-org/edgewatch/internal/pipeline"
)

// Stage is the inference worker. It consumes frames, runs the two-stage
// engine, filters by confidence and emits DetectionResults. A per-frame
// engine failure is counted and skipped; it never terminates the worker.
type Stage struct {
	engine Engine
	in     *pipeline.Queue[models.Frame]
	out    *pipeline.Queue[models.DetectionResult]
	cfg    config.DetectConfig

	// engineMu serializes engine calls: the engine reuses pre-allocated
	// tensors and a single session, which are not safe for concurrent runs.
	engineMu sync.Mutex

	processed    atomic.Uint64
	failed       atomic.Uint64
	emitted      atomic.Uint64
	lastActivity atomic.Int64
}

func NewStage(engine Engine, in *pipeline.Queue[models.Frame], out *pipeline.Queue[models.DetectionResult], cfg config.DetectConfig) *Stage {
	return &Stage{engine: engine, in: in, out: out, cfg: cfg}
}

func (s *Stage) Name() string { return "inference" }

// Run consumes frames until ctx is cancelled or the frame queue closes.
// With WorkerCount > 1, frames are decoded concurrently while inference
// itself stays serialized, and output order across results is not
// guaranteed.
func (s *Stage) Run(ctx context.Context) error {
	workers := s.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				frame, ok := s.in.Pop(ctx)
				if !ok {
					return
				}
				s.processFrame(ctx, id, frame)
			}
		}(i)
	}
	wg.Wait()
	return nil
}

func (s *Stage) processFrame(ctx context.Context, worker int, frame models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			observability.FramesFailed.Inc()
			slog.Error("inference panic", "worker", worker, "seq", frame.Seq, "panic", fmt.Sprint(r))
		}
	}()

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		s.failed.Add(1)
		observability.FramesFailed.Inc()
		slog.Warn("frame decode failed, skipping", "worker", worker, "seq", frame.Seq, "error", err)
		return
	}

	start := time.Now()
	inferCtx, cancel := context.WithTimeout(ctx, s.cfg.InferenceTimeout)
	defer cancel()

	s.engineMu.Lock()
	cands, err := s.engine.Detect(inferCtx, frame, img)
	s.engineMu.Unlock()
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failed.Add(1)
		observability.FramesFailed.Inc()
		slog.Warn("inference failed, skipping frame", "worker", worker, "seq", frame.Seq, "error", err)
		return
	}

	var detections []models.Detection
	for _, c := range cands {
		if c.Confidence < s.cfg.ConfidenceThreshold {
			continue
		}

		det := models.Detection{
			Label:      c.Label,
			Confidence: c.Confidence,
			BBox:       c.BBox,
		}

		if s.cfg.Segmentation {
			refStart := time.Now()
			s.engineMu.Lock()
			mask, err := s.engine.Refine(inferCtx, img, c)
			s.engineMu.Unlock()
			observability.InferenceDuration.WithLabelValues("refine").Observe(time.Since(refStart).Seconds())
			if err != nil {
				slog.Warn("refinement failed", "seq", frame.Seq, "label", c.Label, "error", err)
			} else {
				det.Mask = mask
			}
		}

		detections = append(detections, det)
	}

	result := models.DetectionResult{
		FrameID:    frame.ID,
		FrameSeq:   frame.Seq,
		CapturedAt: frame.Timestamp,
		Detections: detections,
		Duration:   time.Since(start),
	}

	if s.out.Push(result) {
		observability.FramesDropped.WithLabelValues("results").Inc()
		slog.Debug("result queue full, dropped oldest", "seq", frame.Seq)
	}

	s.processed.Add(1)
	s.emitted.Add(uint64(len(detections)))
	s.lastActivity.Store(time.Now().UnixNano())
	observability.DetectionsEmitted.Add(float64(len(detections)))
	observability.QueueDepth.WithLabelValues("results").Set(float64(s.out.Len()))
}

// Stats exposes inference counters to the metrics collector.
func (s *Stage) Stats() map[string]float64 {
	return map[string]float64{
		"processed_frames":   float64(s.processed.Load()),
		"failed_frames":      float64(s.failed.Load()),
		"dropped_results":    float64(s.out.Dropped()),
		"emitted_detections": float64(s.emitted.Load()),
		"result_queue_depth": float64(s.out.Len()),
	}
}

func (s *Stage) LastActivity() time.Time {
	n := s.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
