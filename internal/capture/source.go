package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
	"github.com/your-org/edgewatch/internal/pipeline"
)

var (
	// ErrCameraUnavailable is returned when the device cannot be opened or
	// keeps failing reads past the configured limit. The coordinator treats
	// it as a worker-fatal fault.
	ErrCameraUnavailable = errors.New("camera unavailable")

	ErrDeviceClosed = errors.New("device closed")
	ErrReadFailed   = errors.New("frame read failed")
)

// Source is the capture worker. It grabs one frame per interval, stamps it
// with a strictly increasing sequence number and pushes it into the frame
// queue with a drop-oldest overflow policy.
type Source struct {
	dev Device
	out *pipeline.Queue[models.Frame]
	cfg config.CaptureConfig

	seq          atomic.Uint64
	captured     atomic.Uint64
	readFailures atomic.Uint64
	lastCapture  atomic.Int64 // unix nanos
}

func NewSource(dev Device, out *pipeline.Queue[models.Frame], cfg config.CaptureConfig) *Source {
	return &Source{dev: dev, out: out, cfg: cfg}
}

func (s *Source) Name() string { return "capture" }

// Run opens the device (with backoff retries) and then grabs frames until
// ctx is cancelled. Persistent read failures halt the worker with
// ErrCameraUnavailable.
func (s *Source) Run(ctx context.Context) error {
	if err := s.openWithRetry(ctx); err != nil {
		return err
	}
	defer s.dev.Close()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		grabCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
		data, err := s.dev.Grab(grabCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutive++
			s.readFailures.Add(1)
			slog.Warn("frame grab failed", "error", err, "consecutive", consecutive)
			if consecutive >= s.cfg.ReadFailureLimit {
				return fmt.Errorf("%w: %d consecutive read failures", ErrCameraUnavailable, consecutive)
			}
			continue
		}
		consecutive = 0

		frame := models.Frame{
			ID:        uuid.New(),
			Seq:       s.seq.Add(1),
			Timestamp: time.Now(),
			Width:     s.cfg.FrameWidth,
			Data:      data,
		}

		if s.out.Push(frame) {
			observability.FramesDropped.WithLabelValues("frames").Inc()
			slog.Debug("frame queue full, dropped oldest", "seq", frame.Seq)
		}
		s.captured.Add(1)
		s.lastCapture.Store(frame.Timestamp.UnixNano())
		observability.FramesCaptured.Inc()
		observability.QueueDepth.WithLabelValues("frames").Set(float64(s.out.Len()))
	}
}

func (s *Source) openWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.OpenRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second // 1s, 2s, 4s, ...
			slog.Warn("retrying device open", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := s.dev.Open(ctx); err != nil {
			lastErr = err
			slog.Warn("device open failed", "error", err, "attempt", attempt)
			continue
		}
		slog.Info("capture device opened", "source", s.cfg.Source, "interval", s.cfg.Interval)
		return nil
	}
	return fmt.Errorf("%w: open failed after %d attempts: %v", ErrCameraUnavailable, s.cfg.OpenRetries+1, lastErr)
}

// Stats exposes capture counters to the metrics collector.
func (s *Source) Stats() map[string]float64 {
	return map[string]float64{
		"captured_frames":   float64(s.captured.Load()),
		"dropped_frames":    float64(s.out.Dropped()),
		"read_failures":     float64(s.readFailures.Load()),
		"frame_queue_depth": float64(s.out.Len()),
	}
}

// LastActivity reports when the last frame was captured.
func (s *Source) LastActivity() time.Time {
	n := s.lastCapture.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
