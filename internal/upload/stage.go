package upload

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
	"github.com/your-org/edgewatch/internal/pipeline"
	"github.com/your-org/edgewatch/internal/platform"
)

// Uploader is the slice of the platform client the stage needs.
type Uploader interface {
	UploadBatch(ctx context.Context, result models.DetectionResult, idempotencyKey string) (string, error)
}

// Stage delivers detection results to the platform. Each task carries a
// client-generated idempotency key that stays fixed across retries, so an
// ambiguous failure never creates a duplicate remote record. Up to
// MaxConcurrentUploads tasks are in flight; no cross-task ordering is
// guaranteed.
type Stage struct {
	client      Uploader
	in          *pipeline.Queue[models.DetectionResult]
	dl          *DeadLetter
	cfg         config.UploadConfig
	destination string

	sem chan struct{}
	wg  sync.WaitGroup

	// onResult, when set, observes every result with detections as it
	// enters the stage. Used to fan events out to subscribers.
	onResult func(models.DetectionResult)

	uploaded     atomic.Uint64
	failed       atomic.Uint64
	deadlettered atomic.Uint64
	retries      atomic.Uint64
	skippedEmpty atomic.Uint64
	inFlight     atomic.Int64
	lastActivity atomic.Int64
}

func NewStage(client Uploader, in *pipeline.Queue[models.DetectionResult], dl *DeadLetter, cfg config.UploadConfig, destination string) *Stage {
	return &Stage{
		client:      client,
		in:          in,
		dl:          dl,
		cfg:         cfg,
		destination: destination,
		sem:         make(chan struct{}, cfg.MaxConcurrentUploads),
	}
}

func (s *Stage) Name() string { return "upload" }

// OnResult sets the result observer. Call before Run.
func (s *Stage) OnResult(fn func(models.DetectionResult)) {
	s.onResult = fn
}

// Run consumes results until ctx is cancelled or the result queue closes,
// then waits for in-flight deliveries to finish.
func (s *Stage) Run(ctx context.Context) error {
	defer s.wg.Wait()

	for {
		result, ok := s.in.Pop(ctx)
		if !ok {
			return nil
		}

		if s.onResult != nil && len(result.Detections) > 0 {
			s.onResult(result)
		}

		if len(result.Detections) == 0 && !s.cfg.UploadEmpty {
			s.skippedEmpty.Add(1)
			continue
		}

		task := models.UploadTask{
			ID:             uuid.New(),
			Destination:    s.destination,
			IdempotencyKey: uuid.NewString(),
			Result:         result,
			Status:         models.UploadStatusPending,
			CreatedAt:      time.Now(),
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			// Shutting down before delivery started: park the task so it
			// is never lost.
			s.park(task, "shutdown before delivery")
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.deliver(ctx, task)
		}()
	}
}

// deliver attempts the task once plus up to MaxRetries retries with
// exponential backoff and jitter. Permanent (4xx) failures and exhausted
// budgets park the task in the dead-letter store.
func (s *Stage) deliver(ctx context.Context, task models.UploadTask) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	task.Status = models.UploadStatusInFlight

	for {
		task.Attempts++
		recordID, err := s.client.UploadBatch(ctx, task.Result, task.IdempotencyKey)
		if err == nil {
			task.Status = models.UploadStatusSucceeded
			s.uploaded.Add(1)
			s.lastActivity.Store(time.Now().UnixNano())
			observability.UploadsSucceeded.Inc()
			slog.Debug("batch uploaded",
				"record_id", recordID,
				"seq", task.Result.FrameSeq,
				"attempts", task.Attempts,
			)
			return
		}

		s.failed.Add(1)
		observability.UploadsFailed.Inc()
		task.LastError = err.Error()

		if errors.Is(err, platform.ErrPermanent) {
			s.park(task, "permanent failure")
			return
		}

		retriesUsed := task.Attempts - 1
		if retriesUsed >= s.cfg.MaxRetries {
			s.park(task, "retry budget exhausted")
			return
		}

		s.retries.Add(1)
		delay := s.backoff(retriesUsed)
		slog.Warn("upload failed, retrying",
			"seq", task.Result.FrameSeq,
			"attempt", task.Attempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			s.park(task, "shutdown during retry")
			return
		case <-time.After(delay):
		}
	}
}

// backoff returns base*2^n capped at BackoffMax, with ±50% jitter.
func (s *Stage) backoff(n int) time.Duration {
	d := s.cfg.BackoffBase << uint(n)
	if d > s.cfg.BackoffMax || d <= 0 {
		d = s.cfg.BackoffMax
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

func (s *Stage) park(task models.UploadTask, reason string) {
	s.deadlettered.Add(1)
	observability.DeadLettered.Inc()
	slog.Error("upload task dead-lettered",
		"task", task.ID,
		"seq", task.Result.FrameSeq,
		"attempts", task.Attempts,
		"reason", reason,
		"last_error", task.LastError,
	)
	if err := s.dl.Add(task); err != nil {
		slog.Error("persist dead-letter task", "task", task.ID, "error", err)
	}
}

// Replay re-enqueues every parked task with a fresh retry budget but the
// original idempotency key. Returns the number of tasks requeued.
func (s *Stage) Replay(ctx context.Context) (int, error) {
	tasks, err := s.dl.List()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, task := range tasks {
		if err := s.dl.Remove(task.ID.String()); err != nil {
			return n, err
		}
		task.Attempts = 0
		task.Status = models.UploadStatusPending
		task.LastError = ""

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			s.park(task, "shutdown during replay")
			return n, ctx.Err()
		}

		s.wg.Add(1)
		go func(t models.UploadTask) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.deliver(ctx, t)
		}(task)
		n++
	}

	slog.Info("dead-letter replay started", "tasks", n)
	return n, nil
}

// Stats exposes upload counters to the metrics collector.
func (s *Stage) Stats() map[string]float64 {
	return map[string]float64{
		"uploaded_count":      float64(s.uploaded.Load()),
		"failed_upload_count": float64(s.failed.Load()),
		"deadletter_count":    float64(s.deadlettered.Load()),
		"retry_count":         float64(s.retries.Load()),
		"skipped_empty":       float64(s.skippedEmpty.Load()),
		"in_flight_uploads":   float64(s.inFlight.Load()),
	}
}

func (s *Stage) LastActivity() time.Time {
	n := s.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
