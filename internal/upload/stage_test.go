package upload

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/pipeline"
	"github.com/your-org/edgewatch/internal/platform"
	"github.com/your-org/edgewatch/pkg/dto"
)

func testUploadConfig(t *testing.T) config.UploadConfig {
	return config.UploadConfig{
		MaxRetries:           3,
		BackoffBase:          time.Millisecond,
		BackoffMax:           5 * time.Millisecond,
		MaxConcurrentUploads: 4,
		DeadLetterDir:        t.TempDir(),
	}
}

// fakePlatform records upload attempts and replies from a scripted status
// sequence. Once the script runs out, every request succeeds.
type fakePlatform struct {
	mu       sync.Mutex
	statuses []int
	attempts int
	keys     []string
	requests []dto.UploadRequest
	records  map[string]bool // idempotency key -> record exists
}

func newFakePlatform(statuses ...int) *fakePlatform {
	return &fakePlatform{statuses: statuses, records: make(map[string]bool)}
}

func (f *fakePlatform) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		key := r.Header.Get("Idempotency-Key")
		f.attempts++
		f.keys = append(f.keys, key)

		var req dto.UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			f.requests = append(f.requests, req)
		}

		status := http.StatusOK
		if len(f.statuses) > 0 {
			status = f.statuses[0]
			f.statuses = f.statuses[1:]
		}

		if status >= 200 && status < 300 {
			f.records[key] = true
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(dto.UploadResponse{RecordID: uuid.NewString()})
			return
		}
		w.WriteHeader(status)
	}
}

func (f *fakePlatform) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakePlatform) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestStage(t *testing.T, srvURL string, cfg config.UploadConfig) (*Stage, *pipeline.Queue[models.DetectionResult], *DeadLetter) {
	t.Helper()
	client := platform.NewClient(config.PlatformConfig{
		BaseURL: srvURL,
		Timeout: 5 * time.Second,
	}, "edge-test")

	dl, err := NewDeadLetter(cfg.DeadLetterDir)
	if err != nil {
		t.Fatalf("NewDeadLetter: %v", err)
	}

	in := pipeline.NewQueue[models.DetectionResult](16)
	return NewStage(client, in, dl, cfg, srvURL), in, dl
}

func someResult(seq uint64) models.DetectionResult {
	return models.DetectionResult{
		FrameID:    uuid.New(),
		FrameSeq:   seq,
		CapturedAt: time.Now(),
		Detections: []models.Detection{
			{Label: "person", Confidence: 0.91, BBox: [4]float64{0.1, 0.2, 0.3, 0.4}},
		},
	}
}

// drainStage closes the input queue and waits for Run to finish delivery.
func drainStage(t *testing.T, s *Stage, in *pipeline.Queue[models.DetectionResult]) {
	t.Helper()
	in.Close()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after drain", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("upload stage did not drain")
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	fake := newFakePlatform(http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, dl := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(someResult(1))
	drainStage(t, s, in)

	if got := fake.attemptCount(); got != 3 {
		t.Errorf("platform saw %d attempts, want 3 (500, 502, 200)", got)
	}

	stats := s.Stats()
	if stats["uploaded_count"] != 1 {
		t.Errorf("uploaded_count = %g, want 1", stats["uploaded_count"])
	}
	if stats["retry_count"] != 2 {
		t.Errorf("retry_count = %g, want 2", stats["retry_count"])
	}
	if dl.Count() != 0 {
		t.Errorf("dead-letter count = %d, want 0", dl.Count())
	}
}

func TestIdempotencyKeyStableAcrossRetries(t *testing.T) {
	fake := newFakePlatform(http.StatusInternalServerError, http.StatusOK)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, _ := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(someResult(7))
	drainStage(t, s, in)

	fake.mu.Lock()
	keys := fake.keys
	fake.mu.Unlock()

	if len(keys) != 2 {
		t.Fatalf("platform saw %d attempts, want 2", len(keys))
	}
	if keys[0] != keys[1] {
		t.Errorf("idempotency key changed across retries: %q vs %q", keys[0], keys[1])
	}
	if got := fake.recordCount(); got != 1 {
		t.Errorf("remote records = %d, want 1", got)
	}
}

func TestExhaustedBudgetDeadLetters(t *testing.T) {
	// 1 initial attempt + 3 retries, all transient failures.
	fake := newFakePlatform(500, 500, 500, 500)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, dl := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(someResult(2))
	drainStage(t, s, in)

	if got := fake.attemptCount(); got != 4 {
		t.Errorf("platform saw %d attempts, want 4 (1 + MaxRetries)", got)
	}
	if dl.Count() != 1 {
		t.Fatalf("dead-letter count = %d, want 1", dl.Count())
	}

	tasks, err := dl.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if tasks[0].Status != models.UploadStatusDeadLettered {
		t.Errorf("parked task status = %q, want %q", tasks[0].Status, models.UploadStatusDeadLettered)
	}
	if tasks[0].Attempts != 4 {
		t.Errorf("parked task attempts = %d, want 4", tasks[0].Attempts)
	}
}

func TestPermanentFailureNeverRetried(t *testing.T) {
	fake := newFakePlatform(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, dl := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(someResult(3))
	drainStage(t, s, in)

	if got := fake.attemptCount(); got != 1 {
		t.Errorf("platform saw %d attempts, want 1 (4xx is permanent)", got)
	}
	if dl.Count() != 1 {
		t.Errorf("dead-letter count = %d, want 1", dl.Count())
	}
}

func TestEmptyResultsSkippedByDefault(t *testing.T) {
	fake := newFakePlatform()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, _ := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(models.DetectionResult{FrameID: uuid.New(), FrameSeq: 4})
	drainStage(t, s, in)

	if got := fake.attemptCount(); got != 0 {
		t.Errorf("platform saw %d attempts, want 0 for an empty result", got)
	}
	if got := s.Stats()["skipped_empty"]; got != 1 {
		t.Errorf("skipped_empty = %g, want 1", got)
	}
}

func TestReplayUsesOriginalKeyAndFreshBudget(t *testing.T) {
	// First delivery exhausts the budget; replay then succeeds.
	fake := newFakePlatform(500, 500, 500, 500)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, in, dl := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(someResult(5))
	drainStage(t, s, in)

	if dl.Count() != 1 {
		t.Fatalf("dead-letter count = %d, want 1 before replay", dl.Count())
	}

	fake.mu.Lock()
	originalKey := fake.keys[0]
	fake.keys = nil
	fake.mu.Unlock()

	n, err := s.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("Replay requeued %d tasks, want 1", n)
	}
	s.wg.Wait()

	fake.mu.Lock()
	replayKeys := fake.keys
	fake.mu.Unlock()

	if len(replayKeys) != 1 {
		t.Fatalf("platform saw %d replay attempts, want 1", len(replayKeys))
	}
	if replayKeys[0] != originalKey {
		t.Errorf("replay used key %q, want original %q", replayKeys[0], originalKey)
	}
	if dl.Count() != 0 {
		t.Errorf("dead-letter count = %d after successful replay, want 0", dl.Count())
	}
	if got := s.Stats()["uploaded_count"]; got != 1 {
		t.Errorf("uploaded_count = %g, want 1", got)
	}
}

func TestUploadPayloadSurvivesWire(t *testing.T) {
	fake := newFakePlatform()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	result := someResult(11)
	s, in, _ := newTestStage(t, srv.URL, testUploadConfig(t))
	in.Push(result)
	drainStage(t, s, in)

	fake.mu.Lock()
	requests := fake.requests
	keys := fake.keys
	fake.mu.Unlock()

	if len(requests) != 1 {
		t.Fatalf("platform decoded %d requests, want 1", len(requests))
	}
	req := requests[0]

	if req.DeviceID != "edge-test" {
		t.Errorf("device_id = %q, want edge-test", req.DeviceID)
	}
	if req.FrameSeq != 11 {
		t.Errorf("frame_seq = %d, want 11", req.FrameSeq)
	}
	if req.IdempotencyKey != keys[0] {
		t.Errorf("body key %q differs from header key %q", req.IdempotencyKey, keys[0])
	}

	if len(req.Detections) != 1 {
		t.Fatalf("decoded %d detections, want 1", len(req.Detections))
	}
	want := result.Detections[0]
	got := req.Detections[0]
	if got.Label != want.Label {
		t.Errorf("label = %q, want %q", got.Label, want.Label)
	}
	if math.Abs(got.Confidence-want.Confidence) > 1e-6 {
		t.Errorf("confidence = %g, want %g", got.Confidence, want.Confidence)
	}
	for i := range got.BBox {
		if math.Abs(got.BBox[i]-want.BBox[i]) > 1e-6 {
			t.Errorf("bbox[%d] = %g, want %g", i, got.BBox[i], want.BBox[i])
		}
	}
}

func TestDeadLetterRoundTrip(t *testing.T) {
	dl, err := NewDeadLetter(t.TempDir())
	if err != nil {
		t.Fatalf("NewDeadLetter: %v", err)
	}

	task := models.UploadTask{
		ID:             uuid.New(),
		Destination:    "http://platform.local",
		IdempotencyKey: uuid.NewString(),
		Result:         someResult(9),
		Attempts:       4,
		Status:         models.UploadStatusDeadLettered,
		LastError:      "upload rejected: status 503",
		CreatedAt:      time.Now().UTC(),
	}
	if err := dl.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tasks, err := dl.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("List returned %d tasks, want 1", len(tasks))
	}

	got := tasks[0]
	if got.ID != task.ID || got.IdempotencyKey != task.IdempotencyKey {
		t.Errorf("round-trip changed identity: got %v/%s", got.ID, got.IdempotencyKey)
	}
	if got.Result.FrameSeq != 9 || len(got.Result.Detections) != 1 {
		t.Errorf("round-trip lost the payload: %+v", got.Result)
	}
	d := got.Result.Detections[0]
	if d.Confidence < 0.91-1e-6 || d.Confidence > 0.91+1e-6 {
		t.Errorf("confidence drifted: %g", d.Confidence)
	}

	if err := dl.Remove(task.ID.String()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if dl.Count() != 0 {
		t.Errorf("Count = %d after Remove, want 0", dl.Count())
	}
}
