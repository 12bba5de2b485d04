package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/detect"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/pipeline"
	"github.com/your-org/edgewatch/internal/platform"
	"github.com/your-org/edgewatch/internal/upload"
	"github.com/your-org/edgewatch/pkg/dto"
)

// scriptedEngine reports a confident person on the first four frames it
// sees and sub-threshold noise on the rest.
type scriptedEngine struct {
	calls atomic.Int64
}

func (e *scriptedEngine) Detect(context.Context, models.Frame, image.Image) ([]detect.Candidate, error) {
	conf := 0.2
	if e.calls.Add(1) <= 4 {
		conf = 0.9
	}
	return []detect.Candidate{
		{Label: "person", Confidence: conf, BBox: [4]float64{0.1, 0.1, 0.2, 0.3}},
	}, nil
}

func (e *scriptedEngine) Refine(context.Context, image.Image, detect.Candidate) ([]float32, error) {
	return nil, nil
}

func (e *scriptedEngine) Close() {}

// The full inference path: ten captured frames, four detections above the
// confidence threshold, so exactly four batches reach the platform and
// nothing lands in the dead-letter store.
func TestPipelineUploadsOnlyConfidentDetections(t *testing.T) {
	var uploads atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		json.NewEncoder(w).Encode(dto.UploadResponse{RecordID: uuid.NewString()})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 12)), nil); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}

	frameQ := pipeline.NewQueue[models.Frame](16)
	resultQ := pipeline.NewQueue[models.DetectionResult](16)
	for i := 1; i <= 10; i++ {
		frameQ.Push(models.Frame{
			ID:        uuid.New(),
			Seq:       uint64(i),
			Timestamp: time.Now(),
			Data:      buf.Bytes(),
		})
	}
	frameQ.Close()

	detectStage := detect.NewStage(&scriptedEngine{}, frameQ, resultQ, config.DetectConfig{
		ConfidenceThreshold: 0.5,
		WorkerCount:         1,
		InferenceTimeout:    time.Second,
	})
	if err := detectStage.Run(context.Background()); err != nil {
		t.Fatalf("detect stage: %v", err)
	}
	resultQ.Close()

	client := platform.NewClient(config.PlatformConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, "edge-test")
	dl, err := upload.NewDeadLetter(t.TempDir())
	if err != nil {
		t.Fatalf("NewDeadLetter: %v", err)
	}
	uploadStage := upload.NewStage(client, resultQ, dl, config.UploadConfig{
		MaxRetries:           1,
		BackoffBase:          time.Millisecond,
		BackoffMax:           time.Millisecond,
		MaxConcurrentUploads: 2,
	}, srv.URL)
	if err := uploadStage.Run(context.Background()); err != nil {
		t.Fatalf("upload stage: %v", err)
	}

	if got := uploads.Load(); got != 4 {
		t.Errorf("platform received %d batches, want 4", got)
	}
	if got := uploadStage.Stats()["skipped_empty"]; got != 6 {
		t.Errorf("skipped_empty = %g, want 6", got)
	}
	if dl.Count() != 0 {
		t.Errorf("dead-letter count = %d, want 0", dl.Count())
	}
}
