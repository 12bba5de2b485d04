package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/your-org/edgewatch/internal/alerting"
	"github.com/your-org/edgewatch/internal/api/ws"
	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/coordinator"
	"github.com/your-org/edgewatch/internal/health"
	"github.com/your-org/edgewatch/internal/metrics"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/pipeline"
	"github.com/your-org/edgewatch/internal/platform"
	"github.com/your-org/edgewatch/internal/upload"
)

func newTestRouter(t *testing.T, apiKey string) http.Handler {
	t.Helper()

	dl, err := upload.NewDeadLetter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	client := platform.NewClient(config.PlatformConfig{
		BaseURL: "http://127.0.0.1:0",
		Timeout: time.Second,
	}, "edge-test")
	resultQ := pipeline.NewQueue[models.DetectionResult](4)
	stage := upload.NewStage(client, resultQ, dl, config.UploadConfig{
		MaxRetries:           1,
		BackoffBase:          time.Millisecond,
		BackoffMax:           time.Millisecond,
		MaxConcurrentUploads: 1,
	}, "http://127.0.0.1:0")

	collector := metrics.NewCollector(config.MetricsConfig{
		CollectionInterval: time.Second,
		HistorySize:        10,
	})

	return NewRouter(RouterConfig{
		APIKey:      apiKey,
		Device:      config.DeviceConfig{ID: "edge-test"},
		Coordinator: coordinator.New(config.PipelineConfig{}),
		Collector:   collector,
		Alerts:      alerting.NewEngine(config.AlertingConfig{HistorySize: 10}),
		Health:      health.NewMonitor(config.HealthConfig{CheckInterval: time.Second}),
		DeadLetter:  dl,
		Uploads:     stage,
		Hub:         ws.NewHub(),
	})
}

func TestHealthzOpenWithoutKey(t *testing.T) {
	r := newTestRouter(t, "secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", w.Code)
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	r := newTestRouter(t, "secret")

	// Missing key.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: GET /v1/status = %d, want 401", w.Code)
	}

	// Wrong key.
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong key: GET /v1/status = %d, want 403", w.Code)
	}

	// Correct key.
	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("correct key: GET /v1/status = %d, want 200", w.Code)
	}

	var status struct {
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Device.ID != "edge-test" {
		t.Errorf("status device id = %q, want edge-test", status.Device.ID)
	}
}

func TestAuthDisabledWithEmptyKey(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/alerts", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /v1/alerts without auth = %d, want 200", w.Code)
	}
}

func TestMetricsHistoryValidation(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metrics/system.cpu_percent/history?window=banana", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad window = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metrics/system.cpu_percent/history?window=1h", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid window = %d, want 200", w.Code)
	}
}

func TestBackupsDisabledReturns503(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/backups", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /v1/backups with backup disabled = %d, want 503", w.Code)
	}
}

func TestDeadLetterEmptyList(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deadletter", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /v1/deadletter = %d, want 200", w.Code)
	}

	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 {
		t.Errorf("deadletter total = %d, want 0", resp.Total)
	}
}
