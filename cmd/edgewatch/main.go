package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/edgewatch/internal/alerting"
	"github.com/your-org/edgewatch/internal/api"
	"github.com/your-org/edgewatch/internal/api/handlers"
	"github.com/your-org/edgewatch/internal/api/ws"
	"github.com/your-org/edgewatch/internal/backup"
	"github.com/your-org/edgewatch/internal/capture"
	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/control"
	"github.com/your-org/edgewatch/internal/coordinator"
	"github.com/your-org/edgewatch/internal/detect"
	"github.com/your-org/edgewatch/internal/health"
	"github.com/your-org/edgewatch/internal/metrics"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/internal/observability"
	"github.com/your-org/edgewatch/internal/pipeline"
	"github.com/your-org/edgewatch/internal/platform"
	"github.com/your-org/edgewatch/internal/storage"
	"github.com/your-org/edgewatch/internal/upload"
	"github.com/your-org/edgewatch/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting edgewatch",
		"device", cfg.Device.ID,
		"source", cfg.Capture.Source,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Pipeline queues
	frameQ := pipeline.NewQueue[models.Frame](cfg.Pipeline.FrameQueueSize)
	resultQ := pipeline.NewQueue[models.DetectionResult](cfg.Pipeline.ResultQueueSize)

	// Capture
	var dev capture.Device
	if cfg.Capture.Source == "synthetic" {
		dev = capture.NewSyntheticDevice(cfg.Capture.FrameWidth, cfg.Capture.FrameWidth*3/4)
	} else {
		dev = capture.NewFFmpegDevice(cfg.Capture.Source, cfg.Capture.Interval, cfg.Capture.FrameWidth)
	}
	source := capture.NewSource(dev, frameQ, cfg.Capture)

	// Detection
	engine, err := detect.NewONNXEngine(cfg.Detect.ModelsDir, cfg.Detect.Segmentation)
	if err != nil {
		slog.Error("init detection engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	detectStage := detect.NewStage(engine, frameQ, resultQ, cfg.Detect)

	// Upload
	client := platform.NewClient(cfg.Platform, cfg.Device.ID)
	dl, err := upload.NewDeadLetter(cfg.Upload.DeadLetterDir)
	if err != nil {
		slog.Error("open dead-letter store", "error", err)
		os.Exit(1)
	}
	uploadStage := upload.NewStage(client, resultQ, dl, cfg.Upload, cfg.Platform.BaseURL)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Control plane (optional)
	var plane *control.Plane
	if cfg.NATS.URL != "" {
		plane, err = control.Connect(cfg.NATS.URL, cfg.Device.ID)
		if err != nil {
			slog.Error("connect control plane", "error", err)
			os.Exit(1)
		}
		defer plane.Close()
	}

	// Fan detection events out to WebSocket clients and the control plane.
	uploadStage.OnResult(func(result models.DetectionResult) {
		evt := dto.WSEvent{
			Type:      "detection",
			Timestamp: time.Now(),
			Payload: map[string]any{
				"frame_seq":   result.FrameSeq,
				"captured_at": result.CapturedAt,
				"detections":  result.Detections,
			},
		}
		hub.BroadcastEvent(&evt)
		if plane != nil {
			if err := plane.PublishEvent(evt); err != nil {
				slog.Warn("publish detection event", "error", err)
			}
		}
	})

	// Metrics
	collector := metrics.NewCollector(cfg.Metrics)
	collector.RegisterSource(source)
	collector.RegisterSource(detectStage)
	collector.RegisterSource(uploadStage)

	// Alerting
	alerts := alerting.NewEngine(cfg.Alerting)
	alerts.AddNotifier(hubNotifier{hub: hub})
	if plane != nil {
		alerts.AddNotifier(control.AlertNotifier{Plane: plane})
	}
	collector.OnCollect(alerts.Evaluate)

	// Coordinator
	coord := coordinator.New(cfg.Pipeline)
	coord.OnCritical(func(worker string, err error) {
		alerts.Notify(models.Alert{
			Rule:     "worker:" + worker,
			Metric:   "coordinator." + worker,
			Severity: models.SeverityCritical,
			State:    models.AlertFiring,
			Message:  fmt.Sprintf("worker %s permanently failed: %v", worker, err),
			FiredAt:  time.Now(),
		})
	})

	// Health
	monitor := health.NewMonitor(cfg.Health)
	monitor.AddCheck(health.NewResourceCheck(cfg.Health), health.MemoryReclaimAction{})
	monitor.AddCheck(health.NewDependencyCheck(client.Reachable), nil)
	monitor.AddCheck(health.NewLivenessCheck(coord.Status), &health.WorkerRestartAction{
		Status:  coord.Status,
		Restart: coord.Restart,
	})
	monitor.AddCheck(health.NewWritabilityCheck(cfg.Health.ProbeDir), &health.TempCleanupAction{
		Dir:    cfg.Health.ProbeDir,
		MaxAge: 24 * time.Hour,
	})
	monitor.OnCritical(alerts.Notify)

	// Backup (optional)
	var mgr *backup.Manager
	var store *storage.MinIOStore
	if cfg.Backup.Enabled {
		store, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		mgr = backup.NewManager(store, cfg.Backup, *configPath, dl.Dir(), collector.ExportFlat)
	}

	// Register workers in shutdown order: producers drain first.
	coord.Register(source,
		coordinator.WithQueueDepth(frameQ.Len),
		coordinator.WithLastActivity(source.LastActivity),
	)
	coord.Register(detectStage,
		coordinator.WithQueueDepth(resultQ.Len),
		coordinator.WithLastActivity(detectStage.LastActivity),
		coordinator.WithDrain(frameQ.Close),
	)
	coord.Register(uploadStage,
		coordinator.WithLastActivity(uploadStage.LastActivity),
		coordinator.WithDrain(resultQ.Close),
	)
	coord.Register(collector)
	coord.Register(monitor)
	if mgr != nil {
		coord.Register(mgr)
	}
	coord.Register(platform.NewRegistrar(client, cfg.Device, cfg.Server.Port, cfg.Platform.PingInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe for operator commands once everything is wired.
	if plane != nil {
		h := control.Handlers{
			Suppress: alerts.Suppress,
			Restart:  coord.Restart,
			Replay:   uploadStage.Replay,
		}
		if mgr != nil {
			h.Backup = mgr.Snapshot
		}
		if err := plane.Subscribe(ctx, h); err != nil {
			slog.Warn("subscribe control plane", "error", err)
		}
	}

	coord.Start(ctx)

	// Status API
	var storePinger handlers.StorePinger
	if store != nil {
		storePinger = store
	}
	var planePinger handlers.PlanePinger
	if plane != nil {
		planePinger = plane
	}
	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		Device:      cfg.Device,
		Coordinator: coord,
		Collector:   collector,
		Alerts:      alerts,
		Health:      monitor,
		DeadLetter:  dl,
		Uploads:     uploadStage,
		Backups:     mgr,
		Store:       storePinger,
		Plane:       planePinger,
		Hub:         hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("status API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	coord.Shutdown()
	cancel()

	slog.Info("edgewatch stopped")
}

// hubNotifier broadcasts alert transitions to WebSocket clients.
type hubNotifier struct {
	hub *ws.Hub
}

func (n hubNotifier) Name() string { return "websocket" }

func (n hubNotifier) Send(_ context.Context, alert models.Alert) error {
	evtType := "alert"
	if alert.State == models.AlertResolved {
		evtType = "alert_resolved"
	}
	n.hub.BroadcastEvent(&dto.WSEvent{
		Type:      evtType,
		Timestamp: time.Now(),
		Payload:   alert,
	})
	return nil
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
