package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/edgewatch/internal/alerting"
	"github.com/your-org/edgewatch/internal/api/handlers"
	"github.com/your-org/edgewatch/internal/api/ws"
	"github.com/your-org/edgewatch/internal/auth"
	"github.com/your-org/edgewatch/internal/backup"
	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/coordinator"
	"github.com/your-org/edgewatch/internal/health"
	"github.com/your-org/edgewatch/internal/metrics"
	"github.com/your-org/edgewatch/internal/upload"
)

type RouterConfig struct {
	APIKey      string
	Device      config.DeviceConfig
	Coordinator *coordinator.Coordinator
	Collector   *metrics.Collector
	Alerts      *alerting.Engine
	Health      *health.Monitor
	DeadLetter  *upload.DeadLetter
	Uploads     *upload.Stage
	Backups     *backup.Manager      // nil when disabled
	Store       handlers.StorePinger // nil when backup is disabled
	Plane       handlers.PlanePinger // nil when the control plane is disabled
	Hub         *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Coordinator, cfg.Health, cfg.Collector, cfg.Alerts, cfg.Store, cfg.Plane, cfg.Device)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Status
	v1.GET("/status", systemH.Status)

	// Metrics
	metricsH := handlers.NewMetricsHandler(cfg.Collector)
	v1.GET("/metrics", metricsH.Tree)
	v1.GET("/metrics/flat", metricsH.Flat)
	v1.GET("/metrics/:name/history", metricsH.History)

	// Alerts
	alertH := handlers.NewAlertHandler(cfg.Alerts)
	v1.GET("/alerts", alertH.Active)
	v1.GET("/alerts/history", alertH.History)
	v1.POST("/alerts/:rule/suppress", alertH.Suppress)

	// Health
	healthH := handlers.NewHealthHandler(cfg.Health)
	v1.GET("/health", healthH.Report)

	// Dead letter
	dlH := handlers.NewDeadLetterHandler(cfg.DeadLetter, cfg.Uploads)
	v1.GET("/deadletter", dlH.List)
	v1.POST("/deadletter/replay", dlH.Replay)

	// Backups
	backupH := handlers.NewBackupHandler(cfg.Backups)
	v1.GET("/backups", backupH.List)
	v1.POST("/backups", backupH.Create)
	v1.POST("/backups/:id/restore", backupH.Restore)

	return r
}
