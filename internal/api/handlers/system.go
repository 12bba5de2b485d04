package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/alerting"
	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/coordinator"
	"github.com/your-org/edgewatch/internal/health"
	"github.com/your-org/edgewatch/internal/metrics"
	"github.com/your-org/edgewatch/internal/models"
)

// StorePinger and PlanePinger are the connectivity probes readiness uses.
type StorePinger interface {
	Ping(ctx context.Context) error
}

type PlanePinger interface {
	Ping() error
}

type SystemHandler struct {
	coord     *coordinator.Coordinator
	monitor   *health.Monitor
	collector *metrics.Collector
	alerts    *alerting.Engine
	store     StorePinger // nil when backup is disabled
	plane     PlanePinger // nil when the control plane is disabled
	device    config.DeviceConfig
	started   time.Time
}

func NewSystemHandler(coord *coordinator.Coordinator, monitor *health.Monitor, collector *metrics.Collector, alerts *alerting.Engine, store StorePinger, plane PlanePinger, device config.DeviceConfig) *SystemHandler {
	return &SystemHandler{
		coord:     coord,
		monitor:   monitor,
		collector: collector,
		alerts:    alerts,
		store:     store,
		plane:     plane,
		device:    device,
		started:   time.Now(),
	}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["object_store"] = err.Error()
			ready = false
		} else {
			checks["object_store"] = "ok"
		}
	}

	if h.plane != nil {
		if err := h.plane.Ping(); err != nil {
			checks["nats"] = err.Error()
			ready = false
		} else {
			checks["nats"] = "ok"
		}
	}

	if overall := h.monitor.Overall(); overall == models.HealthCritical {
		checks["health"] = string(overall)
		ready = false
	} else {
		checks["health"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}

// Status is the consolidated device view: identity, uptime, worker states,
// the latest metric snapshot, active alerts and overall health.
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device": gin.H{
			"id":           h.device.ID,
			"address":      h.device.Address,
			"capabilities": h.device.Capabilities,
		},
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"workers":        h.coord.Status(),
		"metrics":        h.collector.Current().Values,
		"alerts":         h.alerts.Active(),
		"health":         h.monitor.Overall(),
	})
}
