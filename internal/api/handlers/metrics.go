package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/metrics"
)

type MetricsHandler struct {
	collector *metrics.Collector
}

func NewMetricsHandler(collector *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// Tree returns the latest snapshot as nested JSON.
func (h *MetricsHandler) Tree(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.ExportTree())
}

// Flat returns the latest snapshot as key=value lines.
func (h *MetricsHandler) Flat(c *gin.Context) {
	c.String(http.StatusOK, h.collector.ExportFlat())
}

// History returns recent points for one metric. The window defaults to
// one hour and is capped by the collector's retention.
func (h *MetricsHandler) History(c *gin.Context) {
	name := c.Param("name")

	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window: " + raw})
			return
		}
		window = d
	}

	points := h.collector.History(name, window)
	c.JSON(http.StatusOK, gin.H{
		"metric": name,
		"window": window.String(),
		"points": points,
		"total":  len(points),
	})
}
