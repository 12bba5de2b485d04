package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/health"
)

type HealthHandler struct {
	monitor *health.Monitor
}

func NewHealthHandler(monitor *health.Monitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

func (h *HealthHandler) Report(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Report())
}
