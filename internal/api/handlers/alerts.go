package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/alerting"
)

type AlertHandler struct {
	engine *alerting.Engine
}

func NewAlertHandler(engine *alerting.Engine) *AlertHandler {
	return &AlertHandler{engine: engine}
}

func (h *AlertHandler) Active(c *gin.Context) {
	alerts := h.engine.Active()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": len(alerts)})
}

func (h *AlertHandler) History(c *gin.Context) {
	alerts := h.engine.History()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": len(alerts)})
}

type suppressRequest struct {
	Duration string `json:"duration" binding:"required"`
}

// Suppress mutes a rule for the requested duration. The rule keeps being
// evaluated and logged but no notifications go out.
func (h *AlertHandler) Suppress(c *gin.Context) {
	rule := c.Param("rule")

	var req suppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration: " + req.Duration})
		return
	}

	if !h.engine.Suppress(rule, d) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown rule: " + rule})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": rule, "suppressed_for": d.String()})
}
