package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/upload"
)

type DeadLetterHandler struct {
	dl    *upload.DeadLetter
	stage *upload.Stage
}

func NewDeadLetterHandler(dl *upload.DeadLetter, stage *upload.Stage) *DeadLetterHandler {
	return &DeadLetterHandler{dl: dl, stage: stage}
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	tasks, err := h.dl.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// Replay requeues every dead-lettered task with a fresh retry budget.
func (h *DeadLetterHandler) Replay(c *gin.Context) {
	n, err := h.stage.Replay(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}
