package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/edgewatch/internal/backup"
)

type BackupHandler struct {
	manager *backup.Manager // nil when backup is disabled
}

func NewBackupHandler(manager *backup.Manager) *BackupHandler {
	return &BackupHandler{manager: manager}
}

func (h *BackupHandler) List(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup is disabled"})
		return
	}

	records, err := h.manager.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": records, "total": len(records)})
}

// Create takes an on-demand snapshot outside the regular schedule.
func (h *BackupHandler) Create(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup is disabled"})
		return
	}

	record, err := h.manager.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *BackupHandler) Restore(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup is disabled"})
		return
	}

	id := c.Param("id")
	if err := h.manager.Restore(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": id})
}
