// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewleech/mpy-devices/internal/config"
)

// HealthHandler serves liveness information.
type HealthHandler struct {
	config    *config.Config
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		startedAt: time.Now(),
	}
}

// Health reports service status.
// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"name":    h.config.App.Name,
		"version": h.config.App.Version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}
