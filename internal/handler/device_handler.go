// internal/handler/device_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/query"
	"github.com/andrewleech/mpy-devices/internal/store"
)

// DeviceHandler exposes device discovery and query over HTTP.
type DeviceHandler struct {
	service  *query.Service
	history  *store.HistoryStore
	eventBus *EventBus
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDeviceHandler creates a new device handler. history may be nil
// when the local store is disabled.
func NewDeviceHandler(service *query.Service, history *store.HistoryStore, eventBus *EventBus, timeout time.Duration, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		service:  service,
		history:  history,
		eventBus: eventBus,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "device-handler")),
	}
}

// ListDevices lists available serial endpoints.
// GET /api/v1/devices?include_tty=false
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	includeTty := c.DefaultQuery("include_tty", "false") == "true"

	endpoints, err := h.service.DiscoverDevices(includeTty)
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list devices", err)
		return
	}

	h.eventBus.Publish(EventScanCompleted, "discovery", gin.H{"devices_found": len(endpoints)})

	SuccessResponse(c, http.StatusOK, "Devices listed", gin.H{
		"devices_found": len(endpoints),
		"devices":       endpoints,
	})
}

// QueryDevice queries one device by matcher, or every discovered
// device when no matcher is given. Per-device failures come back as
// data inside each result, never as a failed batch.
// GET /api/v1/query?device=a0&timeout=10s&include_tty=false
func (h *DeviceHandler) QueryDevice(c *gin.Context) {
	timeout := h.timeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid timeout", err)
			return
		}
		timeout = parsed
	}

	matcher := c.Query("device")
	if matcher == "" {
		includeTty := c.DefaultQuery("include_tty", "false") == "true"
		h.queryAll(c, timeout, includeTty)
		return
	}

	endpoint, err := h.service.FindDevice(matcher)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			ErrorResponse(c, http.StatusNotFound, "Device not found", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Device lookup failed", err)
		return
	}

	h.eventBus.Publish(EventQueryStarted, "query", gin.H{"path": endpoint.Path})
	result := h.service.QueryDevice(c.Request.Context(), endpoint, timeout)
	h.eventBus.Publish(EventQueryCompleted, "query", result)

	SuccessResponse(c, http.StatusOK, "Device queried", result)
}

func (h *DeviceHandler) queryAll(c *gin.Context, timeout time.Duration, includeTty bool) {
	endpoints, err := h.service.DiscoverDevices(includeTty)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list devices", err)
		return
	}

	h.eventBus.Publish(EventQueryStarted, "query", gin.H{"devices": len(endpoints)})
	results := h.service.QueryAll(c.Request.Context(), endpoints, timeout)
	for _, result := range results {
		h.eventBus.Publish(EventQueryCompleted, "query", result)
	}

	SuccessResponse(c, http.StatusOK, "Devices queried", gin.H{
		"devices_found": len(results),
		"results":       results,
	})
}

// History returns recent query results from the local store.
// GET /api/v1/history?limit=50
func (h *DeviceHandler) History(c *gin.Context) {
	if h.history == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "History store disabled", nil)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	entries, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read history", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to read history", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "History retrieved", gin.H{
		"entries_found": len(entries),
		"entries":       entries,
	})
}
