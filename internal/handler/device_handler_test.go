// internal/handler/device_handler_test.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/query"
)

type fakeInventory struct {
	endpoints      []model.DeviceEndpoint
	lastIncludeTty bool
}

func (f *fakeInventory) ListEndpoints(includeGenericTty bool) ([]model.DeviceEndpoint, error) {
	f.lastIncludeTty = includeGenericTty
	return f.endpoints, nil
}

type fakeSession struct {
	path   string
	stdout []byte
}

func (f *fakeSession) Open(context.Context) error { return nil }

func (f *fakeSession) Execute(context.Context, string, time.Duration) ([]byte, []byte, error) {
	return f.stdout, nil, nil
}

func (f *fakeSession) Close() error { return nil }
func (f *fakeSession) Path() string { return f.path }

func newTestHandler(inventory *fakeInventory) *DeviceHandler {
	factory := func(path string) query.ReplSession {
		return &fakeSession{
			path:   path,
			stdout: []byte("(sysname='rp2', release='1.22.0', version='v1.22.0', machine='RPI_PICO')\r\n"),
		}
	}
	service := query.NewService(inventory, factory, nil, zap.NewNop())
	return NewDeviceHandler(service, nil, NewEventBus(zap.NewNop()), time.Second, zap.NewNop())
}

func newTestRouter(h *DeviceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/devices", h.ListDevices)
	router.GET("/api/v1/query", h.QueryDevice)
	router.GET("/api/v1/history", h.History)
	return router
}

func doRequest(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestListDevices(t *testing.T) {
	h := newTestHandler(&fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123", VendorID: "2e8a", ProductID: "0005"},
	}})
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/devices")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["devices_found"])
}

func TestQueryDeviceByMatcher(t *testing.T) {
	h := newTestHandler(&fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123"},
	}})
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/query?device=ABC123")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	identity := data["identity"].(map[string]interface{})
	assert.Equal(t, "RPI_PICO", identity["machine"])
}

func TestQueryDeviceNotFound(t *testing.T) {
	h := newTestHandler(&fakeInventory{})
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/query?device=ZZZ")

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestQueryDeviceInvalidTimeout(t *testing.T) {
	h := newTestHandler(&fakeInventory{})
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/query?timeout=banana")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryAllDevices(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123"},
		{Path: "/dev/ttyACM1", SerialNumber: "DEF456"},
	}}
	h := newTestHandler(inventory)
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/query")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["devices_found"])
	assert.False(t, inventory.lastIncludeTty)
}

func TestQueryAllHonorsIncludeTty(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyS0"},
	}}
	h := newTestHandler(inventory)
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/query?include_tty=true")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, inventory.lastIncludeTty)
}

func TestHistoryDisabled(t *testing.T) {
	h := newTestHandler(&fakeInventory{})
	router := newTestRouter(h)

	w := doRequest(router, "/api/v1/history")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}
