// internal/query/service_test.go
package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// fakeSession is a scripted ReplSession.
type fakeSession struct {
	path    string
	openErr error
	stdout  []byte
	stderr  []byte
	execErr error

	mu     sync.Mutex
	opens  int
	closes int
}

func (f *fakeSession) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeSession) Execute(context.Context, string, time.Duration) ([]byte, []byte, error) {
	return f.stdout, f.stderr, f.execErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) Path() string { return f.path }

// fakeInventory returns a fixed endpoint list.
type fakeInventory struct {
	endpoints []model.DeviceEndpoint
	err       error
}

func (f *fakeInventory) ListEndpoints(bool) ([]model.DeviceEndpoint, error) {
	return f.endpoints, f.err
}

func newTestService(inventory Inventory, sessions map[string]*fakeSession) *Service {
	factory := func(path string) ReplSession {
		if s, ok := sessions[path]; ok {
			return s
		}
		return &fakeSession{path: path, openErr: errors.New("no script for " + path)}
	}
	return NewService(inventory, factory, nil, zap.NewNop())
}

func TestQueryDeviceSuccess(t *testing.T) {
	session := &fakeSession{
		path:   "/dev/ttyACM0",
		stdout: []byte("(sysname='rp2', nodename='rp2', release='1.22.0', version='v1.22.0 on 2024-01-01', machine='RPI_PICO with RP2040')\r\n"),
	}
	svc := newTestService(&fakeInventory{}, map[string]*fakeSession{"/dev/ttyACM0": session})

	result := svc.QueryDevice(context.Background(), model.DeviceEndpoint{Path: "/dev/ttyACM0"}, time.Second)

	require.True(t, result.OK())
	assert.Nil(t, result.Failure)
	assert.Equal(t, "RPI_PICO with RP2040", *result.Identity.Machine)
	assert.Equal(t, "rp2", *result.Identity.System)
	assert.Equal(t, 1, session.closes, "session must be released")
	assert.NotEqual(t, result.QueryID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestQueryDeviceStderrBecomesDeviceError(t *testing.T) {
	session := &fakeSession{
		path:   "/dev/ttyACM0",
		stderr: []byte("NameError: name 'os' is not defined\r\n"),
	}
	svc := newTestService(&fakeInventory{}, map[string]*fakeSession{"/dev/ttyACM0": session})

	result := svc.QueryDevice(context.Background(), model.DeviceEndpoint{Path: "/dev/ttyACM0"}, time.Second)

	require.False(t, result.OK())
	assert.Nil(t, result.Identity)
	require.NotNil(t, result.Failure)
	assert.Equal(t, model.ErrorKindDeviceError, result.Failure.Kind)
	assert.Equal(t, "NameError: name 'os' is not defined", result.Failure.Detail)
	assert.Equal(t, 1, session.closes, "session must be released on failure too")
}

func TestQueryDeviceOpenFailure(t *testing.T) {
	session := &fakeSession{
		path: "/dev/ttyACM0",
		openErr: model.NewDeviceError(model.ErrorKindTransport, "/dev/ttyACM0",
			"failed to open serial port", errors.New("permission denied")),
	}
	svc := newTestService(&fakeInventory{}, map[string]*fakeSession{"/dev/ttyACM0": session})

	result := svc.QueryDevice(context.Background(), model.DeviceEndpoint{Path: "/dev/ttyACM0"}, time.Second)

	require.False(t, result.OK())
	assert.Equal(t, model.ErrorKindTransport, result.Failure.Kind)
	// Exactly one of identity/failure is populated.
	assert.Nil(t, result.Identity)
}

func TestQueryDeviceUnparseableOutput(t *testing.T) {
	session := &fakeSession{path: "/dev/ttyACM0", stdout: []byte("something unexpected")}
	svc := newTestService(&fakeInventory{}, map[string]*fakeSession{"/dev/ttyACM0": session})

	result := svc.QueryDevice(context.Background(), model.DeviceEndpoint{Path: "/dev/ttyACM0"}, time.Second)

	require.False(t, result.OK())
	assert.Equal(t, model.ErrorKindParse, result.Failure.Kind)
	assert.Equal(t, "/dev/ttyACM0", result.Failure.Path)
}

func TestQueryAllIsolatesFailures(t *testing.T) {
	good := &fakeSession{
		path:   "/dev/ttyACM0",
		stdout: []byte("(sysname='rp2', release='1.22.0', version='v1.22.0', machine='RPI_PICO')\r\n"),
	}
	bad := &fakeSession{
		path: "/dev/ttyACM1",
		execErr: model.NewDeviceError(model.ErrorKindQueryTimeout, "/dev/ttyACM1",
			"no execution confirmation", nil),
	}
	svc := newTestService(&fakeInventory{}, map[string]*fakeSession{
		"/dev/ttyACM0": good,
		"/dev/ttyACM1": bad,
	})

	endpoints := []model.DeviceEndpoint{{Path: "/dev/ttyACM0"}, {Path: "/dev/ttyACM1"}}
	results := svc.QueryAll(context.Background(), endpoints, time.Second)

	require.Len(t, results, 2)
	assert.Equal(t, "/dev/ttyACM0", results[0].Endpoint.Path, "results keep input order")
	assert.True(t, results[0].OK())
	require.False(t, results[1].OK())
	assert.Equal(t, model.ErrorKindQueryTimeout, results[1].Failure.Kind)
}

func TestFindDeviceBySerialNumber(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123"},
		{Path: "/dev/ttyACM1", SerialNumber: "DEF456"},
	}}
	svc := newTestService(inventory, nil)

	endpoint, err := svc.FindDevice("ABC123")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", endpoint.Path)
}

func TestFindDeviceByShortcut(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123"},
	}}
	svc := newTestService(inventory, nil)

	endpoint, err := svc.FindDevice("a0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", endpoint.Path)
}

func TestFindDeviceByPathSubstring(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyUSB0", SerialNumber: "ABC123"},
	}}
	svc := newTestService(inventory, nil)

	endpoint, err := svc.FindDevice("USB0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", endpoint.Path)
}

func TestFindDeviceByByIDPath(t *testing.T) {
	byID := "/dev/serial/by-id/usb-MicroPython_Board_ABC123-if00"
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", ByIDPath: byID},
	}}
	svc := newTestService(inventory, nil)

	endpoint, err := svc.FindDevice(byID)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", endpoint.Path)
}

func TestFindDeviceNotFound(t *testing.T) {
	inventory := &fakeInventory{endpoints: []model.DeviceEndpoint{
		{Path: "/dev/ttyACM0", SerialNumber: "ABC123"},
	}}
	svc := newTestService(inventory, nil)

	_, err := svc.FindDevice("ZZZ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRunDiagnosticReturnsStdoutVerbatim(t *testing.T) {
	session := &fakeSession{path: "/dev/ttyACM0", stdout: []byte("raw output\r\nsecond line")}

	output, err := RunDiagnostic(context.Background(), session, DiagnosticExpression, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "raw output\r\nsecond line", output)
}

func TestRunDiagnosticDeviceError(t *testing.T) {
	session := &fakeSession{path: "/dev/ttyACM0", stderr: []byte("OSError: 5\r\n")}

	_, err := RunDiagnostic(context.Background(), session, DiagnosticExpression, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDeviceError))

	var de *model.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "OSError: 5", de.Detail)
}
