// internal/discovery/scanner_test.go
package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

func fixedPorts(ports []*enumerator.PortDetails) PortLister {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func newTestScanner(lister PortLister) *Scanner {
	return &Scanner{
		logger:    zap.NewNop(),
		listPorts: lister,
	}
}

func TestListEndpointsSortsByPath(t *testing.T) {
	scanner := newTestScanner(fixedPorts([]*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", SerialNumber: "DEF456"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2E8A", PID: "0005", SerialNumber: "ABC123"},
	}))

	endpoints, err := scanner.ListEndpoints(false)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "/dev/ttyACM0", endpoints[0].Path)
	assert.Equal(t, "/dev/ttyUSB0", endpoints[1].Path)
}

func TestListEndpointsLowercasesUSBIDs(t *testing.T) {
	scanner := newTestScanner(fixedPorts([]*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2E8A", PID: "0005", SerialNumber: "ABC123"},
	}))

	endpoints, err := scanner.ListEndpoints(false)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "2e8a", endpoints[0].VendorID)
	assert.Equal(t, "0005", endpoints[0].ProductID)
	assert.Equal(t, "2e8a:0005", endpoints[0].VIDPID())
	assert.Equal(t, "ABC123", endpoints[0].SerialNumber)
}

func TestListEndpointsSkipsGenericTty(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyS4"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2E8A", PID: "0005"},
	}

	scanner := newTestScanner(fixedPorts(ports))

	endpoints, err := scanner.ListEndpoints(false)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "/dev/ttyACM0", endpoints[0].Path)

	endpoints, err = scanner.ListEndpoints(true)
	require.NoError(t, err)
	assert.Len(t, endpoints, 3)
}

func TestListEndpointsNonUSBHasNoIDs(t *testing.T) {
	scanner := newTestScanner(fixedPorts([]*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
	}))

	endpoints, err := scanner.ListEndpoints(true)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Empty(t, endpoints[0].VendorID)
	assert.Empty(t, endpoints[0].VIDPID())
}

func TestListEndpointsEnumerationError(t *testing.T) {
	scanner := newTestScanner(func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("udev unavailable")
	})

	_, err := scanner.ListEndpoints(false)
	require.Error(t, err)
}
