// internal/discovery/scanner.go
package discovery

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// PortLister enumerates detailed serial ports. Production uses
// go.bug.st/serial/enumerator; tests substitute a fixed list.
type PortLister func() ([]*enumerator.PortDetails, error)

// Scanner is the port inventory: it lists serial endpoints with their
// OS-reported metadata. It holds no state between scans.
type Scanner struct {
	logger    *zap.Logger
	listPorts PortLister
	enrichUSB bool
}

// NewScanner creates a serial port scanner. When enrichUSB is set,
// manufacturer and product strings are filled in from the USB bus for
// ports where the enumerator does not report them.
func NewScanner(logger *zap.Logger, enrichUSB bool) *Scanner {
	return &Scanner{
		logger:    logger.With(zap.String("component", "discovery")),
		listPorts: enumerator.GetDetailedPortsList,
		enrichUSB: enrichUSB,
	}
}

// ListEndpoints lists available serial endpoints sorted by path.
// Generic /dev/ttyS* ports are usually motherboard UARTs with nothing
// attached and are skipped unless includeGenericTty is set.
func (s *Scanner) ListEndpoints(includeGenericTty bool) ([]model.DeviceEndpoint, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var index *usbIndex
	if s.enrichUSB {
		index = loadUSBIndex(s.logger)
	}

	endpoints := make([]model.DeviceEndpoint, 0, len(ports))
	for _, port := range ports {
		if !includeGenericTty && strings.HasPrefix(port.Name, "/dev/ttyS") {
			continue
		}

		endpoint := model.DeviceEndpoint{
			Path:         port.Name,
			SerialNumber: port.SerialNumber,
			ByIDPath:     ResolveByIDPath(port.Name),
		}
		if port.IsUSB {
			endpoint.VendorID = strings.ToLower(port.VID)
			endpoint.ProductID = strings.ToLower(port.PID)
		}
		if index != nil {
			if meta, ok := index.lookup(endpoint.VendorID, endpoint.ProductID); ok {
				endpoint.Manufacturer = meta.manufacturer
				endpoint.Product = meta.product
			}
		}

		endpoints = append(endpoints, endpoint)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Path < endpoints[j].Path
	})

	s.logger.Debug("Serial scan completed", zap.Int("endpoints", len(endpoints)))
	return endpoints, nil
}
