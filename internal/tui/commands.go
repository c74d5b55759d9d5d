// internal/tui/commands.go
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/query"
)

// loadDevicesCmd enumerates serial endpoints off the UI loop.
func loadDevicesCmd(service *query.Service) tea.Cmd {
	return func() tea.Msg {
		endpoints, err := service.DiscoverDevices(false)
		return devicesLoadedMsg{endpoints: endpoints, err: err}
	}
}

// queryDeviceCmd queries a single device. One command runs per device
// so results land as each board answers, and a slow board never blocks
// the others.
func queryDeviceCmd(service *query.Service, endpoint model.DeviceEndpoint, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		result := service.QueryDevice(context.Background(), endpoint, timeout)
		return queryResultMsg{result: result}
	}
}
