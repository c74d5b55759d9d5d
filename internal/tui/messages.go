// internal/tui/messages.go
package tui

import "github.com/andrewleech/mpy-devices/internal/model"

// devicesLoadedMsg carries a fresh enumeration pass.
type devicesLoadedMsg struct {
	endpoints []model.DeviceEndpoint
	err       error
}

// queryResultMsg carries one finished device query.
type queryResultMsg struct {
	result model.QueryResult
}
