// internal/repl/port.go
package repl

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerialPort is the production PortOpener backed by go.bug.st/serial.
// 8N1 framing matches the MicroPython USB CDC and UART consoles.
func OpenSerialPort(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	// Discard anything the device printed before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return port, nil
}
