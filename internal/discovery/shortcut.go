// internal/discovery/shortcut.go
package discovery

import (
	"fmt"
	"regexp"
)

// mpremote-style device shortcuts.
var (
	acmShortcut = regexp.MustCompile(`^a(\d+)$`)
	usbShortcut = regexp.MustCompile(`^u(\d+)$`)
	comShortcut = regexp.MustCompile(`^c(\d+)$`)
)

// ResolveShortcut expands mpremote shortcuts (a0, u0, c3) to full
// device paths. Anything else passes through unchanged.
func ResolveShortcut(device string) string {
	if m := acmShortcut.FindStringSubmatch(device); m != nil {
		return fmt.Sprintf("/dev/ttyACM%s", m[1])
	}
	if m := usbShortcut.FindStringSubmatch(device); m != nil {
		return fmt.Sprintf("/dev/ttyUSB%s", m[1])
	}
	if m := comShortcut.FindStringSubmatch(device); m != nil {
		return fmt.Sprintf("COM%s", m[1])
	}
	return device
}
