// internal/discovery/usb.go
package discovery

import (
	"fmt"
	"strconv"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

type usbMeta struct {
	manufacturer string
	product      string
}

// usbIndex maps vid:pid pairs to USB string descriptors gathered in a
// single pass over the bus.
type usbIndex struct {
	meta map[string]usbMeta
}

// loadUSBIndex walks the USB bus once and collects manufacturer and
// product strings. Best effort: missing permissions or descriptors
// just leave entries out.
func loadUSBIndex(logger *zap.Logger) *usbIndex {
	ctx := gousb.NewContext()
	defer func() {
		if err := ctx.Close(); err != nil {
			logger.Debug("Failed to close USB context", zap.Error(err))
		}
	}()

	index := &usbIndex{meta: make(map[string]usbMeta)}

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		// OpenDevices can return devices it did manage to open
		// alongside an error for the rest.
		logger.Debug("USB enumeration incomplete", zap.Error(err))
	}

	for _, dev := range devices {
		key := usbKey(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))
		if _, seen := index.meta[key]; !seen {
			var meta usbMeta
			if s, err := dev.Manufacturer(); err == nil {
				meta.manufacturer = s
			}
			if s, err := dev.Product(); err == nil {
				meta.product = s
			}
			if meta.manufacturer != "" || meta.product != "" {
				index.meta[key] = meta
			}
		}
		if err := dev.Close(); err != nil {
			logger.Debug("Failed to close USB device", zap.Error(err))
		}
	}

	return index
}

func (ix *usbIndex) lookup(vid, pid string) (usbMeta, bool) {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return usbMeta{}, false
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return usbMeta{}, false
	}
	meta, ok := ix.meta[usbKey(uint16(v), uint16(p))]
	return meta, ok
}

func usbKey(vid, pid uint16) string {
	return fmt.Sprintf("%04x:%04x", vid, pid)
}
