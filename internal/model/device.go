// internal/model/device.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceEndpoint identifies a physical serial port and the metadata the
// OS reported for it. The path is the owning identity; everything else
// comes from the port inventory and is never fabricated.
type DeviceEndpoint struct {
	Path         string `json:"path"`
	ByIDPath     string `json:"by_id_path,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
}

// VIDPID returns the vendor:product pair as a display string, or ""
// when either half is unknown.
func (e DeviceEndpoint) VIDPID() string {
	if e.VendorID == "" || e.ProductID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", e.VendorID, e.ProductID)
}

// DeviceIdentity is the parsed output of the diagnostic expression.
// Fields are pointers because absence is distinct from empty string:
// a board that reports no nodename yields a nil NodeName, not "".
type DeviceIdentity struct {
	Machine  *string `json:"machine"`
	System   *string `json:"system"`
	Release  *string `json:"release"`
	Version  *string `json:"version"`
	NodeName *string `json:"node_name"`
}

// Complete reports whether all required identity fields were parsed.
// NodeName is optional on many ports and is not required.
func (d DeviceIdentity) Complete() bool {
	return d.Machine != nil && d.System != nil && d.Release != nil && d.Version != nil
}

// QueryResult is the outcome of one device query. Exactly one of
// Identity and Failure is set.
type QueryResult struct {
	QueryID   uuid.UUID       `json:"query_id"`
	Endpoint  DeviceEndpoint  `json:"endpoint"`
	Identity  *DeviceIdentity `json:"identity,omitempty"`
	Failure   *DeviceError    `json:"failure,omitempty"`
	Duration  time.Duration   `json:"duration"`
	QueriedAt time.Time       `json:"queried_at"`
}

// OK reports whether the query produced an identity.
func (r QueryResult) OK() bool {
	return r.Identity != nil && r.Failure == nil
}
