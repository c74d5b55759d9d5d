// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a device failure. The set is closed so callers
// can handle every kind exhaustively.
type ErrorKind string

const (
	// ErrorKindTransport covers failures opening or using the serial
	// port before any protocol exchange (no device, permission denied).
	ErrorKindTransport ErrorKind = "TRANSPORT"
	// ErrorKindHandshakeTimeout means the device never acknowledged
	// raw-REPL entry; the session never became active.
	ErrorKindHandshakeTimeout ErrorKind = "HANDSHAKE_TIMEOUT"
	// ErrorKindQueryTimeout means an exchange inside an active session
	// did not complete in time; the session was force-closed.
	ErrorKindQueryTimeout ErrorKind = "QUERY_TIMEOUT"
	// ErrorKindDeviceError means the device ran the command but wrote
	// to its error channel.
	ErrorKindDeviceError ErrorKind = "DEVICE_ERROR"
	// ErrorKindParse means the response text was not parseable as the
	// expected structure at all.
	ErrorKindParse ErrorKind = "PARSE_ERROR"
	// ErrorKindNotFound means no enumerated endpoint matched a lookup.
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
)

// Sentinel errors for errors.Is matching across package boundaries.
var (
	ErrTransport        = errors.New("transport error")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrQueryTimeout     = errors.New("query timeout")
	ErrDeviceError      = errors.New("device reported error")
	ErrParse            = errors.New("unparseable response")
	ErrNotFound         = errors.New("device not found")
)

var kindSentinels = map[ErrorKind]error{
	ErrorKindTransport:        ErrTransport,
	ErrorKindHandshakeTimeout: ErrHandshakeTimeout,
	ErrorKindQueryTimeout:     ErrQueryTimeout,
	ErrorKindDeviceError:      ErrDeviceError,
	ErrorKindParse:            ErrParse,
	ErrorKindNotFound:         ErrNotFound,
}

// DeviceError is the single error type crossing the engine boundary.
// Kind selects the failure class, Path names the device, Detail holds
// device-reported text (for DEVICE_ERROR, the traceback), and Cause
// the underlying transport error if any.
type DeviceError struct {
	Kind   ErrorKind `json:"kind"`
	Path   string    `json:"path,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Cause  error     `json:"-"`
}

func (e *DeviceError) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause so
// errors.Is(err, model.ErrQueryTimeout) works from any layer.
func (e *DeviceError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewDeviceError builds a classified device error.
func NewDeviceError(kind ErrorKind, path, detail string, cause error) *DeviceError {
	return &DeviceError{Kind: kind, Path: path, Detail: detail, Cause: cause}
}

// AsDeviceError extracts a *DeviceError from an error chain, wrapping
// unclassified errors as transport failures so the closed taxonomy
// holds at the facade boundary. Errors raised below the session layer
// (the parser has no device in scope) get the path filled in here so
// every failure names the failing device.
func AsDeviceError(err error, path string) *DeviceError {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		if de.Path == "" {
			de.Path = path
		}
		return de
	}
	return NewDeviceError(ErrorKindTransport, path, "", err)
}
