// internal/repl/session.go
package repl

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// MicroPython raw-REPL wire protocol. These byte sequences are the
// firmware's fixed contract and must not be changed.
var (
	ctrlInterrupt = []byte("\r\x03\x03") // Ctrl-C twice, stop any running program
	ctrlEnterRaw  = []byte("\r\x01")     // Ctrl-A, enter raw REPL
	ctrlExitRaw   = []byte("\r\x02")     // Ctrl-B, back to friendly REPL
	ctrlSubmit    = []byte{0x04}         // Ctrl-D, end of input / run it
	rawReplBanner = []byte("raw REPL; CTRL-B to exit\r\n>")
	softRebootMsg = []byte("soft reboot")
	execConfirm   = []byte("OK")
)

// outputEnd delimits the stdout and stderr blocks of one exchange.
const outputEnd = 0x04

// writeChunkSize bounds single writes so slow UART input buffers on
// the device side are not overrun.
const writeChunkSize = 256

// State is the session lifecycle state.
type State string

const (
	StateClosed        State = "CLOSED"
	StateOpening       State = "OPENING"
	StateRawReplActive State = "RAW_REPL_ACTIVE"
)

// Port is the narrow serial surface the session needs. go.bug.st/serial
// ports satisfy it; tests substitute an in-memory fake.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Options configure a session.
type Options struct {
	BaudRate         int
	HandshakeTimeout time.Duration
	// ReadPollInterval is the per-Read timeout used while polling for
	// protocol markers; the overall deadline bounds the whole exchange.
	ReadPollInterval time.Duration
	// SoftReset requests a soft reboot before entering raw mode.
	SoftReset bool
}

func (o *Options) withDefaults() Options {
	out := Options{BaudRate: 115200, HandshakeTimeout: 5 * time.Second, ReadPollInterval: 10 * time.Millisecond}
	if o == nil {
		return out
	}
	if o.BaudRate > 0 {
		out.BaudRate = o.BaudRate
	}
	if o.HandshakeTimeout > 0 {
		out.HandshakeTimeout = o.HandshakeTimeout
	}
	if o.ReadPollInterval > 0 {
		out.ReadPollInterval = o.ReadPollInterval
	}
	out.SoftReset = o.SoftReset
	return out
}

// Session owns one serial connection and drives the raw-REPL handshake
// on it. At most one Session may be open per device path; the physical
// UART has no multiplexing. Sessions are not safe for concurrent
// Execute calls: the protocol is strictly half-duplex.
type Session struct {
	path   string
	opts   Options
	opener PortOpener
	logger *zap.Logger

	mu    sync.Mutex
	state State
	port  Port
	busy  bool
}

// PortOpener opens the underlying transport for a device path.
type PortOpener func(path string, baudRate int) (Port, error)

// NewSession creates a session bound to a device path. The connection
// is not opened until Open is called.
func NewSession(path string, opts *Options, opener PortOpener, logger *zap.Logger) *Session {
	if opener == nil {
		opener = OpenSerialPort
	}
	return &Session{
		path:   path,
		opts:   opts.withDefaults(),
		opener: opener,
		logger: logger.With(zap.String("component", "repl"), zap.String("port", path)),
		state:  StateClosed,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the device path this session is bound to.
func (s *Session) Path() string {
	return s.path
}

// Open opens the serial connection and negotiates raw-REPL mode. On
// any failure the connection is released and the session stays Closed.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return fmt.Errorf("session already open on %s", s.path)
	}
	s.state = StateOpening

	s.logger.Debug("Opening serial port", zap.Int("baud_rate", s.opts.BaudRate))

	port, err := s.opener(s.path, s.opts.BaudRate)
	if err != nil {
		s.state = StateClosed
		return model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to open serial port", err)
	}
	s.port = port

	if err := s.enterRawRepl(ctx); err != nil {
		s.releaseLocked()
		return err
	}

	s.state = StateRawReplActive
	s.logger.Debug("Raw REPL active")
	return nil
}

// enterRawRepl performs the handshake. Caller holds the lock and has
// already assigned s.port.
func (s *Session) enterRawRepl(ctx context.Context) error {
	port := s.port
	deadline := time.Now().Add(s.opts.HandshakeTimeout)

	// Interrupt any running program, then request raw mode.
	if err := s.writeAll(port, ctrlInterrupt); err != nil {
		return model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to interrupt device", err)
	}
	if err := s.writeAll(port, ctrlEnterRaw); err != nil {
		return model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to request raw mode", err)
	}

	if s.opts.SoftReset {
		if _, err := s.readUntil(ctx, port, rawReplBanner, deadline); err != nil {
			return s.handshakeFailure(err)
		}
		if err := s.writeAll(port, ctrlSubmit); err != nil {
			return model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to request soft reset", err)
		}
		if _, err := s.readUntil(ctx, port, softRebootMsg, deadline); err != nil {
			return s.handshakeFailure(err)
		}
		// The banner is printed again once the runtime is back up.
		if err := s.writeAll(port, ctrlEnterRaw); err != nil {
			return model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to re-enter raw mode", err)
		}
	}

	if _, err := s.readUntil(ctx, port, rawReplBanner, deadline); err != nil {
		return s.handshakeFailure(err)
	}
	return nil
}

func (s *Session) handshakeFailure(err error) error {
	s.logger.Warn("Raw REPL handshake failed", zap.Error(err))
	return model.NewDeviceError(model.ErrorKindHandshakeTimeout, s.path,
		"device did not acknowledge raw mode", err)
}

// Execute runs one expression in the raw REPL and returns the captured
// stdout and stderr blocks. Exactly one Execute may be outstanding at a
// time. A timeout or framing violation force-closes the session: once
// the marker sequence is off, the channel framing is unrecoverable.
func (s *Session) Execute(ctx context.Context, code string, timeout time.Duration) (stdout, stderr []byte, err error) {
	s.mu.Lock()
	if s.state != StateRawReplActive {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("session not active on %s", s.path)
	}
	if s.busy {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("execute already in progress on %s", s.path)
	}
	s.busy = true
	// Snapshot the port while holding the lock: a concurrent Close may
	// nil out s.port, and a closed port fails the exchange with an
	// ordinary read/write error rather than a nil dereference.
	port := s.port
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	stdout, stderr, err = s.exchange(ctx, port, []byte(code), deadline)
	if err != nil {
		// A timed-out exchange is not resumable.
		s.forceClose()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func (s *Session) exchange(ctx context.Context, port Port, code []byte, deadline time.Time) ([]byte, []byte, error) {
	for off := 0; off < len(code); off += writeChunkSize {
		end := off + writeChunkSize
		if end > len(code) {
			end = len(code)
		}
		if err := s.writeAll(port, code[off:end]); err != nil {
			return nil, nil, model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to send command", err)
		}
	}
	if err := s.writeAll(port, ctrlSubmit); err != nil {
		return nil, nil, model.NewDeviceError(model.ErrorKindTransport, s.path, "failed to submit command", err)
	}

	// The device confirms acceptance with "OK" before any output.
	confirm, err := s.readN(ctx, port, len(execConfirm), deadline)
	if err != nil {
		return nil, nil, s.queryTimeout("no execution confirmation", err)
	}
	if !bytes.Equal(confirm, execConfirm) {
		return nil, nil, s.queryTimeout(fmt.Sprintf("unexpected confirmation %q", confirm), nil)
	}

	stdout, err := s.readUntilByte(ctx, port, outputEnd, deadline)
	if err != nil {
		return nil, nil, s.queryTimeout("incomplete output block", err)
	}
	stderr, err := s.readUntilByte(ctx, port, outputEnd, deadline)
	if err != nil {
		return nil, nil, s.queryTimeout("incomplete error block", err)
	}
	return stdout, stderr, nil
}

func (s *Session) queryTimeout(detail string, cause error) error {
	s.logger.Warn("Raw REPL exchange failed", zap.String("detail", detail), zap.Error(cause))
	return model.NewDeviceError(model.ErrorKindQueryTimeout, s.path, detail, cause)
}

// Close exits raw mode best-effort and releases the serial connection.
// Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	if s.state == StateRawReplActive {
		if err := s.writeAll(s.port, ctrlExitRaw); err != nil {
			// Failure to restore the friendly REPL is logged, not raised;
			// the connection is released regardless.
			s.logger.Warn("Failed to send raw mode exit", zap.Error(err))
		}
	}

	s.releaseLocked()
	s.logger.Debug("Session closed")
	return nil
}

// forceClose releases the connection after an unrecoverable protocol
// error without attempting the raw-mode exit sequence.
func (s *Session) forceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.releaseLocked()
	s.logger.Debug("Session force-closed")
}

// releaseLocked releases the port exactly once. Caller holds the lock.
func (s *Session) releaseLocked() {
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.logger.Warn("Failed to close serial port", zap.Error(err))
		}
		s.port = nil
	}
	s.state = StateClosed
}

func (s *Session) writeAll(port Port, data []byte) error {
	n, err := port.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// readUntil accumulates bytes until the buffer ends with the given
// marker, returning everything before it.
func (s *Session) readUntil(ctx context.Context, port Port, marker []byte, deadline time.Time) ([]byte, error) {
	var buf []byte
	err := s.pollRead(ctx, port, deadline, func(b byte) (bool, error) {
		buf = append(buf, b)
		return bytes.HasSuffix(buf, marker), nil
	})
	if err != nil {
		return nil, err
	}
	return buf[:len(buf)-len(marker)], nil
}

// readUntilByte accumulates bytes until the given delimiter byte,
// returning everything before it.
func (s *Session) readUntilByte(ctx context.Context, port Port, delim byte, deadline time.Time) ([]byte, error) {
	var buf []byte
	err := s.pollRead(ctx, port, deadline, func(b byte) (bool, error) {
		if b == delim {
			return true, nil
		}
		buf = append(buf, b)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// readN reads exactly n bytes.
func (s *Session) readN(ctx context.Context, port Port, n int, deadline time.Time) ([]byte, error) {
	var buf []byte
	err := s.pollRead(ctx, port, deadline, func(b byte) (bool, error) {
		buf = append(buf, b)
		return len(buf) == n, nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// pollRead reads one byte at a time with a short per-read timeout,
// feeding each byte to sink until it reports done, the overall deadline
// passes, or the context is cancelled. Cancellation is "close the
// resource" at the caller level; here it only stops the polling loop.
func (s *Session) pollRead(ctx context.Context, port Port, deadline time.Time, sink func(byte) (bool, error)) error {
	if err := port.SetReadTimeout(s.opts.ReadPollInterval); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	one := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("deadline exceeded waiting for device")
		}

		n, err := port.Read(one)
		if err != nil {
			return fmt.Errorf("serial read failed: %w", err)
		}
		if n == 0 {
			// Poll timeout, no data yet.
			continue
		}

		done, err := sink(one[0])
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
