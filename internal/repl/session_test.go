// internal/repl/session_test.go
package repl

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// fakePort is an in-memory scripted device. The script callback runs
// after every write and may queue response bytes for reading.
type fakePort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	written bytes.Buffer
	closes  int
	script  func(fp *fakePort, written []byte)

	writeErr error
}

func (fp *fakePort) Read(p []byte) (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.closes > 0 {
		return 0, errors.New("port closed")
	}
	if fp.pending.Len() == 0 {
		// Simulate a read timeout with no data, as serial ports do.
		return 0, nil
	}
	return fp.pending.Read(p)
}

func (fp *fakePort) Write(p []byte) (int, error) {
	fp.mu.Lock()
	if fp.writeErr != nil {
		err := fp.writeErr
		fp.mu.Unlock()
		return 0, err
	}
	fp.written.Write(p)
	written := append([]byte(nil), fp.written.Bytes()...)
	fp.mu.Unlock()

	if fp.script != nil {
		fp.script(fp, written)
	}
	return len(p), nil
}

func (fp *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (fp *fakePort) Close() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.closes++
	return nil
}

func (fp *fakePort) respond(data []byte) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.pending.Write(data)
}

func (fp *fakePort) closeCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.closes
}

// bannerScript acknowledges raw-mode entry once requested.
func bannerScript(fp *fakePort, written []byte) {
	if bytes.HasSuffix(written, ctrlEnterRaw) {
		fp.respond(rawReplBanner)
	}
}

// deviceScript acknowledges the handshake and answers one submitted
// command with the given stdout and stderr blocks.
func deviceScript(stdout, stderr string) func(*fakePort, []byte) {
	return func(fp *fakePort, written []byte) {
		if bytes.HasSuffix(written, ctrlEnterRaw) {
			fp.respond(rawReplBanner)
			return
		}
		if bytes.HasSuffix(written, ctrlSubmit) && !bytes.HasSuffix(written, ctrlEnterRaw) {
			fp.respond([]byte("OK"))
			fp.respond([]byte(stdout))
			fp.respond([]byte{outputEnd})
			fp.respond([]byte(stderr))
			fp.respond([]byte{outputEnd})
			fp.respond([]byte(">"))
		}
	}
}

func testOpts() *Options {
	return &Options{
		HandshakeTimeout: 200 * time.Millisecond,
		ReadPollInterval: time.Millisecond,
	}
}

func newTestSession(fp *fakePort) *Session {
	opener := func(path string, baudRate int) (Port, error) { return fp, nil }
	return NewSession("/dev/ttyACM0", testOpts(), opener, zap.NewNop())
}

func TestOpenHandshake(t *testing.T) {
	fp := &fakePort{script: bannerScript}
	s := newTestSession(fp)

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateRawReplActive, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, fp.closeCount())

	// The exit sequence is sent while still active.
	assert.True(t, bytes.HasSuffix(fp.written.Bytes(), ctrlExitRaw))
}

func TestOpenHandshakeTimeout(t *testing.T) {
	fp := &fakePort{} // never acknowledges
	s := newTestSession(fp)

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrHandshakeTimeout))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, fp.closeCount(), "connection must be released on handshake failure")
}

func TestOpenTransportFailure(t *testing.T) {
	opener := func(path string, baudRate int) (Port, error) {
		return nil, errors.New("no such device")
	}
	s := NewSession("/dev/ttyACM9", testOpts(), opener, zap.NewNop())

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTransport))
	assert.False(t, errors.Is(err, model.ErrHandshakeTimeout),
		"open failure must be distinct from handshake timeout")
	assert.Equal(t, StateClosed, s.State())
}

func TestExecuteCapturesMarkerDelimitedOutput(t *testing.T) {
	fp := &fakePort{script: deviceScript("(sysname='rp2')\r\nline two\r\n", "")}
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	stdout, stderr, err := s.Execute(context.Background(), "import os; print(os.uname())", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("(sysname='rp2')\r\nline two\r\n"), stdout,
		"stdout must be exactly the bytes between the markers")
	assert.Empty(t, stderr)
}

func TestExecuteCapturesErrorBlock(t *testing.T) {
	fp := &fakePort{script: deviceScript("", "NameError: name 'os' is not defined\r\n")}
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	stdout, stderr, err := s.Execute(context.Background(), "import os; print(os.uname())", time.Second)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Equal(t, []byte("NameError: name 'os' is not defined\r\n"), stderr)
}

func TestExecuteTimeoutForcesClose(t *testing.T) {
	// Handshake succeeds but the command is never confirmed.
	fp := &fakePort{script: bannerScript}
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))

	_, _, err := s.Execute(context.Background(), "import os; print(os.uname())", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrQueryTimeout))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, fp.closeCount())
}

func TestExecuteUnexpectedConfirmation(t *testing.T) {
	fp := &fakePort{}
	fp.script = func(fp *fakePort, written []byte) {
		if bytes.HasSuffix(written, ctrlEnterRaw) {
			fp.respond(rawReplBanner)
			return
		}
		if bytes.HasSuffix(written, ctrlSubmit) {
			fp.respond([]byte("??"))
		}
	}
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))

	_, _, err := s.Execute(context.Background(), "1+1", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrQueryTimeout))
	assert.Equal(t, StateClosed, s.State())
}

func TestExecuteOnClosedSession(t *testing.T) {
	fp := &fakePort{script: bannerScript}
	s := newTestSession(fp)

	_, _, err := s.Execute(context.Background(), "1+1", time.Second)
	require.Error(t, err)
}

func TestCloseDuringExecuteFailsExchange(t *testing.T) {
	// Cancellation is modeled as closing the resource; an in-flight
	// exchange must fail with a typed error, never crash.
	fp := &fakePort{script: bannerScript} // command is never confirmed
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, _, err := s.Execute(context.Background(), "import os; print(os.uname())", time.Second)
		errCh <- err
	}()

	// Wait until the command has been submitted and Execute is polling.
	require.Eventually(t, func() bool {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		return bytes.Contains(fp.written.Bytes(), []byte("os.uname"))
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close())

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrQueryTimeout))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, fp.closeCount(), "connection must be released exactly once")
}

func TestCloseTwiceIsNoop(t *testing.T) {
	fp := &fakePort{script: bannerScript}
	s := newTestSession(fp)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, fp.closeCount(), "connection must be released exactly once")
}

func TestCloseOnNeverOpenedSession(t *testing.T) {
	fp := &fakePort{}
	s := newTestSession(fp)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, fp.closeCount())
}

func TestSoftResetHandshake(t *testing.T) {
	fp := &fakePort{}
	fp.script = func(fp *fakePort, written []byte) {
		switch {
		case bytes.HasSuffix(written, ctrlEnterRaw):
			fp.respond(rawReplBanner)
		case bytes.HasSuffix(written, ctrlSubmit):
			fp.respond([]byte("MPY: soft reboot\r\n"))
		}
	}

	opts := testOpts()
	opts.SoftReset = true
	opener := func(path string, baudRate int) (Port, error) { return fp, nil }
	s := NewSession("/dev/ttyACM0", opts, opener, zap.NewNop())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateRawReplActive, s.State())
	s.Close()
}
