// internal/query/executor.go
package query

import (
	"context"
	"strings"
	"time"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// DiagnosticExpression is the fixed command used to fingerprint a
// board. It has no side effects beyond the query itself.
const DiagnosticExpression = "import os; print(os.uname())"

// ReplSession is the slice of repl.Session the executor needs. Tests
// substitute a scripted fake.
type ReplSession interface {
	Open(ctx context.Context) error
	Execute(ctx context.Context, code string, timeout time.Duration) (stdout, stderr []byte, err error)
	Close() error
	Path() string
}

// RunDiagnostic drives one request/response exchange through an active
// session and returns the captured stdout verbatim. A non-empty stderr
// block means the device actively reported an error and fails the call.
// Never retries: a half-open raw-REPL exchange must be fully closed and
// reopened before another attempt, which is the caller's decision.
func RunDiagnostic(ctx context.Context, session ReplSession, command string, timeout time.Duration) (string, error) {
	stdout, stderr, err := session.Execute(ctx, command, timeout)
	if err != nil {
		return "", err
	}

	if errText := strings.TrimSpace(string(stderr)); errText != "" {
		return "", model.NewDeviceError(model.ErrorKindDeviceError, session.Path(), errText, nil)
	}

	return string(stdout), nil
}
