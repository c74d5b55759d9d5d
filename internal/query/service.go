// internal/query/service.go
package query

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/discovery"
	"github.com/andrewleech/mpy-devices/internal/model"
)

// Inventory lists available serial endpoints. The production
// implementation is discovery.Scanner.
type Inventory interface {
	ListEndpoints(includeGenericTty bool) ([]model.DeviceEndpoint, error)
}

// SessionFactory builds a fresh session for a device path. One session
// owns one connection; the factory is called once per query.
type SessionFactory func(path string) ReplSession

// Recorder persists query results. Nil disables recording.
type Recorder interface {
	Record(ctx context.Context, result model.QueryResult) error
}

// Service composes the port inventory, the raw-REPL session, and the
// identity parser into the public query operations consumed by the
// CLI, TUI, and HTTP layers.
type Service struct {
	inventory  Inventory
	newSession SessionFactory
	recorder   Recorder
	logger     *zap.Logger
}

// NewService creates a query service. recorder may be nil.
func NewService(inventory Inventory, factory SessionFactory, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{
		inventory:  inventory,
		newSession: factory,
		recorder:   recorder,
		logger:     logger.With(zap.String("component", "query")),
	}
}

// DiscoverDevices lists available serial endpoints.
func (s *Service) DiscoverDevices(includeGenericTty bool) ([]model.DeviceEndpoint, error) {
	return s.inventory.ListEndpoints(includeGenericTty)
}

// QueryDevice opens a session to the endpoint, runs the diagnostic
// expression, parses the identity, and closes the session. Every
// failure is captured in the result rather than returned: failures are
// data, so one device's timeout never aborts a batch.
func (s *Service) QueryDevice(ctx context.Context, endpoint model.DeviceEndpoint, timeout time.Duration) model.QueryResult {
	result := model.QueryResult{
		QueryID:   uuid.New(),
		Endpoint:  endpoint,
		QueriedAt: time.Now(),
	}
	started := time.Now()

	identity, err := s.queryIdentity(ctx, endpoint.Path, timeout)
	result.Duration = time.Since(started)

	if err != nil {
		result.Failure = model.AsDeviceError(err, endpoint.Path)
		s.logger.Warn("Device query failed",
			zap.String("port", endpoint.Path),
			zap.String("kind", string(result.Failure.Kind)),
			zap.Duration("duration", result.Duration),
		)
	} else {
		result.Identity = identity
		s.logger.Debug("Device query succeeded",
			zap.String("port", endpoint.Path),
			zap.Duration("duration", result.Duration),
		)
	}

	s.record(ctx, result)
	return result
}

// queryIdentity holds the scoped session lifecycle: the session is
// released on every exit path, success or failure.
func (s *Service) queryIdentity(ctx context.Context, path string, timeout time.Duration) (*model.DeviceIdentity, error) {
	session := s.newSession(path)
	if err := session.Open(ctx); err != nil {
		return nil, err
	}
	defer session.Close()

	raw, err := RunDiagnostic(ctx, session, DiagnosticExpression, timeout)
	if err != nil {
		return nil, err
	}

	return ParseIdentity(strings.TrimSpace(raw))
}

// QueryAll queries every endpoint concurrently, one session per port,
// and returns results in input order. Per-device failures are isolated
// in each QueryResult.
func (s *Service) QueryAll(ctx context.Context, endpoints []model.DeviceEndpoint, timeout time.Duration) []model.QueryResult {
	results := make([]model.QueryResult, len(endpoints))

	var wg sync.WaitGroup
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint model.DeviceEndpoint) {
			defer wg.Done()
			results[i] = s.QueryDevice(ctx, endpoint, timeout)
		}(i, endpoint)
	}
	wg.Wait()

	return results
}

// FindDevice resolves a matcher (path, mpremote shortcut, by-id path,
// serial number, or path substring) to an enumerated endpoint.
func (s *Service) FindDevice(matcher string) (model.DeviceEndpoint, error) {
	resolved := discovery.ResolveShortcut(matcher)

	endpoints, err := s.inventory.ListEndpoints(true)
	if err != nil {
		return model.DeviceEndpoint{}, model.NewDeviceError(model.ErrorKindTransport, matcher,
			"failed to list endpoints", err)
	}

	for _, e := range endpoints {
		if e.Path == resolved || e.Path == matcher {
			return e, nil
		}
	}
	for _, e := range endpoints {
		if e.ByIDPath != "" && e.ByIDPath == matcher {
			return e, nil
		}
	}
	for _, e := range endpoints {
		if e.SerialNumber != "" && e.SerialNumber == matcher {
			return e, nil
		}
	}
	for _, e := range endpoints {
		if strings.Contains(e.Path, matcher) {
			return e, nil
		}
	}

	return model.DeviceEndpoint{}, model.NewDeviceError(model.ErrorKindNotFound, matcher,
		"no endpoint matched", nil)
}

func (s *Service) record(ctx context.Context, result model.QueryResult) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, result); err != nil {
		s.logger.Warn("Failed to record query result",
			zap.String("port", result.Endpoint.Path),
			zap.Error(err),
		)
	}
}
