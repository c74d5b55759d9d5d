// cmd/mpy-devices/app.go
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/config"
	"github.com/andrewleech/mpy-devices/internal/discovery"
	"github.com/andrewleech/mpy-devices/internal/logging"
	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/query"
	"github.com/andrewleech/mpy-devices/internal/repl"
	"github.com/andrewleech/mpy-devices/internal/store"
)

// app wires configuration, logging, discovery, the query service, and
// the optional history store together for every command.
type app struct {
	config  *config.Config
	logger  *zap.Logger
	service *query.Service
	history *store.HistoryStore
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{config: cfg, logger: logger}

	if cfg.History.Enabled {
		history, err := store.NewHistoryStore(cfg.History.DBPath, logger)
		if err != nil {
			// A broken history DB should not keep devices from being
			// queried; run without it.
			logger.Warn("History store unavailable", zap.Error(err))
		} else {
			a.history = history
		}
	}

	scanner := discovery.NewScanner(logger, true)
	factory := func(path string) query.ReplSession {
		return repl.NewSession(path, &repl.Options{
			BaudRate:         cfg.Serial.BaudRate,
			HandshakeTimeout: cfg.Serial.HandshakeTimeout,
			ReadPollInterval: cfg.Serial.ReadPollInterval,
			SoftReset:        cfg.Serial.SoftResetOnOpen,
		}, nil, logger)
	}

	var recorder query.Recorder
	if a.history != nil {
		recorder = a.history
	}
	a.service = query.NewService(scanner, factory, recorder, logger)

	return a, nil
}

// lastKnownBoard returns the board name from the most recent successful
// query of this device, or "" when the history store has none.
func (a *app) lastKnownBoard(endpoint model.DeviceEndpoint) string {
	if a.history == nil {
		return ""
	}
	entry, err := a.history.LastSeen(context.Background(), endpoint)
	if err != nil || entry == nil || entry.Identity == nil || entry.Identity.Machine == nil {
		return ""
	}
	return *entry.Identity.Machine
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history store", zap.Error(err))
		}
	}
	logging.CloseLogger(a.logger)
}
