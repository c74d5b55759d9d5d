// internal/store/history.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// HistoryStore records query results in a local SQLite database so the
// history command and the /api/v1/history endpoint can show what was
// attached and when, without re-querying hardware.
type HistoryStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Entry is one recorded query.
type Entry struct {
	QueryID      string                `json:"query_id"`
	Path         string                `json:"path"`
	SerialNumber string                `json:"serial_number,omitempty"`
	Identity     *model.DeviceIdentity `json:"identity,omitempty"`
	ErrorKind    string                `json:"error_kind,omitempty"`
	ErrorDetail  string                `json:"error_detail,omitempty"`
	Duration     time.Duration         `json:"duration"`
	QueriedAt    time.Time             `json:"queried_at"`
}

// NewHistoryStore opens (or creates) the database at dbPath and runs
// the schema migration.
func NewHistoryStore(dbPath string, logger *zap.Logger) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &HistoryStore{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queries (
			id            TEXT PRIMARY KEY,
			path          TEXT NOT NULL,
			serial_number TEXT,
			machine       TEXT,
			system        TEXT,
			release       TEXT,
			version       TEXT,
			node_name     TEXT,
			error_kind    TEXT,
			error_detail  TEXT,
			duration_ms   INTEGER NOT NULL,
			queried_at    TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Record persists one query result.
func (s *HistoryStore) Record(ctx context.Context, result model.QueryResult) error {
	var machine, system, release, version, nodeName sql.NullString
	if result.Identity != nil {
		machine = toNull(result.Identity.Machine)
		system = toNull(result.Identity.System)
		release = toNull(result.Identity.Release)
		version = toNull(result.Identity.Version)
		nodeName = toNull(result.Identity.NodeName)
	}

	var errKind, errDetail sql.NullString
	if result.Failure != nil {
		errKind = sql.NullString{String: string(result.Failure.Kind), Valid: true}
		errDetail = sql.NullString{String: result.Failure.Detail, Valid: result.Failure.Detail != ""}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (id, path, serial_number, machine, system, release, version,
			node_name, error_kind, error_detail, duration_ms, queried_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.QueryID.String(),
		result.Endpoint.Path,
		nullIfEmpty(result.Endpoint.SerialNumber),
		machine, system, release, version, nodeName,
		errKind, errDetail,
		result.Duration.Milliseconds(),
		result.QueriedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Recent returns the most recent entries, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, serial_number, machine, system, release, version,
			node_name, error_kind, error_detail, duration_ms, queried_at
		FROM queries ORDER BY queried_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LastSeen returns the most recent successful entry for a device,
// matched by serial number when available and by path otherwise.
func (s *HistoryStore) LastSeen(ctx context.Context, endpoint model.DeviceEndpoint) (*Entry, error) {
	var row *sql.Rows
	var err error
	if endpoint.SerialNumber != "" {
		row, err = s.db.QueryContext(ctx, `
			SELECT id, path, serial_number, machine, system, release, version,
				node_name, error_kind, error_detail, duration_ms, queried_at
			FROM queries WHERE serial_number = ? AND error_kind IS NULL
			ORDER BY queried_at DESC LIMIT 1`, endpoint.SerialNumber)
	} else {
		row, err = s.db.QueryContext(ctx, `
			SELECT id, path, serial_number, machine, system, release, version,
				node_name, error_kind, error_detail, duration_ms, queried_at
			FROM queries WHERE path = ? AND error_kind IS NULL
			ORDER BY queried_at DESC LIMIT 1`, endpoint.Path)
	}
	if err != nil {
		return nil, err
	}
	defer row.Close()

	if !row.Next() {
		return nil, row.Err()
	}
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var serial, machine, system, release, version, nodeName, errKind, errDetail sql.NullString
	var durationMs int64
	var queriedAt string

	if err := rows.Scan(&entry.QueryID, &entry.Path, &serial, &machine, &system,
		&release, &version, &nodeName, &errKind, &errDetail, &durationMs, &queriedAt); err != nil {
		return Entry{}, err
	}

	entry.SerialNumber = serial.String
	entry.ErrorKind = errKind.String
	entry.ErrorDetail = errDetail.String
	entry.Duration = time.Duration(durationMs) * time.Millisecond
	if ts, err := time.Parse(time.RFC3339Nano, queriedAt); err == nil {
		entry.QueriedAt = ts
	}

	if machine.Valid || system.Valid || release.Valid || version.Valid || nodeName.Valid {
		entry.Identity = &model.DeviceIdentity{
			Machine:  fromNull(machine),
			System:   fromNull(system),
			Release:  fromNull(release),
			Version:  fromNull(version),
			NodeName: fromNull(nodeName),
		}
	}

	return entry, nil
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	value := s.String
	return &value
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
