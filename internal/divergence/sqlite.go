// Package divergence provides the append-only audit log of disagreements
// between deterministically-captured facts and model-extracted values. The
// log exists for clinical review; nothing in it ever feeds back into triage.
package divergence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/triage-intake-server/internal/domain"
)

// SQLiteStore implements domain.DivergenceRecorder using SQLite. This is the
// default backend for single-node deployments.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite divergence store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent scans a row into a DivergenceEvent. Values are stored as JSON so
// booleans, numbers and strings round-trip without a type column.
func scanEvent(s scanner) (*domain.DivergenceEvent, error) {
	event := &domain.DivergenceEvent{}
	var key, modelValue, deterministicValue string

	err := s.Scan(&event.ID, &event.SessionID, &key, &modelValue, &deterministicValue, &event.Confidence, &event.RecordedAt)
	if err != nil {
		return nil, err
	}

	event.Key = domain.FactKey(key)
	if err := json.Unmarshal([]byte(modelValue), &event.ModelValue); err != nil {
		return nil, fmt.Errorf("failed to decode model value: %w", err)
	}
	if err := json.Unmarshal([]byte(deterministicValue), &event.DeterministicValue); err != nil {
		return nil, fmt.Errorf("failed to decode deterministic value: %w", err)
	}
	return event, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS divergence_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		fact_key TEXT NOT NULL,
		model_value TEXT NOT NULL,
		deterministic_value TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_divergence_session ON divergence_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_divergence_recorded_at ON divergence_events(recorded_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Record appends one divergence event. Events are immutable; there is no
// update path.
func (s *SQLiteStore) Record(ctx context.Context, event *domain.DivergenceEvent) error {
	modelValue, err := json.Marshal(event.ModelValue)
	if err != nil {
		return fmt.Errorf("failed to encode model value: %w", err)
	}
	deterministicValue, err := json.Marshal(event.DeterministicValue)
	if err != nil {
		return fmt.Errorf("failed to encode deterministic value: %w", err)
	}

	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO divergence_events (
			session_id, fact_key, model_value, deterministic_value, confidence, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.SessionID,
		string(event.Key),
		string(modelValue),
		string(deterministicValue),
		event.Confidence,
		event.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	event.ID = id

	return nil
}

// ListBySession returns every event recorded for a session, oldest first.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.DivergenceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, fact_key, model_value, deterministic_value, confidence, recorded_at
		FROM divergence_events
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*domain.DivergenceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// Count returns the total number of recorded events.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM divergence_events").Scan(&count)
	return count, err
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// Export is the JSON export format for review tooling.
type Export struct {
	Version    string                    `json:"version"`
	ExportedAt time.Time                 `json:"exported_at"`
	Count      int                       `json:"count"`
	Events     []*domain.DivergenceEvent `json:"events"`
}

// ExportJSON exports all recorded events to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, fact_key, model_value, deterministic_value, confidence, recorded_at
		FROM divergence_events
		ORDER BY id ASC
		LIMIT ?
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var events []*domain.DivergenceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(events),
		Events:     events,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
