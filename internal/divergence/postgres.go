package divergence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triage-intake-server/internal/domain"
)

// PostgresStore implements domain.DivergenceRecorder on PostgreSQL for
// deployments that keep the audit log next to the main database. The
// divergence_events table is created by the shared migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a divergence store over an existing connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record appends one divergence event.
func (s *PostgresStore) Record(ctx context.Context, event *domain.DivergenceEvent) error {
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

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO divergence_events (
			session_id, fact_key, model_value, deterministic_value, confidence, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		event.SessionID,
		string(event.Key),
		string(modelValue),
		string(deterministicValue),
		event.Confidence,
		event.RecordedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	return nil
}

// ListBySession returns every event recorded for a session, oldest first.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.DivergenceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, fact_key, model_value, deterministic_value, confidence, recorded_at
		FROM divergence_events
		WHERE session_id = $1
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM divergence_events").Scan(&count)
	return count, err
}
