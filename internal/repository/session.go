package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

// SessionRepository handles intake session persistence. Conversation history
// and chat state are stored as JSONB; the hot columns (stage, status) are
// plain so operational queries stay cheap.
type SessionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new session into the database
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	messages, state, err := encodeSessionPayloads(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (
			id, messages, state, stage, status, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err = r.db.Exec(ctx, query,
		session.ID,
		messages,
		state,
		string(session.Stage),
		string(session.Status),
		session.RetryCount,
		session.CreatedAt,
		session.UpdatedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Error("Failed to create session")
		return fmt.Errorf("creating session: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"stage":      session.Stage,
	}).Info("Session created successfully")

	return nil
}

// Get retrieves a session by its ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, messages, state, stage, status, retry_count, submission_id, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	var session domain.Session
	var messages, state []byte
	var stage, status string

	err := r.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&messages,
		&state,
		&stage,
		&status,
		&session.RetryCount,
		&session.SubmissionID,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"session_id": id,
			"error":      err,
		}).Error("Failed to get session")
		return nil, fmt.Errorf("getting session: %w", err)
	}

	session.Stage = domain.Stage(stage)
	session.Status = domain.SessionStatus(status)
	if err := json.Unmarshal(messages, &session.Messages); err != nil {
		return nil, fmt.Errorf("decoding session messages: %w", err)
	}
	if err := json.Unmarshal(state, &session.State); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}

	return &session, nil
}

// Update persists the session's conversation, state and lifecycle columns
func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	messages, state, err := encodeSessionPayloads(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET messages = $2, state = $3, stage = $4, status = $5,
			retry_count = $6, submission_id = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		session.ID,
		messages,
		state,
		string(session.Stage),
		string(session.Status),
		session.RetryCount,
		session.SubmissionID,
		session.UpdatedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Error("Failed to update session")
		return fmt.Errorf("updating session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}

	return nil
}

func encodeSessionPayloads(session *domain.Session) (messages, state []byte, err error) {
	messages, err = json.Marshal(session.Messages)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding session messages: %w", err)
	}
	state, err = json.Marshal(session.State)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding session state: %w", err)
	}
	return messages, state, nil
}
