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

// SubmissionRepository handles completed triage submissions and their handoff
// documents. The handoff is stored as a JSONB column on the submission row;
// it is written once and never updated.
type SubmissionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *pgxpool.Pool, logger *logrus.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new submission into the database
func (r *SubmissionRepository) Create(ctx context.Context, submission *domain.Submission) error {
	redFlags, err := json.Marshal(submission.RedFlags)
	if err != nil {
		return fmt.Errorf("encoding red flags: %w", err)
	}
	answers, err := json.Marshal(submission.Answers)
	if err != nil {
		return fmt.Errorf("encoding answers: %w", err)
	}

	query := `
		INSERT INTO submissions (
			id, session_id, risk_band, red_flags, summary, answers, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err = r.db.Exec(ctx, query,
		submission.ID,
		submission.SessionID,
		string(submission.RiskBand),
		redFlags,
		submission.Summary,
		answers,
		submission.CreatedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"submission_id": submission.ID,
			"session_id":    submission.SessionID,
			"error":         err,
		}).Error("Failed to create submission")
		return fmt.Errorf("creating submission: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"submission_id": submission.ID,
		"session_id":    submission.SessionID,
		"risk_band":     submission.RiskBand,
	}).Info("Submission created successfully")

	return nil
}

// Get retrieves a submission by its ID
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*domain.Submission, error) {
	query := `
		SELECT id, session_id, risk_band, red_flags, summary, answers, created_at
		FROM submissions
		WHERE id = $1`

	var submission domain.Submission
	var riskBand string
	var redFlags, answers []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&submission.ID,
		&submission.SessionID,
		&riskBand,
		&redFlags,
		&submission.Summary,
		&answers,
		&submission.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("submission not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"submission_id": id,
			"error":         err,
		}).Error("Failed to get submission")
		return nil, fmt.Errorf("getting submission: %w", err)
	}

	submission.RiskBand = domain.RiskBand(riskBand)
	if err := json.Unmarshal(redFlags, &submission.RedFlags); err != nil {
		return nil, fmt.Errorf("decoding red flags: %w", err)
	}
	if err := json.Unmarshal(answers, &submission.Answers); err != nil {
		return nil, fmt.Errorf("decoding answers: %w", err)
	}

	return &submission, nil
}

// SaveHandoff stores the handoff document for a submission
func (r *SubmissionRepository) SaveHandoff(ctx context.Context, submissionID string, handoff *domain.HandoffDocument) error {
	payload, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("encoding handoff: %w", err)
	}

	query := `UPDATE submissions SET handoff = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, submissionID, payload)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"submission_id": submissionID,
			"error":         err,
		}).Error("Failed to save handoff")
		return fmt.Errorf("saving handoff: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("submission not found: %w", domain.ErrNotFound)
	}

	return nil
}

// GetHandoff retrieves the stored handoff document for a submission
func (r *SubmissionRepository) GetHandoff(ctx context.Context, submissionID string) (*domain.HandoffDocument, error) {
	query := `SELECT handoff FROM submissions WHERE id = $1`

	var payload []byte
	err := r.db.QueryRow(ctx, query, submissionID).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("submission not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting handoff: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("handoff not generated: %w", domain.ErrNotFound)
	}

	var handoff domain.HandoffDocument
	if err := json.Unmarshal(payload, &handoff); err != nil {
		return nil, fmt.Errorf("decoding handoff: %w", err)
	}

	return &handoff, nil
}
