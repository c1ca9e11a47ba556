package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

// SessionService orchestrates a session's lifecycle: creation, turn
// processing through the dialogue state machine, and submission plus handoff
// assembly once a conversation reaches a terminal stage.
type SessionService struct {
	logger      *logrus.Logger
	sessions    domain.SessionRepository
	submissions domain.SubmissionRepository
	cache       domain.SessionCache
	dialogue    *DialogueService
	handoff     *HandoffService
	facts       *FactService
	rules       *RulesEngine
}

// NewSessionService creates the session orchestrator. The cache is optional.
func NewSessionService(
	sessions domain.SessionRepository,
	submissions domain.SubmissionRepository,
	cache domain.SessionCache,
	dialogue *DialogueService,
	handoff *HandoffService,
	facts *FactService,
	rules *RulesEngine,
	logger *logrus.Logger,
) *SessionService {
	return &SessionService{
		logger:      logger,
		sessions:    sessions,
		submissions: submissions,
		cache:       cache,
		dialogue:    dialogue,
		handoff:     handoff,
		facts:       facts,
		rules:       rules,
	}
}

// CreateSession starts a new conversation with the fixed opening question.
func (s *SessionService) CreateSession(ctx context.Context) (*domain.Session, error) {
	now := time.Now().UTC()
	session := &domain.Session{
		ID:     uuid.New().String(),
		Stage:  domain.StageOpening,
		Status: domain.SessionActive,
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: s.dialogue.OpeningMessage(), CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.cacheSet(ctx, session)

	s.logger.WithField("session_id", session.ID).Info("Created intake session")
	return session, nil
}

// GetSession loads a session, preferring the cache.
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, id); err == nil && cached != nil {
			return cached, nil
		}
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, session)
	return session, nil
}

// ProcessMessage runs one patient turn through the state machine and persists
// the outcome. A terminal transition also creates the submission and its
// handoff document before the response is returned.
func (s *SessionService) ProcessMessage(ctx context.Context, sessionID, content string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionActive {
		return nil, domain.ErrSessionClosed
	}

	now := time.Now().UTC()
	session.Messages = append(session.Messages, domain.Message{
		Role: domain.RoleUser, Content: content, CreatedAt: now,
	})

	result := s.dialogue.Advance(ctx, content, session.Messages, session.State, session.Stage, session.RetryCount)

	session.State = result.State
	session.Stage = result.Stage
	session.RetryCount = result.RetryCount
	session.Messages = append(session.Messages, domain.Message{
		Role: domain.RoleAssistant, Content: result.Response, CreatedAt: time.Now().UTC(),
	})
	session.UpdatedAt = time.Now().UTC()

	if result.IsEscalation {
		session.Status = domain.SessionEscalated
	} else if result.IsComplete {
		session.Status = domain.SessionComplete
	}

	if session.Status != domain.SessionActive {
		if err := s.finalize(ctx, session); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to finalize session")
			return nil, fmt.Errorf("finalizing session: %w", err)
		}
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	s.cacheSet(ctx, session)

	return session, nil
}

// GetHandoff returns the stored handoff document for a submission.
func (s *SessionService) GetHandoff(ctx context.Context, submissionID string) (*domain.HandoffDocument, error) {
	return s.submissions.GetHandoff(ctx, submissionID)
}

// GetSubmission returns a stored submission.
func (s *SessionService) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	return s.submissions.Get(ctx, id)
}

// finalize creates the submission record and assembles its handoff document.
func (s *SessionService) finalize(ctx context.Context, session *domain.Session) error {
	facts := s.facts.Project(session.State)
	rules := s.rules.Evaluate(facts)

	band := rules.Band
	if session.Status == domain.SessionEscalated {
		band = domain.BandRed
	}

	submission := &domain.Submission{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		RiskBand:  band,
		RedFlags:  rules.TriggeredFlags,
		Summary:   rules.Summary,
		Answers:   session.State,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.submissions.Create(ctx, submission); err != nil {
		return fmt.Errorf("creating submission: %w", err)
	}
	session.SubmissionID = &submission.ID

	doc := s.handoff.Assemble(ctx, session, submission)
	if err := s.submissions.SaveHandoff(ctx, submission.ID, doc); err != nil {
		return fmt.Errorf("saving handoff: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":    session.ID,
		"submission_id": submission.ID,
		"risk_band":     band,
		"degraded":      doc.Degraded,
	}).Info("Finalized session with handoff document")

	return nil
}

func (s *SessionService) cacheSet(ctx context.Context, session *domain.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, session); err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID).Debug("Session cache write failed")
	}
}
