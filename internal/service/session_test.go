package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-intake-server/internal/domain"
)

var (
	errSubmissionStore = errors.New("submission store unavailable")
	errHandoffStore    = errors.New("handoff store unavailable")
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[string]*domain.Session{}}
}

func (m *memorySessions) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memorySessions) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (m *memorySessions) Update(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

// failingSubmissions rejects writes so finalization cannot complete.
type failingSubmissions struct {
	failCreate bool
}

func (f *failingSubmissions) Create(_ context.Context, _ *domain.Submission) error {
	if f.failCreate {
		return errSubmissionStore
	}
	return nil
}

func (f *failingSubmissions) Get(_ context.Context, _ string) (*domain.Submission, error) {
	return nil, domain.ErrNotFound
}

func (f *failingSubmissions) SaveHandoff(_ context.Context, _ string, _ *domain.HandoffDocument) error {
	return errHandoffStore
}

func (f *failingSubmissions) GetHandoff(_ context.Context, _ string) (*domain.HandoffDocument, error) {
	return nil, domain.ErrNotFound
}

func newTestSessionService(submissions domain.SubmissionRepository) *SessionService {
	logger := testLogger()
	cfg := testGeneratorConfig()
	rules := NewRulesEngine(logger)
	facts := NewFactService(nil, cfg, logger)
	redFlags := NewRedFlagEvaluator(logger)
	dialogue := NewDialogueService(nil, nil, rules, facts, cfg, logger)
	handoff := NewHandoffService(nil, facts, rules, redFlags, nil, cfg, logger)
	return NewSessionService(newMemorySessions(), submissions, nil, dialogue, handoff, facts, rules, logger)
}

func TestProcessMessageSubmissionFailureIsFatal(t *testing.T) {
	svc := newTestSessionService(&failingSubmissions{failCreate: true})

	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	// An emergency phrase drives the session to a terminal stage, which
	// forces finalization. A failed submission write must surface to the
	// caller rather than yielding a closed session with no submission.
	_, err = svc.ProcessMessage(context.Background(), session.ID, "I can't breathe")
	require.Error(t, err)
	assert.ErrorIs(t, err, errSubmissionStore)
	assert.ErrorContains(t, err, "finalizing session")
}

func TestProcessMessageHandoffSaveFailureIsFatal(t *testing.T) {
	svc := newTestSessionService(&failingSubmissions{})

	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = svc.ProcessMessage(context.Background(), session.ID, "I can't breathe")
	require.Error(t, err)
	assert.ErrorIs(t, err, errHandoffStore)
}
