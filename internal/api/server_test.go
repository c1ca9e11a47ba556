package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-intake-server/internal/domain"
	"github.com/triage-intake-server/internal/service"
)

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func (m *memorySessionRepo) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memorySessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

func (m *memorySessionRepo) Update(_ context.Context, session *domain.Session) error {
	return m.Create(context.Background(), session)
}

type memorySubmissionRepo struct {
	mu          sync.Mutex
	submissions map[string]*domain.Submission
	handoffs    map[string]*domain.HandoffDocument
}

func (m *memorySubmissionRepo) Create(_ context.Context, submission *domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[submission.ID] = submission
	return nil
}

func (m *memorySubmissionRepo) Get(_ context.Context, id string) (*domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[id]
	if !ok {
		return nil, fmt.Errorf("submission not found: %w", domain.ErrNotFound)
	}
	return submission, nil
}

func (m *memorySubmissionRepo) SaveHandoff(_ context.Context, submissionID string, handoff *domain.HandoffDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handoffs[submissionID] = handoff
	return nil
}

func (m *memorySubmissionRepo) GetHandoff(_ context.Context, submissionID string) (*domain.HandoffDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handoff, ok := m.handoffs[submissionID]
	if !ok {
		return nil, fmt.Errorf("handoff not found: %w", domain.ErrNotFound)
	}
	return handoff, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &domain.Config{
		Logging: domain.LoggingConfig{Level: "info"},
		Admin:   domain.AdminConfig{APIKey: "test-key"},
		Generator: domain.GeneratorConfig{
			ExtractionMaxTokens: 800,
			NarrativeMaxTokens:  1200,
			DialogueMaxTokens:   200,
		},
	}

	rules := service.NewRulesEngine(logger)
	facts := service.NewFactService(nil, &cfg.Generator, logger)
	redFlags := service.NewRedFlagEvaluator(logger)
	dialogue := service.NewDialogueService(nil, nil, rules, facts, &cfg.Generator, logger)
	handoff := service.NewHandoffService(nil, facts, rules, redFlags, nil, &cfg.Generator, logger)

	sessionRepo := &memorySessionRepo{sessions: map[string]*domain.Session{}}
	submissionRepo := &memorySubmissionRepo{
		submissions: map[string]*domain.Submission{},
		handoffs:    map[string]*domain.HandoffDocument{},
	}
	sessions := service.NewSessionService(sessionRepo, submissionRepo, nil, dialogue, handoff, facts, rules, logger)

	return NewServer(cfg, sessions, nil, nil, logger)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestCreateSessionReturnsOpeningQuestion(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, domain.StageOpening, resp.Stage)
	assert.Equal(t, string(domain.SessionActive), resp.Status)
	assert.Contains(t, resp.Response, "main problem")
}

func TestPostMessageAdvancesConversation(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, server, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		postMessageRequest{Content: "I have a headache"}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.StageLocalisation, resp.Stage)
	assert.NotEmpty(t, resp.Response)
}

func TestPostMessageValidation(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
	}{
		{"missing content", "/api/v1/sessions/" + created.SessionID + "/messages", map[string]string{}, http.StatusBadRequest},
		{"blank content", "/api/v1/sessions/" + created.SessionID + "/messages", postMessageRequest{Content: "   "}, http.StatusBadRequest},
		{"malformed session id", "/api/v1/sessions/not-a-uuid/messages", postMessageRequest{Content: "hello"}, http.StatusBadRequest},
		{"unknown session", "/api/v1/sessions/00000000-0000-0000-0000-000000000000/messages", postMessageRequest{Content: "hello"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestEscalatedSessionClosesAndRejectsFurtherInput(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, server, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		postMessageRequest{Content: "I can't breathe"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.StageEscalated, resp.Stage)
	assert.Equal(t, string(domain.SessionEscalated), resp.Status)
	assert.Contains(t, resp.Response, "999")
	require.NotNil(t, resp.SubmissionID)

	// The closed session rejects further messages.
	w = doJSON(t, server, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		postMessageRequest{Content: "hello?"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandoffEndpointRequiresAPIKey(t *testing.T) {
	server := newTestServer(t)

	// Escalate a session so a submission and handoff exist.
	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, server, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		postMessageRequest{Content: "heavy bleeding everywhere"}, nil)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.SubmissionID)

	path := "/api/v1/submissions/" + *resp.SubmissionID + "/handoff"

	// Without the key.
	w = doJSON(t, server, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// With the key.
	w = doJSON(t, server, http.MethodGet, path, nil, map[string]string{"X-API-Key": "test-key"})
	require.Equal(t, http.StatusOK, w.Code)

	var handoff domain.HandoffDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &handoff))
	assert.Equal(t, *resp.SubmissionID, handoff.SubmissionID)
	assert.Equal(t, created.SessionID, handoff.SessionID)
	assert.True(t, handoff.Degraded)
}

func TestGetSessionTranscript(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/sessions", nil, nil)
	var created sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	doJSON(t, server, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		postMessageRequest{Content: "chest pain"}, nil)

	w = doJSON(t, server, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Opening question, patient message, assistant reply.
	assert.Len(t, resp.Messages, 3)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
