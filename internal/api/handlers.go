package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/triage-intake-server/internal/domain"
)

// maxMessageLength bounds a single patient message. Longer input is almost
// certainly pasted content, not an answer.
const maxMessageLength = 2000

// postMessageRequest is the body for a patient turn.
type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// sessionResponse is the wire shape for session state returned to the client.
type sessionResponse struct {
	SessionID    string           `json:"session_id"`
	Stage        domain.Stage     `json:"stage"`
	Status       string           `json:"status"`
	Response     string           `json:"response,omitempty"`
	SubmissionID *string          `json:"submission_id,omitempty"`
	Messages     []domain.Message `json:"messages,omitempty"`
}

// handleCreateSession starts a new intake conversation.
func (s *Server) handleCreateSession(c *gin.Context) {
	session, err := s.sessions.CreateSession(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to create session", err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		Stage:     session.Stage,
		Status:    string(session.Status),
		Response:  session.Messages[len(session.Messages)-1].Content,
	})
}

// handlePostMessage processes one patient message.
func (s *Server) handlePostMessage(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid session id", err)
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrInvalidInput, "content is required", err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrValidation, "content must not be empty", nil)
		return
	}
	if len(content) > maxMessageLength {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrValidation, "content exceeds maximum length", nil)
		return
	}

	session, err := s.sessions.ProcessMessage(c.Request.Context(), sessionID, content)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.abortWithError(c, http.StatusNotFound, domain.ErrInvalidInput, "session not found", err)
		case errors.Is(err, domain.ErrSessionClosed):
			s.abortWithError(c, http.StatusConflict, domain.ErrSessionState, "session is closed", err)
		default:
			s.abortWithError(c, http.StatusInternalServerError, domain.ErrInternalServer, "failed to process message", err)
		}
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		SessionID:    session.ID,
		Stage:        session.Stage,
		Status:       string(session.Status),
		Response:     session.Messages[len(session.Messages)-1].Content,
		SubmissionID: session.SubmissionID,
	})
}

// handleGetSession returns the session transcript and state.
func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid session id", err)
		return
	}

	session, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.abortWithError(c, http.StatusNotFound, domain.ErrInvalidInput, "session not found", err)
			return
		}
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load session", err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		SessionID:    session.ID,
		Stage:        session.Stage,
		Status:       string(session.Status),
		SubmissionID: session.SubmissionID,
		Messages:     session.Messages,
	})
}

// handleGetSubmission returns a completed triage submission.
func (s *Server) handleGetSubmission(c *gin.Context) {
	submission, err := s.sessions.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.abortWithError(c, http.StatusNotFound, domain.ErrInvalidInput, "submission not found", err)
			return
		}
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load submission", err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// handleGetHandoff returns the clinical handoff document for a submission.
func (s *Server) handleGetHandoff(c *gin.Context) {
	handoff, err := s.sessions.GetHandoff(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.abortWithError(c, http.StatusNotFound, domain.ErrInvalidInput, "handoff not found", err)
			return
		}
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load handoff", err)
		return
	}

	c.JSON(http.StatusOK, handoff)
}

// abortWithError writes the standard error envelope and logs the cause.
func (s *Server) abortWithError(c *gin.Context, status int, code, message string, err error) {
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"correlation_id": c.GetString("correlation_id"),
			"path":           c.FullPath(),
			"error":          err,
		}).Warn(message)
	}
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, "", c.GetString("correlation_id")))
}
