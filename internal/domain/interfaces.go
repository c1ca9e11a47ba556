package domain

import (
	"context"
)

// TextGenerator is the external text-generation collaborator. It is treated
// as an untrusted, fallible black box: every call site must carry a
// deterministic fallback so a generator outage degrades to fixed-question
// text rather than blocking a turn.
type TextGenerator interface {
	// Generate produces free text from a system prompt and conversation.
	Generate(ctx context.Context, systemPrompt string, messages []Message, maxTokens int, temperature float32) (string, error)
	// GenerateJSON produces a single JSON object constrained by the prompt's
	// output schema.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) ([]byte, error)
}

// GuidanceChunk is one retrieved guidance-corpus excerpt.
type GuidanceChunk struct {
	ChunkID     string `json:"chunk_id"`
	SourceTitle string `json:"source_title"`
	Content     string `json:"content"`
}

// Retriever looks up clinically relevant guidance chunks by keyword-overlap
// scoring. It is pure and read-only during dialogue processing.
type Retriever interface {
	RetrieveRelevantChunks(complaint string, symptomFlags []string, redFlagLabels []string) []GuidanceChunk
}

// SessionRepository persists conversation sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, session *Session) error
}

// SubmissionRepository persists completed triage submissions and their
// handoff documents.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	SaveHandoff(ctx context.Context, submissionID string, handoff *HandoffDocument) error
	GetHandoff(ctx context.Context, submissionID string) (*HandoffDocument, error)
}

// SessionCache is a read-through cache in front of the session store. A cache
// miss or failure is never an error path for callers; they fall back to the
// repository.
type SessionCache interface {
	Get(ctx context.Context, id string) (*Session, error)
	Set(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
}

// DivergenceRecorder is the append-only audit log for fact divergences.
// Recording is fire-and-forget relative to the turn: failures are logged and
// never affect the user-visible outcome.
type DivergenceRecorder interface {
	Record(ctx context.Context, event *DivergenceEvent) error
	ListBySession(ctx context.Context, sessionID string) ([]*DivergenceEvent, error)
}
