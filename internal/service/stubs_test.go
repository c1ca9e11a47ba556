package service

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testGeneratorConfig() *domain.GeneratorConfig {
	return &domain.GeneratorConfig{
		ExtractionTemperature: 0.1,
		NarrativeTemperature:  0.4,
		ExtractionMaxTokens:   800,
		NarrativeMaxTokens:    1200,
		DialogueMaxTokens:     200,
	}
}

// stubGenerator scripts the TextGenerator collaborator per test.
type stubGenerator struct {
	generateFn func(systemPrompt string, messages []domain.Message) (string, error)
	jsonFn     func(systemPrompt, userPrompt string) ([]byte, error)
}

func (s *stubGenerator) Generate(_ context.Context, systemPrompt string, messages []domain.Message, _ int, _ float32) (string, error) {
	if s.generateFn == nil {
		return "", context.DeadlineExceeded
	}
	return s.generateFn(systemPrompt, messages)
}

func (s *stubGenerator) GenerateJSON(_ context.Context, systemPrompt, userPrompt string, _ int, _ float32) ([]byte, error) {
	if s.jsonFn == nil {
		return nil, context.DeadlineExceeded
	}
	return s.jsonFn(systemPrompt, userPrompt)
}

// stubRetriever returns a fixed chunk list.
type stubRetriever struct {
	chunks []domain.GuidanceChunk
}

func (s *stubRetriever) RetrieveRelevantChunks(string, []string, []string) []domain.GuidanceChunk {
	return s.chunks
}

// memoryRecorder collects divergence events in memory.
type memoryRecorder struct {
	mu     sync.Mutex
	events []*domain.DivergenceEvent
}

func (m *memoryRecorder) Record(_ context.Context, event *domain.DivergenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryRecorder) ListBySession(_ context.Context, sessionID string) ([]*domain.DivergenceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DivergenceEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}
