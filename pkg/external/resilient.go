package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/triage-intake-server/internal/domain"
)

// ResilientGenerator wraps a TextGenerator with a circuit breaker. Once the
// upstream starts failing, further calls fail fast instead of burning the
// per-turn timeout; callers already degrade to deterministic text on error.
type ResilientGenerator struct {
	inner   domain.TextGenerator
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientGenerator wraps the given generator with a circuit breaker.
func NewResilientGenerator(inner domain.TextGenerator, logger *logrus.Logger) *ResilientGenerator {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "TextGenerator",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientGenerator{inner: inner, breaker: breaker, logger: logger}
}

// Generate runs the wrapped Generate call through the circuit breaker.
func (r *ResilientGenerator) Generate(ctx context.Context, systemPrompt string, messages []domain.Message, maxTokens int, temperature float32) (string, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Generate(ctx, systemPrompt, messages, maxTokens, temperature)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return "", fmt.Errorf("text generator unavailable (circuit breaker open)")
		}
		return "", err
	}
	return result.(string), nil
}

// GenerateJSON runs the wrapped GenerateJSON call through the circuit breaker.
func (r *ResilientGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) ([]byte, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.GenerateJSON(ctx, systemPrompt, userPrompt, maxTokens, temperature)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("text generator unavailable (circuit breaker open)")
		}
		return nil, err
	}
	return result.([]byte), nil
}

// State returns the current circuit breaker state for health reporting.
func (r *ResilientGenerator) State() gobreaker.State {
	return r.breaker.State()
}
