package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-intake-server/internal/domain"
)

func extractionResponse(t *testing.T, facts []extractedFact) []byte {
	t.Helper()
	raw, err := json.Marshal(extractionPayload{Facts: facts})
	require.NoError(t, err)
	return raw
}

func patientMessages(contents ...string) []domain.Message {
	var msgs []domain.Message
	for _, c := range contents {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: c, CreatedAt: time.Now()})
	}
	return msgs
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestFactServiceProjection(t *testing.T) {
	svc := NewFactService(nil, testGeneratorConfig(), testLogger())

	state := domain.ChatState{
		Complaint:        "chest pain",
		Location:         "left side",
		Severity:         intPtr(7),
		Age:              intPtr(58),
		TroubleBreathing: boolPtr(false),
		RadiatingPain:    boolPtr(true),
	}

	facts := svc.Project(state)

	complaint, ok := facts.String(domain.FactPresentingComplaint)
	require.True(t, ok)
	assert.Equal(t, "chest pain", complaint)

	sev, ok := facts.Number(domain.FactSeverityScore)
	require.True(t, ok)
	assert.Equal(t, float64(7), sev)

	sob, ok := facts.Bool(domain.FactShortnessOfBreath)
	require.True(t, ok)
	assert.False(t, sob)

	// The complaint itself derives the matching symptom flag.
	chestPain, ok := facts.Bool(domain.FactChestPain)
	require.True(t, ok)
	assert.True(t, chestPain)
	assert.Equal(t, domain.ProvenanceDerived, facts[domain.FactChestPain].Provenance)

	// Unanswered fields must not appear at all.
	_, ok = facts[domain.FactNeckStiffness]
	assert.False(t, ok)
}

func TestFactServiceProjectionDoesNotOverrideExplicitAnswer(t *testing.T) {
	svc := NewFactService(nil, testGeneratorConfig(), testLogger())

	// Complaint "shortness of breath" with an explicit "no" to the danger
	// question keeps the patient's answer.
	state := domain.ChatState{
		Complaint:        "shortness of breath",
		TroubleBreathing: boolPtr(false),
	}

	facts := svc.Project(state)

	sob, ok := facts.Bool(domain.FactShortnessOfBreath)
	require.True(t, ok)
	assert.False(t, sob)
	assert.Equal(t, domain.ProvenancePatient, facts[domain.FactShortnessOfBreath].Provenance)
}

func TestFactServiceExtractionFailureFallsBackToProjection(t *testing.T) {
	svc := NewFactService(&stubGenerator{}, testGeneratorConfig(), testLogger())

	state := domain.ChatState{Complaint: "headache", Severity: intPtr(4)}
	facts, divergences := svc.Extract(context.Background(), "s1", patientMessages("my head hurts"), state)

	assert.Empty(t, divergences)
	_, ok := facts[domain.FactPresentingComplaint]
	assert.True(t, ok)
	assert.Len(t, facts, 2)
}

func TestFactServiceConfidenceGating(t *testing.T) {
	tests := []struct {
		name        string
		fact        extractedFact
		patientText string
		wantAdded   bool
	}{
		{
			name:        "non-critical above default threshold admitted",
			fact:        extractedFact{Key: "sweating", Value: true, Confidence: 60},
			patientText: "I've been sweating a lot",
			wantAdded:   true,
		},
		{
			name:        "non-critical below default threshold rejected",
			fact:        extractedFact{Key: "sweating", Value: true, Confidence: 40},
			patientText: "I've been sweating a lot",
			wantAdded:   false,
		},
		{
			name:        "critical boolean below critical threshold rejected",
			fact:        extractedFact{Key: "thunderclap", Value: true, Confidence: 60},
			patientText: "it came on really suddenly",
			wantAdded:   false,
		},
		{
			name:        "critical boolean above critical threshold admitted",
			fact:        extractedFact{Key: "thunderclap", Value: true, Confidence: 85},
			patientText: "it came on really suddenly",
			wantAdded:   true,
		},
		{
			name:        "negation admitted at default threshold even for critical key",
			fact:        extractedFact{Key: "neck_stiffness", Value: false, Confidence: 55},
			patientText: "my neck feels fine",
			wantAdded:   true,
		},
		{
			name:        "negation below default threshold rejected",
			fact:        extractedFact{Key: "neck_stiffness", Value: false, Confidence: 30},
			patientText: "my neck feels fine",
			wantAdded:   false,
		},
		{
			name:        "unknown key discarded",
			fact:        extractedFact{Key: "blood_pressure", Value: "140/90", Confidence: 99},
			patientText: "my blood pressure was 140/90",
			wantAdded:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{
				jsonFn: func(_, _ string) ([]byte, error) {
					return extractionResponse(t, []extractedFact{tt.fact}), nil
				},
			}
			svc := NewFactService(gen, testGeneratorConfig(), testLogger())

			facts, _ := svc.Extract(context.Background(), "s1", patientMessages(tt.patientText), domain.ChatState{})

			_, ok := facts[domain.FactKey(tt.fact.Key)]
			assert.Equal(t, tt.wantAdded, ok)
		})
	}
}

func TestFactServiceCriticalCorroboration(t *testing.T) {
	tests := []struct {
		name        string
		fact        extractedFact
		patientText string
		wantAdded   bool
	}{
		{
			name:        "critical numeric corroborated by digits in text",
			fact:        extractedFact{Key: "severity_score", Value: float64(8), Confidence: 90},
			patientText: "the pain is about 8 out of ten",
			wantAdded:   true,
		},
		{
			name:        "critical numeric without any digits rejected",
			fact:        extractedFact{Key: "severity_score", Value: float64(8), Confidence: 90},
			patientText: "the pain is really bad",
			wantAdded:   false,
		},
		{
			name:        "critical boolean needs no corroboration",
			fact:        extractedFact{Key: "fever", Value: true, Confidence: 90},
			patientText: "I feel hot and shivery",
			wantAdded:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{
				jsonFn: func(_, _ string) ([]byte, error) {
					return extractionResponse(t, []extractedFact{tt.fact}), nil
				},
			}
			svc := NewFactService(gen, testGeneratorConfig(), testLogger())

			facts, _ := svc.Extract(context.Background(), "s1", patientMessages(tt.patientText), domain.ChatState{})

			_, ok := facts[domain.FactKey(tt.fact.Key)]
			assert.Equal(t, tt.wantAdded, ok)
		})
	}
}

func TestFactServiceDeterministicValueWinsOnDivergence(t *testing.T) {
	gen := &stubGenerator{
		jsonFn: func(_, _ string) ([]byte, error) {
			return extractionResponse(t, []extractedFact{
				{Key: "severity_score", Value: float64(9), Confidence: 95},
			}), nil
		},
	}
	svc := NewFactService(gen, testGeneratorConfig(), testLogger())

	state := domain.ChatState{Severity: intPtr(5)}
	facts, divergences := svc.Extract(context.Background(), "s1", patientMessages("it's a 9, maybe a 5"), state)

	// Deterministic value retained.
	sev, ok := facts.Number(domain.FactSeverityScore)
	require.True(t, ok)
	assert.Equal(t, float64(5), sev)
	assert.Equal(t, domain.ProvenancePatient, facts[domain.FactSeverityScore].Provenance)

	// Disagreement surfaced as a divergence event.
	require.Len(t, divergences, 1)
	assert.Equal(t, domain.FactSeverityScore, divergences[0].Key)
	assert.Equal(t, float64(9), divergences[0].ModelValue)
	assert.Equal(t, 5, divergences[0].DeterministicValue)
	assert.Equal(t, "s1", divergences[0].SessionID)
}

func TestFactServiceAgreementProducesNoDivergence(t *testing.T) {
	gen := &stubGenerator{
		jsonFn: func(_, _ string) ([]byte, error) {
			return extractionResponse(t, []extractedFact{
				{Key: "severity_score", Value: float64(5), Confidence: 95},
			}), nil
		},
	}
	svc := NewFactService(gen, testGeneratorConfig(), testLogger())

	state := domain.ChatState{Severity: intPtr(5)}
	_, divergences := svc.Extract(context.Background(), "s1", patientMessages("about a 5"), state)

	assert.Empty(t, divergences)
}

func TestFactServiceMalformedExtractionJSON(t *testing.T) {
	gen := &stubGenerator{
		jsonFn: func(_, _ string) ([]byte, error) {
			return []byte("not json at all"), nil
		},
	}
	svc := NewFactService(gen, testGeneratorConfig(), testLogger())

	state := domain.ChatState{Complaint: "fever"}
	facts, divergences := svc.Extract(context.Background(), "s1", patientMessages("I have a fever"), state)

	assert.Empty(t, divergences)
	_, ok := facts[domain.FactPresentingComplaint]
	assert.True(t, ok)
}

func TestFactServiceOnlyPatientTextFeedsExtraction(t *testing.T) {
	var captured string
	gen := &stubGenerator{
		jsonFn: func(_, userPrompt string) ([]byte, error) {
			captured = userPrompt
			return extractionResponse(t, nil), nil
		},
	}
	svc := NewFactService(gen, testGeneratorConfig(), testLogger())

	messages := []domain.Message{
		{Role: domain.RoleAssistant, Content: "Do you have chest pain?"},
		{Role: domain.RoleUser, Content: "yes a little"},
	}
	svc.Extract(context.Background(), "s1", messages, domain.ChatState{})

	assert.Contains(t, captured, "yes a little")
	assert.NotContains(t, captured, "Do you have chest pain?")
}
