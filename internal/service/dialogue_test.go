package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-intake-server/internal/domain"
)

func newTestDialogue(gen domain.TextGenerator, retriever domain.Retriever) *DialogueService {
	logger := testLogger()
	cfg := testGeneratorConfig()
	rules := NewRulesEngine(logger)
	facts := NewFactService(gen, cfg, logger)
	return NewDialogueService(gen, retriever, rules, facts, cfg, logger)
}

func TestDialogueHappyPathGreen(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	steps := []struct {
		input     string
		wantStage domain.Stage
	}{
		{"I have a headache", domain.StageLocalisation},
		{"back of my head", domain.StageTimeStart},
		{"since yesterday", domain.StageTimeTrend},
		{"about the same", domain.StageSeverity},
		{"3", domain.StageDangerBreathing},
		{"no", domain.StageDangerCollapse},
		{"no", domain.StageDangerSeverePain},
		{"no", domain.StageDangerBleeding},
		{"no", domain.StageDangerConfusion},
		{"no", domain.StageRedFlags},
		{"no", domain.StageRedFlags}, // thunderclap
		{"no", domain.StageRedFlags}, // neck stiffness
		{"no", domain.StageRedFlags}, // visual disturbance
		{"no", domain.StageRedFlags}, // neurological symptoms
		{"no", domain.StageContextAge}, // rash; no retriever so the follow-up loop is skipped
		{"30", domain.StageContextMedications},
		{"just paracetamol", domain.StageContextHistory},
		{"nothing relevant", domain.StageFunctionalEating},
		{"eating fine", domain.StageFunctionalMobility},
		{"moving around ok", domain.StageFunctionalSleep},
		{"sleeping fine", domain.StageCollectName},
		{"Jane Doe", domain.StageSummary},
	}

	result := domain.AdvanceResult{Stage: domain.StageOpening}
	for i, step := range steps {
		result = svc.Advance(context.Background(), step.input, nil, result.State, result.Stage, result.RetryCount)
		require.Equal(t, step.wantStage, result.Stage, "step %d (%q)", i, step.input)
		require.False(t, result.IsEscalation, "step %d", i)
		require.Zero(t, result.RetryCount, "step %d", i)
	}

	assert.Equal(t, "headache", result.State.Complaint)
	assert.Equal(t, "Jane Doe", result.State.PatientName)
	require.NotNil(t, result.State.Severity)
	assert.Equal(t, 3, *result.State.Severity)
	assert.Contains(t, result.Response, "Is this correct?")

	// Confirming the summary completes with a Green outcome.
	final := svc.Advance(context.Background(), "yes", nil, result.State, result.Stage, result.RetryCount)
	assert.Equal(t, domain.StageComplete, final.Stage)
	assert.True(t, final.IsComplete)
	assert.False(t, final.IsEscalation)
	assert.Contains(t, final.Response, "routine appointment")
	assert.Contains(t, final.Response, safetyNetMessage)
	assert.Contains(t, final.Response, "Jane Doe")
}

func TestDialogueEmergencyKeywordDominatesEverything(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	tests := []struct {
		name  string
		stage domain.Stage
		input string
	}{
		{"at opening", domain.StageOpening, "I can't breathe properly"},
		{"at severity with an otherwise parseable answer", domain.StageSeverity, "it's a 7 and there's heavy bleeding"},
		{"at name collection", domain.StageCollectName, "John, my lips are blue"},
		{"conjunctive pair", domain.StageLocalisation, "my neck is a stiff neck and I have a fever"},
		{"bare confusion report", domain.StageTimeStart, "since this morning, and I'm very confused"},
		{"confusion about someone else", domain.StageOpening, "my mum has a bad headache and new confusion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := svc.Advance(context.Background(), tt.input, nil, domain.ChatState{}, tt.stage, 0)

			assert.Equal(t, domain.StageEscalated, result.Stage)
			assert.True(t, result.IsEscalation)
			assert.True(t, result.IsComplete)
			assert.Contains(t, result.Response, "999")
			assert.Contains(t, result.Response, "A&E")
		})
	}
}

func TestDialogueDangerCheckEscalation(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	tests := []struct {
		name         string
		stage        domain.Stage
		state        domain.ChatState
		input        string
		wantEscalate bool
	}{
		{"trouble breathing yes", domain.StageDangerBreathing, domain.ChatState{}, "yes", true},
		{"trouble breathing no", domain.StageDangerBreathing, domain.ChatState{}, "no", false},
		{"collapse yes", domain.StageDangerCollapse, domain.ChatState{}, "yes it happened", true},
		{"bleeding yes", domain.StageDangerBleeding, domain.ChatState{}, "yes", true},
		{"confusion yes", domain.StageDangerConfusion, domain.ChatState{}, "yes", true},
		{
			"severe pain yes with high severity",
			domain.StageDangerSeverePain,
			domain.ChatState{Severity: intPtr(8)},
			"yes", true,
		},
		{
			"severe pain yes with moderate severity continues",
			domain.StageDangerSeverePain,
			domain.ChatState{Severity: intPtr(6)},
			"yes", false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := svc.Advance(context.Background(), tt.input, nil, tt.state, tt.stage, 0)

			assert.Equal(t, tt.wantEscalate, result.IsEscalation)
			if tt.wantEscalate {
				assert.Equal(t, domain.StageEscalated, result.Stage)
			} else {
				assert.NotEqual(t, domain.StageEscalated, result.Stage)
			}
		})
	}
}

func TestDialogueRedFlagLoop(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	// Chest pain: first red-flag question is radiating pain; "yes" records the
	// answer without escalating and moves to the next question.
	state := domain.ChatState{Complaint: "chest pain"}
	result := svc.Advance(context.Background(), "yes", nil, state, domain.StageRedFlags, 0)

	require.Equal(t, domain.StageRedFlags, result.Stage)
	require.NotNil(t, result.State.RadiatingPain)
	assert.True(t, *result.State.RadiatingPain)
	assert.False(t, result.IsEscalation)
	assert.Contains(t, result.Response, "sweating")
}

func TestDialogueRedFlagEscalationField(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	// Headache: thunderclap is a designated escalation field.
	state := domain.ChatState{Complaint: "headache"}
	result := svc.Advance(context.Background(), "yes", nil, state, domain.StageRedFlags, 0)

	assert.Equal(t, domain.StageEscalated, result.Stage)
	assert.True(t, result.IsEscalation)
	require.NotNil(t, result.State.Thunderclap)
	assert.True(t, *result.State.Thunderclap)
}

func TestDialogueUnknownComplaintSkipsRedFlagLoop(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	// A complaint outside the vocabulary has no red-flag questions; arriving
	// at the loop via the last danger check skips straight to context.
	state := domain.ChatState{Complaint: "earache that will not settle"}
	result := svc.Advance(context.Background(), "no", nil, state, domain.StageDangerConfusion, 0)

	assert.Equal(t, domain.StageContextAge, result.Stage)
}

func TestDialogueRetryLadderAndForcedAdvance(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	state := domain.ChatState{Complaint: "headache"}

	// Three unparseable answers climb the fallback ladder.
	r1 := svc.Advance(context.Background(), "dunno", nil, state, domain.StageSeverity, 0)
	assert.Equal(t, domain.StageSeverity, r1.Stage)
	assert.Equal(t, 1, r1.RetryCount)
	assert.Equal(t, fallbackPrompts[fallbackSeverity][0], r1.Response)

	r2 := svc.Advance(context.Background(), "hard to say", nil, r1.State, r1.Stage, r1.RetryCount)
	assert.Equal(t, 2, r2.RetryCount)
	assert.Equal(t, fallbackPrompts[fallbackSeverity][1], r2.Response)

	r3 := svc.Advance(context.Background(), "really hard to say", nil, r2.State, r2.Stage, r2.RetryCount)
	assert.Equal(t, 3, r3.RetryCount)
	assert.Equal(t, fallbackPrompts[fallbackSeverity][2], r3.Response)

	// The fourth failure forces the advance with the field left unset.
	r4 := svc.Advance(context.Background(), "still no idea", nil, r3.State, r3.Stage, r3.RetryCount)
	assert.Equal(t, domain.StageDangerBreathing, r4.Stage)
	assert.Zero(t, r4.RetryCount)
	assert.Nil(t, r4.State.Severity)
}

func TestDialogueNameStageNeverForceAdvances(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	result := svc.Advance(context.Background(), "x", nil, domain.ChatState{}, domain.StageCollectName, 5)

	assert.Equal(t, domain.StageCollectName, result.Stage)
	assert.Equal(t, 6, result.RetryCount)
	assert.Equal(t, fallbackPrompts[fallbackName][2], result.Response)
}

func TestDialogueFollowupLoop(t *testing.T) {
	retriever := &stubRetriever{chunks: []domain.GuidanceChunk{
		{ChunkID: "c1", SourceTitle: "Headache assessment", Content: "Ask about aura and triggers."},
	}}
	svc := newTestDialogue(nil, retriever)

	// Last red-flag answer lands in the follow-up loop because guidance exists.
	state := domain.ChatState{
		Complaint:            "headache",
		Thunderclap:          boolPtr(false),
		NeckStiffness:        boolPtr(false),
		VisualDisturbance:    boolPtr(false),
		NeurologicalSymptoms: boolPtr(false),
	}
	result := svc.Advance(context.Background(), "no", nil, state, domain.StageRedFlags, 0)

	require.Equal(t, domain.StageRAGFollowup, result.Stage)
	assert.Contains(t, strings.ToLower(result.Response), "headache assessment")
	assert.Equal(t, result.Response, result.State.PendingFollowup)

	// The answer is recorded against the asked question.
	answered := svc.Advance(context.Background(), "no flashing lights or anything", nil, result.State, result.Stage, 0)
	require.Len(t, answered.State.Followups, 1)
	assert.Equal(t, result.Response, answered.State.Followups[0].Question)
	assert.Equal(t, "no flashing lights or anything", answered.State.Followups[0].Answer)
	assert.Equal(t, 1, answered.State.FollowupCount)
}

func TestDialogueFollowupLoopCapsAtThree(t *testing.T) {
	retriever := &stubRetriever{chunks: []domain.GuidanceChunk{
		{ChunkID: "c1", SourceTitle: "Fever guidance", Content: "Ask about travel history."},
	}}
	svc := newTestDialogue(nil, retriever)

	state := domain.ChatState{
		Complaint:       "fever",
		FollowupCount:   3,
		PendingFollowup: "Have you travelled recently?",
	}
	result := svc.Advance(context.Background(), "no travel", nil, state, domain.StageRAGFollowup, 0)

	assert.Equal(t, domain.StageContextAge, result.Stage)
	assert.Equal(t, 4, result.State.FollowupCount)
}

func TestDialogueSummaryRejectionRestartsClean(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	state := domain.ChatState{
		Complaint:   "chest pain",
		Severity:    intPtr(4),
		PatientName: "Jane Doe",
	}
	result := svc.Advance(context.Background(), "no that's wrong", nil, state, domain.StageSummary, 0)

	assert.Equal(t, domain.StageOpening, result.Stage)
	assert.Equal(t, domain.ChatState{}, result.State)
	assert.Zero(t, result.RetryCount)
	assert.Contains(t, result.Response, "start again")
}

func TestDialogueSummaryUnparseableRetries(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	state := domain.ChatState{Complaint: "headache"}
	result := svc.Advance(context.Background(), "hmm maybe", nil, state, domain.StageSummary, 0)

	assert.Equal(t, domain.StageSummary, result.Stage)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, fallbackPrompts[fallbackConfirm][0], result.Response)
}

func TestDialogueCompletionBands(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	tests := []struct {
		name     string
		state    domain.ChatState
		wantText string
	}{
		{
			name:     "amber severity gets 24 hour advice",
			state:    domain.ChatState{Complaint: "headache", Severity: intPtr(6)},
			wantText: "24 hours",
		},
		{
			name:     "red flag gets urgent same day advice",
			state:    domain.ChatState{Complaint: "headache", Severity: intPtr(4), VisualDisturbance: boolPtr(true)},
			wantText: "urgently today",
		},
		{
			name:     "green gets self-care advice",
			state:    domain.ChatState{Complaint: "headache", Severity: intPtr(2)},
			wantText: "routine appointment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := svc.Advance(context.Background(), "yes", nil, tt.state, domain.StageSummary, 0)

			assert.Equal(t, domain.StageComplete, result.Stage)
			assert.True(t, result.IsComplete)
			assert.Contains(t, result.Response, tt.wantText)
			assert.Contains(t, result.Response, safetyNetMessage)
		})
	}
}

func TestDialogueTerminalStageRejectsInput(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	for _, stage := range []domain.Stage{domain.StageComplete, domain.StageEscalated} {
		result := svc.Advance(context.Background(), "hello?", nil, domain.ChatState{}, stage, 0)

		assert.Equal(t, stage, result.Stage)
		assert.True(t, result.IsComplete)
		assert.Equal(t, conversationClosedMessage, result.Response)
	}
}

func TestDialogueGeneratorPhrasingWithFallback(t *testing.T) {
	// A working generator rephrases the fixed question.
	gen := &stubGenerator{
		generateFn: func(systemPrompt string, _ []domain.Message) (string, error) {
			return "Whereabouts does it hurt?", nil
		},
	}
	svc := newTestDialogue(gen, nil)

	result := svc.Advance(context.Background(), "chest pain", nil, domain.ChatState{}, domain.StageOpening, 0)
	assert.Equal(t, "Whereabouts does it hurt?", result.Response)

	// A broken generator falls back to the fixed question text.
	svc = newTestDialogue(&stubGenerator{}, nil)
	result = svc.Advance(context.Background(), "chest pain", nil, domain.ChatState{}, domain.StageOpening, 0)
	assert.Contains(t, result.Response, "Where exactly do you feel it?")
}

func TestDialogueComplaintParsing(t *testing.T) {
	svc := newTestDialogue(nil, nil)

	tests := []struct {
		input         string
		wantComplaint string
	}{
		{"I've got chest pain", "chest pain"},
		{"my stomach really hurts", "abdominal pain"},
		{"feeling feverish and shivery", "fever"},
		{"terrible migraine", "headache"},
		{"a pain in my lower back that won't settle", "a pain in my lower back that won't settle"},
	}

	for _, tt := range tests {
		result := svc.Advance(context.Background(), tt.input, nil, domain.ChatState{}, domain.StageOpening, 0)
		assert.Equal(t, tt.wantComplaint, result.State.Complaint, "input %q", tt.input)
		assert.Equal(t, domain.StageLocalisation, result.Stage)
	}
}
