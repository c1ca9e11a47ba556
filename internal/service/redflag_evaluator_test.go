package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-intake-server/internal/domain"
)

func TestRedFlagEvaluatorTrichotomyIsComplete(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	facts := factRecord(map[domain.FactKey]interface{}{
		domain.FactChestPain:         true,
		domain.FactShortnessOfBreath: true,
		domain.FactSeverityScore:     4,
	})

	result := evaluator.Evaluate(facts)

	// Every rule lands in exactly one bucket.
	total := len(result.Triggered) + len(result.NotTriggered) + len(result.NotAssessed)
	assert.Equal(t, len(evaluator.Rules()), total)
}

func TestRedFlagEvaluatorNotAssessedOnlyWithoutReferencedKeys(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	// Empty record: nothing is assessable.
	result := evaluator.Evaluate(domain.FactRecord{})
	assert.Empty(t, result.Triggered)
	assert.Empty(t, result.NotTriggered)
	assert.Len(t, result.NotAssessed, len(evaluator.Rules()))

	// One key of a two-key rule present makes that rule assessable.
	result = evaluator.Evaluate(factRecord(map[domain.FactKey]interface{}{
		domain.FactChestPain: true,
	}))
	assert.Contains(t, result.NotTriggered, "Chest pain with shortness of breath")
	assert.NotContains(t, result.NotAssessed, "Chest pain with shortness of breath")
}

func TestRedFlagEvaluatorConjunction(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	tests := []struct {
		name          string
		facts         map[domain.FactKey]interface{}
		wantTriggered bool
	}{
		{
			name: "both criteria true triggers",
			facts: map[domain.FactKey]interface{}{
				domain.FactNeckStiffness: true,
				domain.FactFever:         true,
			},
			wantTriggered: true,
		},
		{
			name: "one criterion false does not trigger",
			facts: map[domain.FactKey]interface{}{
				domain.FactNeckStiffness: true,
				domain.FactFever:         false,
			},
			wantTriggered: false,
		},
		{
			name: "one criterion missing does not trigger",
			facts: map[domain.FactKey]interface{}{
				domain.FactNeckStiffness: true,
			},
			wantTriggered: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := evaluator.Evaluate(factRecord(tt.facts))

			var triggered bool
			for _, f := range result.Triggered {
				if f.Code == "RF003" {
					triggered = true
				}
			}
			assert.Equal(t, tt.wantTriggered, triggered)
		})
	}
}

func TestRedFlagEvaluatorDisjunction(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	// Any single focal-neurology fact fires RF010.
	result := evaluator.Evaluate(factRecord(map[domain.FactKey]interface{}{
		domain.FactFaceDroop:   false,
		domain.FactArmWeakness: true,
	}))

	var found *domain.TriggeredFlag
	for i, f := range result.Triggered {
		if f.Code == "RF010" {
			found = &result.Triggered[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Focal neurological symptoms", found.Label)
	assert.NotEmpty(t, found.Evidence)
}

func TestRedFlagEvaluatorNumericOperators(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	tests := []struct {
		name          string
		severity      interface{}
		wantTriggered bool
	}{
		{"score below threshold", 8, false},
		{"score at threshold", 9, true},
		{"score above threshold", 10, true},
		{"float representation at threshold", float64(9), true},
		{"non-numeric value never satisfies a numeric operator", "nine", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := evaluator.Evaluate(factRecord(map[domain.FactKey]interface{}{
				domain.FactSeverityScore: tt.severity,
			}))

			var triggered bool
			for _, f := range result.Triggered {
				if f.Code == "RF006" {
					triggered = true
				}
			}
			assert.Equal(t, tt.wantTriggered, triggered)
		})
	}
}

func TestRedFlagEvaluatorExplicitDenialsAssessButDoNotTrigger(t *testing.T) {
	evaluator := NewRedFlagEvaluator(testLogger())

	result := evaluator.Evaluate(factRecord(map[domain.FactKey]interface{}{
		domain.FactThunderclap:      false,
		domain.FactVomitingBlood:    false,
		domain.FactNonBlanchingRash: false,
	}))

	assert.Empty(t, result.Triggered)
	assert.Contains(t, result.NotTriggered, "Thunderclap headache")
	assert.Contains(t, result.NotTriggered, "Vomiting blood")
	assert.Contains(t, result.NotTriggered, "Non-blanching rash")
}
