package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

// RedFlagEvaluator evaluates the static declarative red-flag rule table
// against a fact record. Every rule lands in exactly one of triggered,
// not-triggered or not-assessed: not-assessed only when none of the rule's
// referenced fact keys exist in the record.
type RedFlagEvaluator struct {
	logger *logrus.Logger
	rules  []domain.RedFlagRule
}

// NewRedFlagEvaluator creates an evaluator over the built-in rule table.
func NewRedFlagEvaluator(logger *logrus.Logger) *RedFlagEvaluator {
	return &RedFlagEvaluator{
		logger: logger,
		rules:  redFlagRules,
	}
}

// Rules returns the static rule table.
func (e *RedFlagEvaluator) Rules() []domain.RedFlagRule {
	return e.rules
}

// Evaluate classifies every rule in the table against the fact record.
func (e *RedFlagEvaluator) Evaluate(facts domain.FactRecord) domain.RedFlagResult {
	result := domain.RedFlagResult{
		Triggered:    []domain.TriggeredFlag{},
		NotTriggered: []string{},
		NotAssessed:  []string{},
	}

	for _, rule := range e.rules {
		if !e.assessable(rule, facts) {
			result.NotAssessed = append(result.NotAssessed, rule.Label)
			continue
		}
		if e.matches(rule, facts) {
			result.Triggered = append(result.Triggered, domain.TriggeredFlag{
				Code:     rule.Code,
				Label:    rule.Label,
				Evidence: e.buildEvidence(rule, facts),
			})
		} else {
			result.NotTriggered = append(result.NotTriggered, rule.Label)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"triggered":     len(result.Triggered),
		"not_triggered": len(result.NotTriggered),
		"not_assessed":  len(result.NotAssessed),
	}).Debug("Completed red-flag evaluation")

	return result
}

// assessable reports whether at least one referenced fact key exists.
func (e *RedFlagEvaluator) assessable(rule domain.RedFlagRule, facts domain.FactRecord) bool {
	for _, key := range rule.Keys() {
		if _, ok := facts[key]; ok {
			return true
		}
	}
	return false
}

// matches applies criteria_all (AND, short-circuiting) and criteria_any (OR).
// A rule carrying both requires both to hold.
func (e *RedFlagEvaluator) matches(rule domain.RedFlagRule, facts domain.FactRecord) bool {
	for _, c := range rule.CriteriaAll {
		if !evaluateCriterion(c, facts) {
			return false
		}
	}
	if len(rule.CriteriaAny) > 0 {
		anyMatch := false
		for _, c := range rule.CriteriaAny {
			if evaluateCriterion(c, facts) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false
		}
	}
	return len(rule.CriteriaAll) > 0 || len(rule.CriteriaAny) > 0
}

// evaluateCriterion applies a single predicate. Numeric operators are only
// valid against numeric fact values; anything else makes the predicate false
// rather than an error.
func evaluateCriterion(c domain.Criterion, facts domain.FactRecord) bool {
	fact, ok := facts[c.Key]
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpEq:
		return equalValues(fact.Value, c.Value)
	case domain.OpGte:
		have, haveOK := toNumber(fact.Value)
		want, wantOK := toNumber(c.Value)
		return haveOK && wantOK && have >= want
	case domain.OpLte:
		have, haveOK := toNumber(fact.Value)
		want, wantOK := toNumber(c.Value)
		return haveOK && wantOK && have <= want
	}
	return false
}

func equalValues(a, b interface{}) bool {
	// Numeric equality crosses int/float64 representations.
	if an, aOK := toNumber(a); aOK {
		if bn, bOK := toNumber(b); bOK {
			return an == bn
		}
		return false
	}
	return a == b
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// buildEvidence renders the rule's evidence prompt with the values that fired
// it.
func (e *RedFlagEvaluator) buildEvidence(rule domain.RedFlagRule, facts domain.FactRecord) string {
	for _, key := range rule.Keys() {
		if fact, ok := facts[key]; ok {
			return fmt.Sprintf("%s (%s=%v, confidence %d)", rule.EvidencePrompt, key, fact.Value, fact.Confidence)
		}
	}
	return rule.EvidencePrompt
}

// redFlagRules is the static rule table. It is loaded once and never mutated
// at runtime.
var redFlagRules = []domain.RedFlagRule{
	{
		Code:           "RF001",
		Label:          "Chest pain with shortness of breath",
		EvidencePrompt: "Patient reports chest pain together with breathing difficulty",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactChestPain, Operator: domain.OpEq, Value: true},
			{Key: domain.FactShortnessOfBreath, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF002",
		Label:          "Thunderclap headache",
		EvidencePrompt: "Sudden-onset worst-ever headache",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactThunderclap, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF003",
		Label:          "Neck stiffness with fever",
		EvidencePrompt: "Possible meningism: stiff neck in a febrile patient",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactNeckStiffness, Operator: domain.OpEq, Value: true},
			{Key: domain.FactFever, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF004",
		Label:          "Non-blanching rash",
		EvidencePrompt: "Rash that does not fade under pressure",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactNonBlanchingRash, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF005",
		Label:          "Vomiting blood",
		EvidencePrompt: "Haematemesis reported",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactVomitingBlood, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF006",
		Label:          "Severe pain (9 or above)",
		EvidencePrompt: "Patient-reported pain score of 9 or more",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactSeverityScore, Operator: domain.OpGte, Value: 9},
		},
	},
	{
		Code:           "RF007",
		Label:          "New confusion",
		EvidencePrompt: "New-onset confusion or disorientation",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactNewConfusion, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF008",
		Label:          "Heavy bleeding",
		EvidencePrompt: "Heavy or uncontrolled bleeding reported",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactSevereBleeding, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF009",
		Label:          "Cyanosis",
		EvidencePrompt: "Blue discolouration of lips or face",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactCyanosis, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF010",
		Label:          "Focal neurological symptoms",
		EvidencePrompt: "Face droop, limb weakness, speech difficulty or other focal neurology",
		CriteriaAny: []domain.Criterion{
			{Key: domain.FactFaceDroop, Operator: domain.OpEq, Value: true},
			{Key: domain.FactArmWeakness, Operator: domain.OpEq, Value: true},
			{Key: domain.FactSpeechDifficulty, Operator: domain.OpEq, Value: true},
			{Key: domain.FactNeurologicalSymptoms, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF011",
		Label:          "Collapse or fainting",
		EvidencePrompt: "Collapse or loss of consciousness reported",
		CriteriaAny: []domain.Criterion{
			{Key: domain.FactCollapse, Operator: domain.OpEq, Value: true},
			{Key: domain.FactFainting, Operator: domain.OpEq, Value: true},
		},
	},
	{
		Code:           "RF012",
		Label:          "Possible pregnancy with bleeding",
		EvidencePrompt: "Bleeding in a patient who may be pregnant",
		CriteriaAll: []domain.Criterion{
			{Key: domain.FactPregnancyPossible, Operator: domain.OpEq, Value: true},
			{Key: domain.FactSevereBleeding, Operator: domain.OpEq, Value: true},
		},
	},
}
