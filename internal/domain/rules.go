package domain

// RiskBand is the three-tier severity classification produced by the
// deterministic rules engine. It is authoritative over any model-suggested
// category.
type RiskBand string

const (
	BandRed   RiskBand = "Red"
	BandAmber RiskBand = "Amber"
	BandGreen RiskBand = "Green"
)

// RulesResult is the outcome of a rules-engine evaluation.
type RulesResult struct {
	Band            RiskBand `json:"band"`
	TriggeredFlags  []string `json:"triggered_flags"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// CriterionOperator is a comparison operator in a declarative red-flag
// criterion.
type CriterionOperator string

const (
	OpEq  CriterionOperator = "eq"
	OpGte CriterionOperator = "gte"
	OpLte CriterionOperator = "lte"
)

// Criterion is a single predicate over a fact value. Numeric comparisons are
// only valid against numeric fact values; a non-numeric value makes the
// predicate false, not an error.
type Criterion struct {
	Key      FactKey           `json:"key"`
	Operator CriterionOperator `json:"operator"`
	Value    interface{}       `json:"value"`
}

// RedFlagRule is a declarative clinical warning rule. CriteriaAll is a
// short-circuiting AND, CriteriaAny an OR; a rule may carry either or both.
// The rule set is static, loaded once, and never mutated at runtime.
type RedFlagRule struct {
	Code           string      `json:"code"`
	Label          string      `json:"label"`
	EvidencePrompt string      `json:"evidence_prompt"`
	CriteriaAll    []Criterion `json:"criteria_all,omitempty"`
	CriteriaAny    []Criterion `json:"criteria_any,omitempty"`
}

// Keys returns every fact key the rule references.
func (r RedFlagRule) Keys() []FactKey {
	keys := make([]FactKey, 0, len(r.CriteriaAll)+len(r.CriteriaAny))
	for _, c := range r.CriteriaAll {
		keys = append(keys, c.Key)
	}
	for _, c := range r.CriteriaAny {
		keys = append(keys, c.Key)
	}
	return keys
}

// TriggeredFlag is one fired red-flag rule with its supporting evidence.
type TriggeredFlag struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Evidence string `json:"evidence"`
}

// RedFlagResult is the trichotomy produced by the red-flag evaluator. A rule
// lands in NotAssessed only when none of its referenced fact keys exist in
// the record; NotTriggered means it was assessable and did not fire. The UI
// must be able to distinguish "ruled out" from "never asked".
type RedFlagResult struct {
	Triggered    []TriggeredFlag `json:"triggered"`
	NotTriggered []string        `json:"not_triggered"`
	NotAssessed  []string        `json:"not_assessed"`
}
