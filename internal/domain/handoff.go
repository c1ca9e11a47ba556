package domain

import "time"

// HandoffDocument is the fixed-schema one-page clinical summary assembled for
// reception and clinician consumption once a session completes. The
// rules-engine category is authoritative; the model-suggested category is
// advisory only and must never replace it.
type HandoffDocument struct {
	SubmissionID string `json:"submission_id"`
	SessionID    string `json:"session_id"`
	PatientName  string `json:"patient_name,omitempty"`

	PresentingComplaint string `json:"presenting_complaint"`
	Location            string `json:"location,omitempty"`
	Onset               string `json:"onset,omitempty"`
	Trend               string `json:"trend,omitempty"`
	SeverityScore       *int   `json:"severity_score,omitempty"`
	Age                 *int   `json:"age,omitempty"`

	KeyPositives []string `json:"key_positives"`
	KeyNegatives []string `json:"key_negatives"`

	RedFlagsTriggered    []TriggeredFlag `json:"red_flags_triggered"`
	RedFlagsNotTriggered []string        `json:"red_flags_not_triggered"`
	RedFlagsNotAssessed  []string        `json:"red_flags_not_assessed"`

	RulesEngineCategory RiskBand `json:"rules_engine_category"`
	AISuggestedCategory string   `json:"ai_suggested_category,omitempty"`
	AIConfidence        int      `json:"ai_confidence,omitempty"`

	Differentials     []string `json:"differentials,omitempty"`
	ConsultationFocus []string `json:"consultation_focus,omitempty"`
	ReceptionSummary  string   `json:"reception_summary"`
	SelfCareAdvice    []string `json:"self_care_advice,omitempty"`

	// Degraded marks a handoff built without the narrative generator.
	Degraded    bool      `json:"degraded,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HandoffNarrative is the model-generated portion of a handoff, constrained
// by a fixed JSON output schema.
type HandoffNarrative struct {
	PresentingComplaint string   `json:"presenting_complaint"`
	KeyPositives        []string `json:"key_positives"`
	KeyNegatives        []string `json:"key_negatives"`
	SuggestedCategory   string   `json:"suggested_category"`
	Confidence          int      `json:"confidence"`
	Differentials       []string `json:"differentials"`
	ConsultationFocus   []string `json:"consultation_focus"`
	ReceptionSummary    string   `json:"reception_summary"`
}
