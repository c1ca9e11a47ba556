package domain

import "time"

// FactKey is a canonical snake_case symptom fact identifier. The vocabulary
// is fixed; extraction output using any other key is discarded.
type FactKey string

const (
	FactPresentingComplaint  FactKey = "presenting_complaint"
	FactPainLocation         FactKey = "pain_location"
	FactOnset                FactKey = "onset"
	FactTrend                FactKey = "trend"
	FactSeverityScore        FactKey = "severity_score"
	FactAge                  FactKey = "age"
	FactChestPain            FactKey = "chest_pain"
	FactShortnessOfBreath    FactKey = "shortness_of_breath"
	FactCollapse             FactKey = "collapse"
	FactSeverePain           FactKey = "severe_pain"
	FactSevereBleeding       FactKey = "severe_bleeding"
	FactNewConfusion         FactKey = "new_confusion"
	FactRadiatingPain        FactKey = "radiating_pain"
	FactSweating             FactKey = "sweating"
	FactCardiacHistory       FactKey = "cardiac_history"
	FactCyanosis             FactKey = "cyanosis"
	FactSpeechDifficulty     FactKey = "speech_difficulty"
	FactCoughingBlood        FactKey = "coughing_blood"
	FactVomitingBlood        FactKey = "vomiting_blood"
	FactRigidAbdomen         FactKey = "rigid_abdomen"
	FactBloodyStools         FactKey = "bloody_stools"
	FactPregnancyPossible    FactKey = "pregnancy_possible"
	FactThunderclap          FactKey = "thunderclap"
	FactNeckStiffness        FactKey = "neck_stiffness"
	FactVisualDisturbance    FactKey = "visual_disturbance"
	FactNeurologicalSymptoms FactKey = "neurological_symptoms"
	FactNonBlanchingRash     FactKey = "non_blanching_rash"
	FactPersistentVomiting   FactKey = "persistent_vomiting"
	FactImmunocompromised    FactKey = "immunocompromised"
	FactFever                FactKey = "fever"
	FactFainting             FactKey = "fainting"
	FactFaceDroop            FactKey = "face_droop"
	FactArmWeakness          FactKey = "arm_weakness"
	FactMedications          FactKey = "medications"
	FactMedicalHistory       FactKey = "medical_history"
)

// FactProvenance records where a fact value came from.
type FactProvenance string

const (
	ProvenancePatient FactProvenance = "patient"
	ProvenanceDerived FactProvenance = "derived"
	ProvenanceModel   FactProvenance = "model"
)

// Fact is a single admitted fact value with its confidence (0-100) and origin.
type Fact struct {
	Value      interface{}    `json:"value"`
	Confidence int            `json:"confidence"`
	Provenance FactProvenance `json:"provenance"`
}

// FactRecord is the reconciled fact set fed to the rules and red-flag engines.
type FactRecord map[FactKey]Fact

// Bool returns the fact value as a bool where it is one.
func (r FactRecord) Bool(key FactKey) (bool, bool) {
	f, ok := r[key]
	if !ok {
		return false, false
	}
	b, ok := f.Value.(bool)
	return b, ok
}

// Number returns the fact value as a float64 where it is numeric. JSON
// decoding yields float64 for all numbers; int is accepted for values set
// programmatically.
func (r FactRecord) Number(key FactKey) (float64, bool) {
	f, ok := r[key]
	if !ok {
		return 0, false
	}
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// String returns the fact value as a string where it is one.
func (r FactRecord) String(key FactKey) (string, bool) {
	f, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := f.Value.(string)
	return s, ok
}

// criticalFacts lists the keys whose admission requires the higher
// confidence threshold and textual corroboration, because each can directly
// drive escalation.
var criticalFacts = map[FactKey]bool{
	FactSeverityScore:     true,
	FactChestPain:         true,
	FactShortnessOfBreath: true,
	FactCollapse:          true,
	FactNewConfusion:      true,
	FactSevereBleeding:    true,
	FactFainting:          true,
	FactFaceDroop:         true,
	FactArmWeakness:       true,
	FactSpeechDifficulty:  true,
	FactThunderclap:       true,
	FactNeckStiffness:     true,
	FactNonBlanchingRash:  true,
	FactVomitingBlood:     true,
	FactPregnancyPossible: true,
	FactFever:             true,
}

// IsCriticalFact reports whether the key belongs to the critical-fact set.
func IsCriticalFact(key FactKey) bool {
	return criticalFacts[key]
}

// DivergenceEvent is an immutable audit record of a disagreement between a
// deterministically-derived fact value and a model-extracted value for the
// same key. Recording one never changes the admitted fact.
type DivergenceEvent struct {
	ID                 int64       `json:"id,omitempty"`
	SessionID          string      `json:"session_id"`
	Key                FactKey     `json:"key"`
	ModelValue         interface{} `json:"model_value"`
	DeterministicValue interface{} `json:"deterministic_value"`
	Confidence         int         `json:"confidence"`
	RecordedAt         time.Time   `json:"recorded_at"`
}
