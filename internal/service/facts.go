package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

// Confidence thresholds for admitting model-extracted facts. Critical facts
// can directly drive escalation and therefore require the higher bar plus
// textual corroboration.
const (
	criticalConfidenceThreshold = 70
	defaultConfidenceThreshold  = 50
)

var looseDigitPattern = regexp.MustCompile(`\b\d{1,2}\b`)

// FactService reconciles the deterministic chat state with model-extracted
// facts. The deterministic projection is authoritative and always wins ties;
// model output is only ever additive, gated by confidence and corroboration.
type FactService struct {
	generator domain.TextGenerator
	logger    *logrus.Logger
	maxTokens int
	temp      float32
}

// NewFactService creates a new fact reconciliation service.
func NewFactService(generator domain.TextGenerator, cfg *domain.GeneratorConfig, logger *logrus.Logger) *FactService {
	return &FactService{
		generator: generator,
		logger:    logger,
		maxTokens: cfg.ExtractionMaxTokens,
		temp:      cfg.ExtractionTemperature,
	}
}

// extractedFact is one entry of the model's structured extraction output.
type extractedFact struct {
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	Confidence int         `json:"confidence"`
}

type extractionPayload struct {
	Facts []extractedFact `json:"facts"`
}

const extractionSystemPrompt = `You extract clinical facts from a patient intake conversation.
Rules:
- Extract ONLY facts the patient explicitly stated or strongly implied. Never invent.
- Omit anything unknown or uncertain rather than guessing.
- Use ONLY these snake_case keys: presenting_complaint, pain_location, onset, trend, severity_score, age, chest_pain, shortness_of_breath, collapse, severe_pain, severe_bleeding, new_confusion, radiating_pain, sweating, cardiac_history, cyanosis, speech_difficulty, coughing_blood, vomiting_blood, rigid_abdomen, bloody_stools, pregnancy_possible, thunderclap, neck_stiffness, visual_disturbance, neurological_symptoms, non_blanching_rash, fever, fainting, face_droop, arm_weakness, medications, medical_history.
- Explicit denials are facts too: report them with value false.
- Attach a confidence between 0 and 100 to every fact.
Respond with a single JSON object: {"facts":[{"key":"...","value":...,"confidence":0-100}]}`

// Extract builds the reconciled fact record for a finished session. It never
// fails: a generator outage or malformed extraction JSON simply means no
// model facts are admitted this pass.
func (s *FactService) Extract(ctx context.Context, sessionID string, messages []domain.Message, state domain.ChatState) (domain.FactRecord, []domain.DivergenceEvent) {
	facts := s.Project(state)
	if s.generator == nil {
		return facts, nil
	}

	patientText := collectPatientText(messages)
	if strings.TrimSpace(patientText) == "" {
		return facts, nil
	}

	extracted, err := s.runExtraction(ctx, patientText)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Fact extraction failed, using deterministic facts only")
		return facts, nil
	}

	var divergences []domain.DivergenceEvent
	lowerText := strings.ToLower(patientText)

	for _, ef := range extracted {
		key := domain.FactKey(ef.Key)
		if !knownFactKey(key) {
			continue
		}

		admitted, reason := s.admit(key, ef, lowerText)
		if !admitted {
			s.logger.WithFields(logrus.Fields{
				"session_id": sessionID,
				"key":        key,
				"confidence": ef.Confidence,
				"reason":     reason,
			}).Debug("Rejected extracted fact")
			continue
		}

		if existing, ok := facts[key]; ok {
			// Deterministic state is authoritative. Record the disagreement
			// as an audit event; the deterministic value is retained.
			if !equalValues(existing.Value, ef.Value) {
				divergences = append(divergences, domain.DivergenceEvent{
					SessionID:          sessionID,
					Key:                key,
					ModelValue:         ef.Value,
					DeterministicValue: existing.Value,
					Confidence:         ef.Confidence,
					RecordedAt:         time.Now().UTC(),
				})
			}
			continue
		}

		facts[key] = domain.Fact{
			Value:      ef.Value,
			Confidence: ef.Confidence,
			Provenance: domain.ProvenanceModel,
		}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"fact_count":  len(facts),
		"divergences": len(divergences),
	}).Info("Completed fact reconciliation")

	return facts, divergences
}

// admit applies the confidence and corroboration gates to one extracted fact.
func (s *FactService) admit(key domain.FactKey, ef extractedFact, lowerPatientText string) (bool, string) {
	// Explicit negations use the default threshold and skip corroboration.
	if b, isBool := ef.Value.(bool); isBool && !b {
		if ef.Confidence < defaultConfidenceThreshold {
			return false, "negation below confidence threshold"
		}
		return true, ""
	}

	threshold := defaultConfidenceThreshold
	if domain.IsCriticalFact(key) {
		threshold = criticalConfidenceThreshold
	}
	if ef.Confidence < threshold {
		return false, "below confidence threshold"
	}

	if domain.IsCriticalFact(key) {
		if _, isBool := ef.Value.(bool); !isBool {
			if !corroborated(ef.Value, lowerPatientText) {
				return false, "no textual corroboration"
			}
		}
	}

	return true, ""
}

// corroborated checks that a critical non-boolean value is anchored in what
// the patient actually typed. Numeric values also pass on any 1-2 digit
// number in the text; this loose check intentionally matches the admission
// policy rather than tightening it.
func corroborated(value interface{}, lowerPatientText string) bool {
	literal := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	if literal != "" && strings.Contains(lowerPatientText, literal) {
		return true
	}
	if _, isNumber := toNumber(value); isNumber {
		return looseDigitPattern.MatchString(lowerPatientText)
	}
	return false
}

// runExtraction invokes the structured extraction call and decodes its JSON.
func (s *FactService) runExtraction(ctx context.Context, patientText string) ([]extractedFact, error) {
	raw, err := s.generator.GenerateJSON(ctx, extractionSystemPrompt, patientText, s.maxTokens, s.temp)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	var payload extractionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Malformed extraction output means "no facts extracted this turn".
		return nil, fmt.Errorf("decoding extraction output: %w", err)
	}
	return payload.Facts, nil
}

// Project maps the deterministic chat state onto canonical fact keys. Values
// captured directly from stage answers carry implicit full confidence.
func (s *FactService) Project(state domain.ChatState) domain.FactRecord {
	facts := domain.FactRecord{}

	setString := func(key domain.FactKey, v string) {
		if strings.TrimSpace(v) != "" {
			facts[key] = domain.Fact{Value: v, Confidence: 100, Provenance: domain.ProvenancePatient}
		}
	}
	setInt := func(key domain.FactKey, v *int) {
		if v != nil {
			facts[key] = domain.Fact{Value: *v, Confidence: 100, Provenance: domain.ProvenancePatient}
		}
	}
	setBool := func(key domain.FactKey, v *bool) {
		if v != nil {
			facts[key] = domain.Fact{Value: *v, Confidence: 100, Provenance: domain.ProvenancePatient}
		}
	}

	setString(domain.FactPresentingComplaint, state.Complaint)
	setString(domain.FactPainLocation, state.Location)
	setString(domain.FactOnset, state.Onset)
	setString(domain.FactTrend, state.Trend)
	setInt(domain.FactSeverityScore, state.Severity)
	setInt(domain.FactAge, state.Age)

	setBool(domain.FactShortnessOfBreath, state.TroubleBreathing)
	setBool(domain.FactCollapse, state.Collapsed)
	setBool(domain.FactSeverePain, state.SeverePain)
	setBool(domain.FactSevereBleeding, state.Bleeding)
	setBool(domain.FactNewConfusion, state.Confusion)

	setBool(domain.FactRadiatingPain, state.RadiatingPain)
	setBool(domain.FactSweating, state.Sweating)
	setBool(domain.FactCardiacHistory, state.CardiacHistory)
	setBool(domain.FactCyanosis, state.Cyanosis)
	setBool(domain.FactSpeechDifficulty, state.SpeakingDifficulty)
	setBool(domain.FactCoughingBlood, state.CoughingBlood)
	setBool(domain.FactVomitingBlood, state.VomitingBlood)
	setBool(domain.FactRigidAbdomen, state.RigidAbdomen)
	setBool(domain.FactBloodyStools, state.BloodyStools)
	setBool(domain.FactPregnancyPossible, state.PregnancyPossible)
	setBool(domain.FactThunderclap, state.Thunderclap)
	setBool(domain.FactNeckStiffness, state.NeckStiffness)
	setBool(domain.FactVisualDisturbance, state.VisualDisturbance)
	setBool(domain.FactNeurologicalSymptoms, state.NeurologicalSymptoms)
	setBool(domain.FactNonBlanchingRash, state.NonBlanchingRash)
	setBool(domain.FactPersistentVomiting, state.PersistentVomiting)
	setBool(domain.FactImmunocompromised, state.Immunocompromised)

	setString(domain.FactMedications, state.Medications)
	setString(domain.FactMedicalHistory, state.MedicalHistory)

	// Derived facts: the complaint itself asserts the matching symptom flag.
	switch strings.ToLower(strings.TrimSpace(state.Complaint)) {
	case "chest pain":
		facts[domain.FactChestPain] = domain.Fact{Value: true, Confidence: 100, Provenance: domain.ProvenanceDerived}
	case "shortness of breath":
		if _, ok := facts[domain.FactShortnessOfBreath]; !ok {
			facts[domain.FactShortnessOfBreath] = domain.Fact{Value: true, Confidence: 100, Provenance: domain.ProvenanceDerived}
		}
	case "fever":
		facts[domain.FactFever] = domain.Fact{Value: true, Confidence: 100, Provenance: domain.ProvenanceDerived}
	}

	return facts
}

// collectPatientText concatenates all patient-authored message content.
func collectPatientText(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != domain.RoleUser {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// knownFactKey restricts admission to the fixed fact vocabulary.
var factVocabulary = map[domain.FactKey]bool{
	domain.FactPresentingComplaint: true, domain.FactPainLocation: true,
	domain.FactOnset: true, domain.FactTrend: true, domain.FactSeverityScore: true,
	domain.FactAge: true, domain.FactChestPain: true, domain.FactShortnessOfBreath: true,
	domain.FactCollapse: true, domain.FactSeverePain: true, domain.FactSevereBleeding: true,
	domain.FactNewConfusion: true, domain.FactRadiatingPain: true, domain.FactSweating: true,
	domain.FactCardiacHistory: true, domain.FactCyanosis: true, domain.FactSpeechDifficulty: true,
	domain.FactCoughingBlood: true, domain.FactVomitingBlood: true, domain.FactRigidAbdomen: true,
	domain.FactBloodyStools: true, domain.FactPregnancyPossible: true, domain.FactThunderclap: true,
	domain.FactNeckStiffness: true, domain.FactVisualDisturbance: true,
	domain.FactNeurologicalSymptoms: true, domain.FactNonBlanchingRash: true,
	domain.FactPersistentVomiting: true, domain.FactImmunocompromised: true,
	domain.FactFever: true, domain.FactFainting: true, domain.FactFaceDroop: true,
	domain.FactArmWeakness: true, domain.FactMedications: true, domain.FactMedicalHistory: true,
}

func knownFactKey(key domain.FactKey) bool {
	return factVocabulary[key]
}
