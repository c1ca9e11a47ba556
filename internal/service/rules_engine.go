package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

// RulesEngine maps a reconciled fact record to a severity band and the set of
// triggered clinical warning flags. Evaluation is fully deterministic: a
// triggered flag always dominates the age/severity thresholds, so a patient
// with zero flags is never escalated to Red by age or severity alone.
type RulesEngine struct {
	logger *logrus.Logger
}

// NewRulesEngine creates a new rules engine
func NewRulesEngine(logger *logrus.Logger) *RulesEngine {
	return &RulesEngine{logger: logger}
}

// Evaluate computes the risk band, triggered flags and a deterministic
// summary for the given fact record.
func (e *RulesEngine) Evaluate(facts domain.FactRecord) domain.RulesResult {
	flags := e.collectGlobalFlags(facts)

	complaint := normalizeComplaint(facts)
	flags = append(flags, e.collectComplaintFlags(complaint, facts)...)

	band := e.determineBand(flags, facts)

	result := domain.RulesResult{
		Band:           band,
		TriggeredFlags: flags,
		Summary:        e.buildSummary(complaint, band, flags, facts),
	}
	if band == domain.BandGreen {
		result.Recommendations = selfCareRecommendations(complaint)
	}

	e.logger.WithFields(logrus.Fields{
		"band":       band,
		"flag_count": len(flags),
		"complaint":  complaint,
	}).Debug("Completed rules evaluation")

	return result
}

// collectGlobalFlags applies the complaint-independent predicates.
func (e *RulesEngine) collectGlobalFlags(facts domain.FactRecord) []string {
	var flags []string

	if b, ok := facts.Bool(domain.FactNewConfusion); ok && b {
		flags = append(flags, "New confusion")
	}
	if b, ok := facts.Bool(domain.FactSevereBleeding); ok && b {
		flags = append(flags, "Severe bleeding")
	}
	if sev, ok := facts.Number(domain.FactSeverityScore); ok && sev >= 9 {
		flags = append(flags, "Pain score 9 or above")
	}

	return flags
}

// collectComplaintFlags applies the predicate set keyed by the normalized
// presenting complaint. Unrecognized complaints add nothing.
func (e *RulesEngine) collectComplaintFlags(complaint string, facts domain.FactRecord) []string {
	var flags []string

	switch complaint {
	case "chest pain":
		if b, ok := facts.Bool(domain.FactShortnessOfBreath); ok && b {
			flags = append(flags, "Chest pain + SOB")
		}
		if b, ok := facts.Bool(domain.FactRadiatingPain); ok && b {
			flags = append(flags, "Radiating chest pain")
		}
		age, ageOK := facts.Number(domain.FactAge)
		sev, sevOK := facts.Number(domain.FactSeverityScore)
		if ageOK && sevOK && age > 50 && sev > 5 {
			flags = append(flags, "Age > 50 with moderate chest pain")
		}
		if b, ok := facts.Bool(domain.FactCardiacHistory); ok && b {
			flags = append(flags, "Cardiac history with chest pain")
		}
	case "shortness of breath":
		if b, ok := facts.Bool(domain.FactCyanosis); ok && b {
			flags = append(flags, "Cyanosis")
		}
		if b, ok := facts.Bool(domain.FactSpeechDifficulty); ok && b {
			flags = append(flags, "Unable to speak in full sentences")
		}
	case "abdominal pain":
		if b, ok := facts.Bool(domain.FactVomitingBlood); ok && b {
			flags = append(flags, "Vomiting blood")
		}
		if b, ok := facts.Bool(domain.FactRigidAbdomen); ok && b {
			flags = append(flags, "Rigid abdomen")
		}
		preg, pregOK := facts.Bool(domain.FactPregnancyPossible)
		bleed, bleedOK := facts.Bool(domain.FactSevereBleeding)
		if pregOK && bleedOK && preg && bleed {
			flags = append(flags, "Possible pregnancy with bleeding")
		}
	case "headache":
		if b, ok := facts.Bool(domain.FactThunderclap); ok && b {
			flags = append(flags, "Thunderclap headache")
		}
		if b, ok := facts.Bool(domain.FactNeckStiffness); ok && b {
			flags = append(flags, "Headache with neck stiffness")
		}
		if b, ok := facts.Bool(domain.FactVisualDisturbance); ok && b {
			flags = append(flags, "Headache with visual disturbance")
		}
	}

	return flags
}

// determineBand applies the total order of precedence: any flag wins, then
// severity/age thresholds, then Green.
func (e *RulesEngine) determineBand(flags []string, facts domain.FactRecord) domain.RiskBand {
	if len(flags) > 0 {
		return domain.BandRed
	}
	if sev, ok := facts.Number(domain.FactSeverityScore); ok && sev >= 6 {
		return domain.BandAmber
	}
	if age, ok := facts.Number(domain.FactAge); ok && age > 75 {
		return domain.BandAmber
	}
	return domain.BandGreen
}

// buildSummary renders the deterministic one-line summary. This text is never
// model-generated.
func (e *RulesEngine) buildSummary(complaint string, band domain.RiskBand, flags []string, facts domain.FactRecord) string {
	label := complaint
	if label == "" {
		label = "unspecified complaint"
	}

	parts := []string{fmt.Sprintf("Presenting with %s", label)}
	if sev, ok := facts.Number(domain.FactSeverityScore); ok {
		parts = append(parts, fmt.Sprintf("severity %d/10", int(sev)))
	}
	if age, ok := facts.Number(domain.FactAge); ok {
		parts = append(parts, fmt.Sprintf("age %d", int(age)))
	}

	line := strings.Join(parts, ", ") + fmt.Sprintf(". Triage band: %s.", band)
	if len(flags) > 0 {
		line += " Red flags: " + strings.Join(flags, "; ") + "."
	}
	return line
}

// selfCareRecommendations returns the static complaint-keyed advice list
// attached to Green outcomes. Each list carries exactly five items.
func selfCareRecommendations(complaint string) []string {
	switch complaint {
	case "chest pain":
		return []string{
			"Rest and avoid strenuous activity until reviewed",
			"Do not ignore worsening or spreading pain",
			"Avoid heavy meals, caffeine and smoking today",
			"Take paracetamol for muscular discomfort if needed",
			"Call 999 immediately if the pain becomes crushing or spreads to your arm or jaw",
		}
	case "shortness of breath":
		return []string{
			"Sit upright and try slow breathing through pursed lips",
			"Use your prescribed inhaler if you have one",
			"Avoid smoke, dust and other known triggers",
			"Rest and avoid exertion until reviewed",
			"Call 999 immediately if breathing becomes difficult at rest or your lips turn blue",
		}
	case "abdominal pain":
		return []string{
			"Sip clear fluids little and often",
			"Avoid solid food until the pain settles",
			"Use a covered warm compress for cramping pain",
			"Take paracetamol rather than ibuprofen for the pain",
			"Seek urgent help if the pain becomes severe, constant, or you vomit blood",
		}
	case "headache":
		return []string{
			"Rest in a quiet, darkened room",
			"Drink plenty of water; dehydration is a common trigger",
			"Take paracetamol or ibuprofen at the recommended dose",
			"Limit screen time until the headache settles",
			"Seek urgent help for a sudden severe headache, neck stiffness or visual loss",
		}
	case "fever":
		return []string{
			"Drink plenty of fluids to stay hydrated",
			"Take paracetamol to bring your temperature down",
			"Rest and keep the room comfortably cool",
			"Check your temperature every few hours",
			"Seek urgent help for a rash that does not fade under pressure, stiff neck or confusion",
		}
	default:
		return []string{
			"Rest and monitor your symptoms",
			"Stay hydrated",
			"Take over-the-counter pain relief as directed if needed",
			"Keep a note of any new or changing symptoms",
			"Contact your GP or call 111 if symptoms worsen or do not settle",
		}
	}
}

// normalizeComplaint lower-cases and trims the presenting complaint fact for
// exact matching against the complaint-specific predicate sets.
func normalizeComplaint(facts domain.FactRecord) string {
	s, ok := facts.String(domain.FactPresentingComplaint)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}
