package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/triage-intake-server/internal/domain"
)

// emergencyKeywords is the fixed list scanned against every raw patient
// input before any stage logic runs. A match transitions straight to the
// escalated terminal stage.
var emergencyKeywords = []string{
	"severe chest pain",
	"crushing chest pain",
	"can't breathe",
	"cant breathe",
	"cannot breathe",
	"struggling to breathe",
	"blue lips",
	"lips are blue",
	"collapsed",
	"passed out",
	"fainting",
	"fainted",
	"confused",
	"confusion",
	"seizure",
	"fitting",
	"convulsion",
	"worst headache",
	"purple rash",
	"non-blanching rash",
	"rash that doesn't fade",
	"heavy bleeding",
	"bleeding heavily",
	"won't stop bleeding",
	"unconscious",
	"not responding",
}

// emergencyPairs are conjunctive keyword pairs: both substrings must appear.
var emergencyPairs = [][2]string{
	{"stiff neck", "fever"},
	{"stiff neck", "temperature"},
}

// matchesEmergency scans raw input for the fixed emergency keyword list.
func matchesEmergency(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, pair := range emergencyPairs {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return true
		}
	}
	return false
}

var (
	yesWords = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yea": true,
		"correct": true, "definitely": true, "absolutely": true, "sure": true,
	}
	noWords = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "none": true,
		"never": true,
	}
	tokenPattern = regexp.MustCompile(`[a-z']+`)
	digitRun     = regexp.MustCompile(`\d+`)
)

// parseYesNo matches the input against the yes/no lexicon. Inputs containing
// both polarities are rejected rather than guessed at.
func parseYesNo(input string) (bool, bool) {
	lower := strings.ToLower(input)
	tokens := tokenPattern.FindAllString(lower, -1)

	sawYes, sawNo := false, false
	for _, tok := range tokens {
		if yesWords[tok] {
			sawYes = true
		}
		if noWords[tok] {
			sawNo = true
		}
	}
	// "not really", "don't think so" style answers.
	if strings.Contains(lower, "not really") || strings.Contains(lower, "don't think") || strings.Contains(lower, "dont think") {
		sawNo = true
	}

	if sawYes == sawNo {
		return false, false
	}
	return sawYes, true
}

// parseInteger extracts the first digit run within [min,max].
func parseInteger(input string, min, max int) (int, bool) {
	match := digitRun.FindString(input)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

// complaintKeywords maps the fixed complaint vocabulary to its match terms,
// checked in order so that more specific complaints win.
var complaintKeywords = []struct {
	complaint string
	terms     []string
}{
	{"chest pain", []string{"chest"}},
	{"shortness of breath", []string{"breath", "breathing", "breathless", "wheez"}},
	{"abdominal pain", []string{"abdomen", "abdominal", "stomach", "belly", "tummy"}},
	{"headache", []string{"headache", "migraine", "head hurts", "head is pounding"}},
	{"fever", []string{"fever", "feverish", "high temperature", "temperature", "chills", "shivering"}},
}

// parseComplaint matches free text against the fixed complaint vocabulary
// plus fallback keyword heuristics. Unrecognized input is kept verbatim when
// long enough to be a plausible description.
func parseComplaint(input string) (string, bool) {
	lower := strings.ToLower(input)
	for _, ck := range complaintKeywords {
		for _, term := range ck.terms {
			if strings.Contains(lower, term) {
				return ck.complaint, true
			}
		}
	}
	// Fallback heuristic: "pain in my head" style phrasing.
	if strings.Contains(lower, "pain") && strings.Contains(lower, "head") {
		return "headache", true
	}
	trimmed := strings.TrimSpace(input)
	if len(trimmed) >= 8 {
		return strings.ToLower(trimmed), true
	}
	return "", false
}

// parseFreeText accepts input above a minimum length, trimmed.
func parseFreeText(input string, minLen int) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) < minLen {
		return "", false
	}
	return trimmed, true
}

// parseTrend maps the trend answer onto better/worse/same.
func parseTrend(input string) (string, bool) {
	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "better") || strings.Contains(lower, "improv") || strings.Contains(lower, "easing"):
		return "better", true
	case strings.Contains(lower, "worse") || strings.Contains(lower, "worsen") || strings.Contains(lower, "bad"):
		return "worse", true
	case strings.Contains(lower, "same") || strings.Contains(lower, "no change") || strings.Contains(lower, "steady"):
		return "same", true
	}
	return "", false
}

// fallbackCategory selects a fallback-prompt ladder. It is resolved per stage
// at table construction, never derived from the stage name at runtime.
type fallbackCategory int

const (
	fallbackComplaint fallbackCategory = iota
	fallbackFreeText
	fallbackYesNo
	fallbackSeverity
	fallbackAge
	fallbackTrend
	fallbackName
	fallbackConfirm
)

// fallbackPrompts holds the three-tier escalating ladders, keyed by retry
// count 0 / 1 / 2+.
var fallbackPrompts = map[fallbackCategory][3]string{
	fallbackComplaint: {
		"Sorry, I didn't catch that. Could you tell me a bit more about what's troubling you?",
		"I need to know your main symptom. For example: chest pain, shortness of breath, abdominal pain, headache, or fever. Which is closest?",
		"Please type just your main symptom, for example \"chest pain\" or \"headache\".",
	},
	fallbackFreeText: {
		"Could you describe that in a few words?",
		"Even a short answer helps, for example \"left side\" or \"since yesterday\".",
		"Please type a short description, a few words is enough.",
	},
	fallbackYesNo: {
		"Sorry, was that a yes or a no?",
		"Please answer with \"yes\" or \"no\".",
		"Please type exactly \"yes\" or \"no\".",
	},
	fallbackSeverity: {
		"Could you give me a number for the pain, from 0 to 10?",
		"0 means no pain and 10 is the worst pain imaginable. What number fits best?",
		"Please type a single number between 0 and 10.",
	},
	fallbackAge: {
		"Could you tell me your age in years?",
		"I just need a number, for example \"42\".",
		"Please type your age as a number.",
	},
	fallbackTrend: {
		"Would you say it's getting better, worse, or staying the same?",
		"Please choose one: better, worse, or the same.",
		"Please type exactly one of: \"better\", \"worse\", \"same\".",
	},
	fallbackName: {
		"Sorry, I didn't catch your name. What name should the doctor use?",
		"Please type your full name.",
		"I do need a name to pass to the doctor. Please type at least your first name.",
	},
	fallbackConfirm: {
		"Is that summary correct? Yes or no?",
		"Please answer \"yes\" if the summary is right, or \"no\" to start again.",
		"Please type exactly \"yes\" or \"no\".",
	},
}

// fallbackPrompt returns the ladder entry for the given retry count.
func fallbackPrompt(cat fallbackCategory, retryCount int) string {
	ladder := fallbackPrompts[cat]
	if retryCount <= 0 {
		return ladder[0]
	}
	if retryCount == 1 {
		return ladder[1]
	}
	return ladder[2]
}

// redFlagField describes one complaint-specific yes/no follow-up. Escalate
// marks the designated fields where a "yes" ends the conversation
// immediately regardless of severity.
type redFlagField struct {
	name     string
	question string
	escalate bool
	get      func(s *domain.ChatState) **bool
}

// complaintRedFlags is the fixed per-complaint question list. Complaints
// outside the vocabulary get an empty list and skip the loop entirely.
var complaintRedFlags = map[string][]redFlagField{
	"chest pain": {
		{"radiating_pain", "Does the pain spread to your arm, neck or jaw?", false,
			func(s *domain.ChatState) **bool { return &s.RadiatingPain }},
		{"sweating", "Are you sweating or feeling sick with it?", false,
			func(s *domain.ChatState) **bool { return &s.Sweating }},
		{"cardiac_history", "Do you have a history of heart problems?", false,
			func(s *domain.ChatState) **bool { return &s.CardiacHistory }},
	},
	"shortness of breath": {
		{"cyanosis", "Have your lips or face turned blue at all?", false,
			func(s *domain.ChatState) **bool { return &s.Cyanosis }},
		{"speaking_difficulty", "Are you too breathless to speak in full sentences?", false,
			func(s *domain.ChatState) **bool { return &s.SpeakingDifficulty }},
		{"coughing_blood", "Have you coughed up any blood?", true,
			func(s *domain.ChatState) **bool { return &s.CoughingBlood }},
	},
	"abdominal pain": {
		{"vomiting_blood", "Have you vomited any blood?", true,
			func(s *domain.ChatState) **bool { return &s.VomitingBlood }},
		{"rigid_abdomen", "Does your tummy feel rigid or hard to the touch?", false,
			func(s *domain.ChatState) **bool { return &s.RigidAbdomen }},
		{"bloody_stools", "Have you passed any blood in your stool?", true,
			func(s *domain.ChatState) **bool { return &s.BloodyStools }},
		{"pregnancy_possible", "Is there any chance you could be pregnant?", false,
			func(s *domain.ChatState) **bool { return &s.PregnancyPossible }},
	},
	"headache": {
		{"thunderclap", "Did it come on suddenly, reaching its worst within a minute?", true,
			func(s *domain.ChatState) **bool { return &s.Thunderclap }},
		{"neck_stiffness", "Is your neck stiff?", false,
			func(s *domain.ChatState) **bool { return &s.NeckStiffness }},
		{"visual_disturbance", "Have you noticed any changes to your vision?", false,
			func(s *domain.ChatState) **bool { return &s.VisualDisturbance }},
		{"neurological_symptoms", "Any weakness, numbness, or trouble speaking?", true,
			func(s *domain.ChatState) **bool { return &s.NeurologicalSymptoms }},
		{"non_blanching_rash", "Do you have a rash that does not fade when pressed?", true,
			func(s *domain.ChatState) **bool { return &s.NonBlanchingRash }},
	},
	"fever": {
		{"non_blanching_rash", "Do you have a rash that does not fade when pressed?", true,
			func(s *domain.ChatState) **bool { return &s.NonBlanchingRash }},
		{"neck_stiffness", "Is your neck stiff?", false,
			func(s *domain.ChatState) **bool { return &s.NeckStiffness }},
		{"persistent_vomiting", "Have you been vomiting repeatedly?", false,
			func(s *domain.ChatState) **bool { return &s.PersistentVomiting }},
		{"immunocompromised", "Do you have a weakened immune system, for example from chemotherapy?", false,
			func(s *domain.ChatState) **bool { return &s.Immunocompromised }},
	},
}

// pendingRedFlag returns the first unanswered red-flag field for the
// complaint, or nil when the loop is finished.
func pendingRedFlag(state *domain.ChatState) *redFlagField {
	fields := complaintRedFlags[strings.ToLower(strings.TrimSpace(state.Complaint))]
	for i := range fields {
		if *fields[i].get(state) == nil {
			return &fields[i]
		}
	}
	return nil
}
