package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

const (
	maxRetries   = 3
	maxFollowups = 3
)

const escalationMessage = "Your answers suggest this may be an emergency. Please call 999 now, " +
	"or go to your nearest A&E department immediately. Do not wait to finish this assessment."

const safetyNetMessage = "If your symptoms get worse at any point, call 111, or 999 in an emergency."

const conversationClosedMessage = "This conversation has finished. Please start a new session if you need further help."

// stageSpec binds one stage to its prompt, parser, fallback ladder and
// transition. The table is built once at construction; there is no runtime
// dispatch on stage-name strings.
type stageSpec struct {
	question   func(state *domain.ChatState) string
	parse      func(input string, state *domain.ChatState) bool
	fallback   fallbackCategory
	next       func(state *domain.ChatState) domain.Stage
	forcedNext domain.Stage
	// afterParse runs after a successful parse and reports whether the
	// answer forces an emergency escalation.
	afterParse func(state *domain.ChatState) bool
}

// DialogueService is the finite-state controller that walks a patient
// through the intake sequence. It is a pure function of its inputs except
// for the generator and retriever collaborators; both are fallible and
// every call site carries a deterministic fallback so the conversation can
// always proceed without them.
type DialogueService struct {
	logger    *logrus.Logger
	generator domain.TextGenerator
	retriever domain.Retriever
	rules     *RulesEngine
	facts     *FactService
	cfg       *domain.GeneratorConfig
	table     map[domain.Stage]stageSpec
}

// NewDialogueService creates the dialogue state machine.
func NewDialogueService(
	generator domain.TextGenerator,
	retriever domain.Retriever,
	rules *RulesEngine,
	facts *FactService,
	cfg *domain.GeneratorConfig,
	logger *logrus.Logger,
) *DialogueService {
	s := &DialogueService{
		logger:    logger,
		generator: generator,
		retriever: retriever,
		rules:     rules,
		facts:     facts,
		cfg:       cfg,
	}
	s.table = s.buildStageTable()
	return s
}

// OpeningMessage is the assistant's first message of a new session.
func (s *DialogueService) OpeningMessage() string {
	return s.table[domain.StageOpening].question(&domain.ChatState{})
}

// Advance processes one patient turn. The emergency keyword scan dominates
// everything else and runs on every turn, not only during danger stages.
func (s *DialogueService) Advance(
	ctx context.Context,
	input string,
	history []domain.Message,
	state domain.ChatState,
	stage domain.Stage,
	retryCount int,
) domain.AdvanceResult {
	if stage.IsTerminal() {
		return domain.AdvanceResult{
			State: state, Stage: stage, Response: conversationClosedMessage,
			IsEscalation: stage == domain.StageEscalated, IsComplete: true, RetryCount: retryCount,
		}
	}

	if matchesEmergency(input) {
		s.logger.WithField("stage", stage).Warn("Emergency keyword detected, escalating")
		return s.escalate(state)
	}

	if stage == domain.StageSummary {
		return s.advanceSummary(ctx, input, history, state, retryCount)
	}

	spec, ok := s.table[stage]
	if !ok {
		// Unknown stage should be unreachable; recover by restarting.
		s.logger.WithField("stage", stage).Error("Unknown dialogue stage, restarting conversation")
		fresh := domain.ChatState{}
		return domain.AdvanceResult{
			State: fresh, Stage: domain.StageOpening,
			Response: s.table[domain.StageOpening].question(&fresh), RetryCount: 0,
		}
	}

	parsed := spec.parse(input, &state)

	if parsed {
		if spec.afterParse != nil && spec.afterParse(&state) {
			return s.escalate(state)
		}
		nextStage, response := s.promptFor(ctx, spec.next(&state), &state, history)
		return s.transition(state, nextStage, response)
	}

	// Retry ceiling: after three consecutive failures the stage is skipped
	// with whatever partial state exists. Name collection is exempt; the
	// handoff needs a name.
	if retryCount >= maxRetries && stage != domain.StageCollectName {
		s.logger.WithFields(logrus.Fields{
			"stage":        stage,
			"input_length": len(input),
		}).Warn("Retry ceiling reached, forcing advance with partial data")
		nextStage, response := s.promptFor(ctx, spec.forcedNext, &state, history)
		return s.transition(state, nextStage, response)
	}

	return domain.AdvanceResult{
		State:      state,
		Stage:      stage,
		Response:   fallbackPrompt(spec.fallback, retryCount),
		RetryCount: retryCount + 1,
	}
}

// transition finalizes a successful or forced stage change.
func (s *DialogueService) transition(state domain.ChatState, stage domain.Stage, response string) domain.AdvanceResult {
	result := domain.AdvanceResult{
		State:      state,
		Stage:      stage,
		Response:   response,
		RetryCount: 0,
	}
	if stage == domain.StageEscalated {
		result.IsEscalation = true
		result.IsComplete = true
		result.Response = escalationMessage
	}
	return result
}

// escalate builds the terminal emergency result.
func (s *DialogueService) escalate(state domain.ChatState) domain.AdvanceResult {
	return domain.AdvanceResult{
		State:        state,
		Stage:        domain.StageEscalated,
		Response:     escalationMessage,
		IsEscalation: true,
		IsComplete:   true,
		RetryCount:   0,
	}
}

// promptFor resolves the next askable stage and its question text, skipping
// loop stages that have nothing left to ask. The loop terminates because
// every skip moves strictly forward in the fixed sequence.
func (s *DialogueService) promptFor(ctx context.Context, stage domain.Stage, state *domain.ChatState, history []domain.Message) (domain.Stage, string) {
	for {
		switch stage {
		case domain.StageRedFlags:
			if field := pendingRedFlag(state); field != nil {
				return stage, s.phrase(ctx, history, field.question)
			}
			stage = domain.StageRAGFollowup
		case domain.StageRAGFollowup:
			if state.FollowupCount >= maxFollowups {
				stage = domain.StageContextAge
				continue
			}
			question := s.followupQuestion(ctx, state, history)
			if question == "" {
				stage = domain.StageContextAge
				continue
			}
			state.PendingFollowup = question
			return stage, question
		case domain.StageSummary:
			return stage, s.renderSummary(state)
		default:
			return stage, s.phrase(ctx, history, s.table[stage].question(state))
		}
	}
}

// phrase asks the generator to put the fixed question in its own words. Any
// failure falls back to the deterministic text.
func (s *DialogueService) phrase(ctx context.Context, history []domain.Message, fixed string) string {
	if s.generator == nil {
		return fixed
	}
	system := "You are a calm, friendly medical intake assistant. Rephrase the question below " +
		"naturally for the patient, keeping its exact meaning. Ask exactly one question and " +
		"nothing else.\nQuestion: " + fixed
	out, err := s.generator.Generate(ctx, system, history, s.cfg.DialogueMaxTokens, s.cfg.NarrativeTemperature)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			s.logger.WithError(err).Debug("Question phrasing failed, using fixed text")
		}
		return fixed
	}
	return strings.TrimSpace(out)
}

// followupQuestion builds one retrieval-augmented follow-up. An empty return
// means there is no relevant guidance and the loop should be skipped.
func (s *DialogueService) followupQuestion(ctx context.Context, state *domain.ChatState, history []domain.Message) string {
	if s.retriever == nil {
		return ""
	}

	chunks := s.retriever.RetrieveRelevantChunks(state.Complaint, positiveSymptoms(state), nil)
	if len(chunks) == 0 {
		return ""
	}

	fallback := fmt.Sprintf("Thinking about %s, is there anything else you've noticed that we haven't covered?",
		strings.ToLower(chunks[0].SourceTitle))

	if s.generator == nil {
		return fallback
	}

	var guidance strings.Builder
	for _, c := range chunks {
		guidance.WriteString(fmt.Sprintf("- %s: %s\n", c.SourceTitle, c.Content))
	}
	system := "You are a medical intake assistant. Using ONLY the guidance excerpts below, ask the " +
		"patient one short, natural follow-up question relevant to their complaint. Never diagnose, " +
		"never give advice, ask exactly one question.\nGuidance:\n" + guidance.String()

	out, err := s.generator.Generate(ctx, system, history, s.cfg.DialogueMaxTokens, s.cfg.NarrativeTemperature)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			s.logger.WithError(err).Debug("Follow-up phrasing failed, using fixed text")
		}
		return fallback
	}
	return strings.TrimSpace(out)
}

// advanceSummary handles the confirmation stage: yes completes, no resets
// everything and restarts at the opening, anything else retries.
func (s *DialogueService) advanceSummary(ctx context.Context, input string, history []domain.Message, state domain.ChatState, retryCount int) domain.AdvanceResult {
	confirmed, ok := parseYesNo(input)

	if !ok {
		if retryCount >= maxRetries {
			// Ceiling applies here like any non-name stage: treat the
			// unconfirmable summary as accepted and close out.
			s.logger.Warn("Summary confirmation retry ceiling reached, completing with unconfirmed summary")
			return s.complete(state)
		}
		return domain.AdvanceResult{
			State:      state,
			Stage:      domain.StageSummary,
			Response:   fallbackPrompt(fallbackConfirm, retryCount),
			RetryCount: retryCount + 1,
		}
	}

	if !confirmed {
		fresh := domain.ChatState{}
		_, response := s.promptFor(ctx, domain.StageOpening, &fresh, history)
		return domain.AdvanceResult{
			State:      fresh,
			Stage:      domain.StageOpening,
			Response:   "No problem, let's start again from the beginning. " + response,
			RetryCount: 0,
		}
	}

	return s.complete(state)
}

// complete closes the session with a band-appropriate closing message.
func (s *DialogueService) complete(state domain.ChatState) domain.AdvanceResult {
	facts := s.facts.Project(state)
	rules := s.rules.Evaluate(facts)

	name := ""
	if state.PatientName != "" {
		name = ", " + state.PatientName
	}

	var message string
	switch rules.Band {
	case domain.BandRed:
		message = fmt.Sprintf("Thank you%s. Based on your answers you should be seen urgently today. "+
			"Please contact your GP surgery now and tell them your symptoms, or call 111 if the surgery is closed.", name)
	case domain.BandAmber:
		message = fmt.Sprintf("Thank you%s. Based on your answers you should arrange to be seen within the next 24 hours. "+
			"Please contact your GP surgery, or call 111 if it is closed.", name)
	default:
		advice := strings.Join(rules.Recommendations, "; ")
		message = fmt.Sprintf("Thank you%s. Your answers suggest a routine appointment is appropriate. "+
			"In the meantime: %s.", name, strings.ToLower(advice[:1])+advice[1:])
	}

	return domain.AdvanceResult{
		State:      state,
		Stage:      domain.StageComplete,
		Response:   message + " " + safetyNetMessage,
		IsComplete: true,
		RetryCount: 0,
	}
}

// renderSummary builds the deterministic recap shown before confirmation.
func (s *DialogueService) renderSummary(state *domain.ChatState) string {
	var parts []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", label, value))
		}
	}

	add("Main problem", state.Complaint)
	add("Location", state.Location)
	add("Started", state.Onset)
	add("Trend", state.Trend)
	if state.Severity != nil {
		add("Severity", fmt.Sprintf("%d/10", *state.Severity))
	}
	if state.Age != nil {
		add("Age", fmt.Sprintf("%d", *state.Age))
	}
	add("Medications", state.Medications)
	add("Medical history", state.MedicalHistory)
	add("Name", state.PatientName)

	return "Here is what I have noted. " + strings.Join(parts, "; ") +
		". Is this correct? Please answer yes or no."
}

// positiveSymptoms lists the affirmative symptom fields for retrieval.
func positiveSymptoms(state *domain.ChatState) []string {
	var flags []string
	add := func(name string, v *bool) {
		if v != nil && *v {
			flags = append(flags, name)
		}
	}
	add("trouble breathing", state.TroubleBreathing)
	add("collapse", state.Collapsed)
	add("severe pain", state.SeverePain)
	add("bleeding", state.Bleeding)
	add("confusion", state.Confusion)
	add("radiating pain", state.RadiatingPain)
	add("sweating", state.Sweating)
	add("neck stiffness", state.NeckStiffness)
	add("visual disturbance", state.VisualDisturbance)
	add("rigid abdomen", state.RigidAbdomen)
	return flags
}

// buildStageTable wires every stage to its prompt, parser, fallback ladder
// and transition. Fallback categories are fixed here, at construction time.
func (s *DialogueService) buildStageTable() map[domain.Stage]stageSpec {
	linear := func(next domain.Stage) func(*domain.ChatState) domain.Stage {
		return func(*domain.ChatState) domain.Stage { return next }
	}
	boolSetter := func(get func(*domain.ChatState) **bool) func(string, *domain.ChatState) bool {
		return func(input string, state *domain.ChatState) bool {
			v, ok := parseYesNo(input)
			if !ok {
				return false
			}
			*get(state) = &v
			return true
		}
	}
	escalateOnYes := func(get func(*domain.ChatState) **bool) func(*domain.ChatState) bool {
		return func(state *domain.ChatState) bool {
			v := *get(state)
			return v != nil && *v
		}
	}
	textSetter := func(set func(*domain.ChatState, string), fallbackValue string) func(string, *domain.ChatState) bool {
		return func(input string, state *domain.ChatState) bool {
			text, ok := parseFreeText(input, 2)
			if !ok {
				text = fallbackValue
			}
			set(state, text)
			return true
		}
	}

	return map[domain.Stage]stageSpec{
		domain.StageOpening: {
			question: func(*domain.ChatState) string {
				return "Hello, I'm the intake assistant for the surgery. I'll ask a few questions so the " +
					"clinical team can help you faster. What is the main problem you'd like help with today?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				complaint, ok := parseComplaint(input)
				if !ok {
					return false
				}
				state.Complaint = complaint
				return true
			},
			fallback:   fallbackComplaint,
			next:       linear(domain.StageLocalisation),
			forcedNext: domain.StageLocalisation,
		},
		domain.StageLocalisation: {
			question: func(*domain.ChatState) string {
				return "Where exactly do you feel it? Please describe the location."
			},
			parse: func(input string, state *domain.ChatState) bool {
				text, ok := parseFreeText(input, 3)
				if !ok {
					return false
				}
				state.Location = text
				return true
			},
			fallback:   fallbackFreeText,
			next:       linear(domain.StageTimeStart),
			forcedNext: domain.StageTimeStart,
		},
		domain.StageTimeStart: {
			question: func(*domain.ChatState) string {
				return "When did it start?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				text, ok := parseFreeText(input, 3)
				if !ok {
					return false
				}
				state.Onset = text
				return true
			},
			fallback:   fallbackFreeText,
			next:       linear(domain.StageTimeTrend),
			forcedNext: domain.StageTimeTrend,
		},
		domain.StageTimeTrend: {
			question: func(*domain.ChatState) string {
				return "Since it started, is it getting better, worse, or staying the same?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				trend, ok := parseTrend(input)
				if !ok {
					return false
				}
				state.Trend = trend
				return true
			},
			fallback:   fallbackTrend,
			next:       linear(domain.StageSeverity),
			forcedNext: domain.StageSeverity,
		},
		domain.StageSeverity: {
			question: func(*domain.ChatState) string {
				return "On a scale of 0 to 10, where 10 is the worst imaginable, how bad is it right now?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				n, ok := parseInteger(input, 0, 10)
				if !ok {
					return false
				}
				state.Severity = &n
				return true
			},
			fallback:   fallbackSeverity,
			next:       linear(domain.StageDangerBreathing),
			forcedNext: domain.StageDangerBreathing,
		},
		domain.StageDangerBreathing: {
			question: func(*domain.ChatState) string {
				return "Are you having any trouble breathing right now?"
			},
			parse:      boolSetter(func(st *domain.ChatState) **bool { return &st.TroubleBreathing }),
			fallback:   fallbackYesNo,
			next:       linear(domain.StageDangerCollapse),
			forcedNext: domain.StageDangerCollapse,
			afterParse: escalateOnYes(func(st *domain.ChatState) **bool { return &st.TroubleBreathing }),
		},
		domain.StageDangerCollapse: {
			question: func(*domain.ChatState) string {
				return "Have you collapsed or fainted at any point?"
			},
			parse:      boolSetter(func(st *domain.ChatState) **bool { return &st.Collapsed }),
			fallback:   fallbackYesNo,
			next:       linear(domain.StageDangerSeverePain),
			forcedNext: domain.StageDangerSeverePain,
			afterParse: escalateOnYes(func(st *domain.ChatState) **bool { return &st.Collapsed }),
		},
		domain.StageDangerSeverePain: {
			question: func(*domain.ChatState) string {
				return "Is the pain so severe that you cannot carry on as normal?"
			},
			parse:      boolSetter(func(st *domain.ChatState) **bool { return &st.SeverePain }),
			fallback:   fallbackYesNo,
			next:       linear(domain.StageDangerBleeding),
			forcedNext: domain.StageDangerBleeding,
			// Severe pain escalates only together with a stored severity of
			// 8 or more.
			afterParse: func(st *domain.ChatState) bool {
				return st.SeverePain != nil && *st.SeverePain && st.Severity != nil && *st.Severity >= 8
			},
		},
		domain.StageDangerBleeding: {
			question: func(*domain.ChatState) string {
				return "Do you have any heavy bleeding?"
			},
			parse:      boolSetter(func(st *domain.ChatState) **bool { return &st.Bleeding }),
			fallback:   fallbackYesNo,
			next:       linear(domain.StageDangerConfusion),
			forcedNext: domain.StageDangerConfusion,
			afterParse: escalateOnYes(func(st *domain.ChatState) **bool { return &st.Bleeding }),
		},
		domain.StageDangerConfusion: {
			question: func(*domain.ChatState) string {
				return "Have you, or anyone with you, noticed new confusion or disorientation?"
			},
			parse:      boolSetter(func(st *domain.ChatState) **bool { return &st.Confusion }),
			fallback:   fallbackYesNo,
			next:       linear(domain.StageRedFlags),
			forcedNext: domain.StageRedFlags,
			afterParse: escalateOnYes(func(st *domain.ChatState) **bool { return &st.Confusion }),
		},
		domain.StageRedFlags: {
			question: func(state *domain.ChatState) string {
				if field := pendingRedFlag(state); field != nil {
					return field.question
				}
				return ""
			},
			parse: func(input string, state *domain.ChatState) bool {
				field := pendingRedFlag(state)
				if field == nil {
					return true
				}
				v, ok := parseYesNo(input)
				if !ok {
					return false
				}
				*field.get(state) = &v
				return true
			},
			fallback: fallbackYesNo,
			next: func(state *domain.ChatState) domain.Stage {
				return domain.StageRedFlags
			},
			forcedNext: domain.StageRAGFollowup,
			afterParse: func(state *domain.ChatState) bool {
				// The designated escalation fields end the conversation on
				// "yes" regardless of severity.
				for complaint, fields := range complaintRedFlags {
					if complaint != strings.ToLower(strings.TrimSpace(state.Complaint)) {
						continue
					}
					for i := range fields {
						v := *fields[i].get(state)
						if fields[i].escalate && v != nil && *v {
							return true
						}
					}
				}
				return false
			},
		},
		domain.StageRAGFollowup: {
			question: func(state *domain.ChatState) string {
				return state.PendingFollowup
			},
			parse: func(input string, state *domain.ChatState) bool {
				answer, ok := parseFreeText(input, 1)
				if !ok {
					return false
				}
				state.Followups = append(state.Followups, domain.FollowupAnswer{
					Question: state.PendingFollowup,
					Answer:   answer,
				})
				state.FollowupCount++
				state.PendingFollowup = ""
				return true
			},
			fallback: fallbackFreeText,
			next: func(state *domain.ChatState) domain.Stage {
				return domain.StageRAGFollowup
			},
			forcedNext: domain.StageContextAge,
		},
		domain.StageContextAge: {
			question: func(*domain.ChatState) string {
				return "How old are you?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				n, ok := parseInteger(input, 0, 119)
				if !ok {
					return false
				}
				state.Age = &n
				return true
			},
			fallback:   fallbackAge,
			next:       linear(domain.StageContextMedications),
			forcedNext: domain.StageContextMedications,
		},
		domain.StageContextMedications: {
			question: func(*domain.ChatState) string {
				return "Are you taking any medications at the moment? If so, which ones?"
			},
			parse:      textSetter(func(st *domain.ChatState, v string) { st.Medications = v }, "None reported"),
			fallback:   fallbackFreeText,
			next:       linear(domain.StageContextHistory),
			forcedNext: domain.StageContextHistory,
		},
		domain.StageContextHistory: {
			question: func(*domain.ChatState) string {
				return "Do you have any medical conditions or allergies the doctor should know about?"
			},
			parse:      textSetter(func(st *domain.ChatState, v string) { st.MedicalHistory = v }, "None reported"),
			fallback:   fallbackFreeText,
			next:       linear(domain.StageFunctionalEating),
			forcedNext: domain.StageFunctionalEating,
		},
		domain.StageFunctionalEating: {
			question: func(*domain.ChatState) string {
				return "Have you been able to eat and drink normally?"
			},
			parse:      textSetter(func(st *domain.ChatState, v string) { st.EatingDrinking = v }, "None"),
			fallback:   fallbackFreeText,
			next:       linear(domain.StageFunctionalMobility),
			forcedNext: domain.StageFunctionalMobility,
		},
		domain.StageFunctionalMobility: {
			question: func(*domain.ChatState) string {
				return "Are you able to move around as you usually would?"
			},
			parse:      textSetter(func(st *domain.ChatState, v string) { st.Mobility = v }, "None"),
			fallback:   fallbackFreeText,
			next:       linear(domain.StageFunctionalSleep),
			forcedNext: domain.StageFunctionalSleep,
		},
		domain.StageFunctionalSleep: {
			question: func(*domain.ChatState) string {
				return "Is this affecting your sleep?"
			},
			parse:      textSetter(func(st *domain.ChatState, v string) { st.SleepImpact = v }, "None"),
			fallback:   fallbackFreeText,
			next:       linear(domain.StageCollectName),
			forcedNext: domain.StageCollectName,
		},
		domain.StageCollectName: {
			question: func(*domain.ChatState) string {
				return "Lastly, may I take your full name for the doctor?"
			},
			parse: func(input string, state *domain.ChatState) bool {
				name, ok := parseFreeText(input, 2)
				if !ok {
					return false
				}
				state.PatientName = name
				return true
			},
			fallback:   fallbackName,
			next:       linear(domain.StageSummary),
			forcedNext: domain.StageSummary,
		},
	}
}
