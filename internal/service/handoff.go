package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

const narrativeSystemPrompt = `You write clinical handoff summaries for a GP practice from completed patient intake conversations.
Rules:
- Base every statement strictly on the facts provided. Never invent symptoms, history or findings.
- Keep the reception summary to two sentences in plain, non-alarming language.
- suggested_category must be one of RED, AMBER, GREEN and is advisory only.
Respond with a single JSON object:
{"presenting_complaint":"...","key_positives":["..."],"key_negatives":["..."],"suggested_category":"RED|AMBER|GREEN","confidence":0-100,"differentials":["..."],"consultation_focus":["..."],"reception_summary":"..."}`

// HandoffService assembles the fixed-schema handoff document for a completed
// session. Assembly never fails: if the narrative generator is unavailable or
// returns garbage, the document is built entirely from deterministic sources
// and marked degraded.
type HandoffService struct {
	logger     *logrus.Logger
	generator  domain.TextGenerator
	facts      *FactService
	rules      *RulesEngine
	redFlags   *RedFlagEvaluator
	divergence domain.DivergenceRecorder
	maxTokens  int
	temp       float32
}

// NewHandoffService creates the handoff assembler.
func NewHandoffService(
	generator domain.TextGenerator,
	facts *FactService,
	rules *RulesEngine,
	redFlags *RedFlagEvaluator,
	divergence domain.DivergenceRecorder,
	cfg *domain.GeneratorConfig,
	logger *logrus.Logger,
) *HandoffService {
	return &HandoffService{
		logger:     logger,
		generator:  generator,
		facts:      facts,
		rules:      rules,
		redFlags:   redFlags,
		divergence: divergence,
		maxTokens:  cfg.NarrativeMaxTokens,
		temp:       cfg.NarrativeTemperature,
	}
}

// Assemble builds the handoff document for a completed session. The
// rules-engine category is evaluated over the deterministic projection alone,
// with the same escalation override the submission applies, so the document
// always carries the band the patient was told. Model-extracted facts feed
// only the narrative and the red-flag display.
func (s *HandoffService) Assemble(ctx context.Context, session *domain.Session, submission *domain.Submission) *domain.HandoffDocument {
	rules := s.rules.Evaluate(s.facts.Project(session.State))
	if session.Status == domain.SessionEscalated {
		rules.Band = domain.BandRed
		rules.Recommendations = nil
	}

	facts, divergences := s.facts.Extract(ctx, session.ID, session.Messages, session.State)
	s.recordDivergences(ctx, divergences)

	flagResult := s.redFlags.Evaluate(facts)

	doc := &domain.HandoffDocument{
		SubmissionID:         submission.ID,
		SessionID:            session.ID,
		PatientName:          session.State.PatientName,
		PresentingComplaint:  session.State.Complaint,
		Location:             session.State.Location,
		Onset:                session.State.Onset,
		Trend:                session.State.Trend,
		SeverityScore:        session.State.Severity,
		Age:                  session.State.Age,
		RedFlagsTriggered:    flagResult.Triggered,
		RedFlagsNotTriggered: flagResult.NotTriggered,
		RedFlagsNotAssessed:  flagResult.NotAssessed,
		RulesEngineCategory:  rules.Band,
		SelfCareAdvice:       rules.Recommendations,
		GeneratedAt:          time.Now().UTC(),
	}

	narrative, err := s.generateNarrative(ctx, facts, rules, flagResult)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID).Warn("Narrative generation failed, building degraded handoff")
		s.applyDeterministicNarrative(doc, facts, rules)
		return doc
	}

	doc.KeyPositives = narrative.KeyPositives
	doc.KeyNegatives = narrative.KeyNegatives
	doc.AISuggestedCategory = narrative.SuggestedCategory
	doc.AIConfidence = narrative.Confidence
	doc.Differentials = narrative.Differentials
	doc.ConsultationFocus = narrative.ConsultationFocus
	doc.ReceptionSummary = narrative.ReceptionSummary

	if narrative.PresentingComplaint != "" && doc.PresentingComplaint == "" {
		doc.PresentingComplaint = narrative.PresentingComplaint
	}
	if strings.TrimSpace(doc.ReceptionSummary) == "" {
		doc.ReceptionSummary = rules.Summary
	}
	if doc.AISuggestedCategory != "" && !strings.EqualFold(doc.AISuggestedCategory, string(rules.Band)) {
		s.logger.WithFields(logrus.Fields{
			"session_id":     session.ID,
			"rules_category": rules.Band,
			"ai_category":    doc.AISuggestedCategory,
		}).Info("Model category disagrees with rules engine, rules engine retained")
	}

	return doc
}

// generateNarrative runs the constrained narrative call.
func (s *HandoffService) generateNarrative(ctx context.Context, facts domain.FactRecord, rules domain.RulesResult, flagResult domain.RedFlagResult) (*domain.HandoffNarrative, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("no generator configured")
	}

	raw, err := s.generator.GenerateJSON(ctx, narrativeSystemPrompt, s.narrativeInput(facts, rules, flagResult), s.maxTokens, s.temp)
	if err != nil {
		return nil, fmt.Errorf("narrative call: %w", err)
	}

	var narrative domain.HandoffNarrative
	if err := json.Unmarshal(raw, &narrative); err != nil {
		return nil, fmt.Errorf("decoding narrative output: %w", err)
	}

	switch strings.ToUpper(narrative.SuggestedCategory) {
	case "RED", "AMBER", "GREEN", "":
	default:
		narrative.SuggestedCategory = ""
		narrative.Confidence = 0
	}

	return &narrative, nil
}

// narrativeInput renders the reconciled facts and rule outcomes as the
// narrative model's user prompt. Only reconciled facts go in, never the raw
// transcript, so the narrative cannot launder unadmitted claims.
func (s *HandoffService) narrativeInput(facts domain.FactRecord, rules domain.RulesResult, flagResult domain.RedFlagResult) string {
	var b strings.Builder

	b.WriteString("Reconciled facts:\n")
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fact := facts[domain.FactKey(k)]
		fmt.Fprintf(&b, "- %s: %v (confidence %d, %s)\n", k, fact.Value, fact.Confidence, fact.Provenance)
	}

	fmt.Fprintf(&b, "\nRules engine category: %s\n", rules.Band)
	if len(rules.TriggeredFlags) > 0 {
		b.WriteString("Warning flags: " + strings.Join(rules.TriggeredFlags, "; ") + "\n")
	}
	if len(flagResult.Triggered) > 0 {
		b.WriteString("Red flags triggered:\n")
		for _, f := range flagResult.Triggered {
			fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.Evidence)
		}
	}
	if len(flagResult.NotAssessed) > 0 {
		b.WriteString("Not assessed: " + strings.Join(flagResult.NotAssessed, "; ") + "\n")
	}

	return b.String()
}

// applyDeterministicNarrative fills the narrative fields from the fact record
// alone and marks the document degraded.
func (s *HandoffService) applyDeterministicNarrative(doc *domain.HandoffDocument, facts domain.FactRecord, rules domain.RulesResult) {
	doc.Degraded = true
	doc.ReceptionSummary = rules.Summary
	doc.KeyPositives, doc.KeyNegatives = splitFindings(facts)
}

// splitFindings sorts boolean facts into affirmed and denied findings for the
// degraded document.
func splitFindings(facts domain.FactRecord) (positives, negatives []string) {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		b, ok := facts.Bool(domain.FactKey(k))
		if !ok {
			continue
		}
		label := strings.ReplaceAll(k, "_", " ")
		if b {
			positives = append(positives, label)
		} else {
			negatives = append(negatives, label)
		}
	}
	return positives, negatives
}

// recordDivergences appends divergence events to the audit log. Failures are
// logged and swallowed; auditing never affects the handoff.
func (s *HandoffService) recordDivergences(ctx context.Context, events []domain.DivergenceEvent) {
	if s.divergence == nil {
		return
	}
	for i := range events {
		if err := s.divergence.Record(ctx, &events[i]); err != nil {
			s.logger.WithError(err).WithField("key", events[i].Key).Warn("Failed to record divergence event")
		}
	}
}
