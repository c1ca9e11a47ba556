package domain

import "time"

// Stage identifies a step in the fixed intake conversation sequence.
// Transitions between stages are owned by the dialogue state machine; the
// enum is closed and every stage is matched exhaustively in the stage table.
type Stage string

const (
	StageOpening          Stage = "opening"
	StageLocalisation     Stage = "localisation"
	StageTimeStart        Stage = "time_start"
	StageTimeTrend        Stage = "time_trend"
	StageSeverity         Stage = "severity"
	StageDangerBreathing  Stage = "danger_breathing"
	StageDangerCollapse   Stage = "danger_collapse"
	StageDangerSeverePain Stage = "danger_severe_pain"
	StageDangerBleeding   Stage = "danger_bleeding"
	StageDangerConfusion  Stage = "danger_confusion"
	StageRedFlags         Stage = "red_flags"
	StageRAGFollowup      Stage = "rag_followup"

	StageContextAge         Stage = "context_age"
	StageContextMedications Stage = "context_medications"
	StageContextHistory     Stage = "context_history"

	StageFunctionalEating   Stage = "functional_eating"
	StageFunctionalMobility Stage = "functional_mobility"
	StageFunctionalSleep    Stage = "functional_sleep"

	StageCollectName Stage = "collect_name"
	StageSummary     Stage = "summary"
	StageComplete    Stage = "complete"
	StageEscalated   Stage = "escalated"
)

// IsTerminal reports whether the stage ends the conversation.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageEscalated
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleAssistant MessageRole = "assistant"
	RoleUser      MessageRole = "user"
)

// Message is a single entry in the append-only conversation history.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// FollowupAnswer records one retrieval-augmented follow-up exchange.
type FollowupAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChatState is the deterministic per-session answer record. Every field the
// state machine can ever set is enumerated here; pointer fields distinguish
// "not asked yet" from an explicit answer. Once a field is set from a stage
// answer it is never overwritten except by a full restart after a rejected
// summary confirmation.
type ChatState struct {
	Complaint string `json:"complaint,omitempty"`
	Location  string `json:"location,omitempty"`
	Onset     string `json:"onset,omitempty"`
	Trend     string `json:"trend,omitempty"`
	Severity  *int   `json:"severity,omitempty"`
	Age       *int   `json:"age,omitempty"`

	// Base danger checks, asked in fixed order for every complaint.
	TroubleBreathing *bool `json:"trouble_breathing,omitempty"`
	Collapsed        *bool `json:"collapsed,omitempty"`
	SeverePain       *bool `json:"severe_pain,omitempty"`
	Bleeding         *bool `json:"bleeding,omitempty"`
	Confusion        *bool `json:"confusion,omitempty"`

	// Complaint-specific red-flag answers. Only the fields belonging to the
	// recognised complaint are ever populated.
	RadiatingPain        *bool `json:"radiating_pain,omitempty"`
	Sweating             *bool `json:"sweating,omitempty"`
	CardiacHistory       *bool `json:"cardiac_history,omitempty"`
	Cyanosis             *bool `json:"cyanosis,omitempty"`
	SpeakingDifficulty   *bool `json:"speaking_difficulty,omitempty"`
	CoughingBlood        *bool `json:"coughing_blood,omitempty"`
	VomitingBlood        *bool `json:"vomiting_blood,omitempty"`
	RigidAbdomen         *bool `json:"rigid_abdomen,omitempty"`
	BloodyStools         *bool `json:"bloody_stools,omitempty"`
	PregnancyPossible    *bool `json:"pregnancy_possible,omitempty"`
	Thunderclap          *bool `json:"thunderclap,omitempty"`
	NeckStiffness        *bool `json:"neck_stiffness,omitempty"`
	VisualDisturbance    *bool `json:"visual_disturbance,omitempty"`
	NeurologicalSymptoms *bool `json:"neurological_symptoms,omitempty"`
	NonBlanchingRash     *bool `json:"non_blanching_rash,omitempty"`
	PersistentVomiting   *bool `json:"persistent_vomiting,omitempty"`
	Immunocompromised    *bool `json:"immunocompromised,omitempty"`

	// Context and functional answers. Free text with "None reported"/"None"
	// defaults on empty input.
	Medications    string `json:"medications,omitempty"`
	MedicalHistory string `json:"medical_history,omitempty"`
	EatingDrinking string `json:"eating_drinking,omitempty"`
	Mobility       string `json:"mobility,omitempty"`
	SleepImpact    string `json:"sleep_impact,omitempty"`

	Followups       []FollowupAnswer `json:"followups,omitempty"`
	FollowupCount   int              `json:"followup_count,omitempty"`
	PendingFollowup string           `json:"pending_followup,omitempty"`

	PatientName string `json:"patient_name,omitempty"`
}

// SessionStatus tracks the lifecycle of a stored intake session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionComplete  SessionStatus = "complete"
	SessionEscalated SessionStatus = "escalated"
)

// Session is the persisted conversation record.
type Session struct {
	ID           string        `json:"id"`
	Messages     []Message     `json:"messages"`
	State        ChatState     `json:"state"`
	Stage        Stage         `json:"stage"`
	Status       SessionStatus `json:"status"`
	RetryCount   int           `json:"retry_count"`
	SubmissionID *string       `json:"submission_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Submission is the completed triage outcome stored per finished session.
type Submission struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	RiskBand  RiskBand  `json:"risk_band"`
	RedFlags  []string  `json:"red_flags"`
	Summary   string    `json:"summary"`
	Answers   ChatState `json:"answers"`
	CreatedAt time.Time `json:"created_at"`
}

// AdvanceResult is the outcome of one dialogue turn.
type AdvanceResult struct {
	State        ChatState `json:"state"`
	Stage        Stage     `json:"stage"`
	Response     string    `json:"response"`
	IsEscalation bool      `json:"is_escalation"`
	IsComplete   bool      `json:"is_complete"`
	RetryCount   int       `json:"retry_count"`
}
