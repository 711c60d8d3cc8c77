package conversation

import (
	"time"

	"github.com/linnemanlabs/medbridge/internal/intent"
	"github.com/linnemanlabs/medbridge/internal/redact"
	"github.com/linnemanlabs/medbridge/internal/translate"
)

// Speaker identifies who sent a message.
type Speaker string

const (
	SpeakerDoctor  Speaker = "doctor"
	SpeakerPatient Speaker = "patient"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerDoctor || s == SpeakerPatient
}

// Session is one conversation. Summary is overwritten on every
// re-summarization and UpdatedAt moves on every message write.
type Session struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Summary   string     `json:"summary,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// MessageContext is the audit bundle stored alongside each message.
type MessageContext struct {
	IntentDecision   intent.Label        `json:"intent_decision"`
	IntentConfidence float64             `json:"intent_confidence"`
	DomainContext    []string            `json:"domain_context"`
	CulturalContext  []string            `json:"cultural_context"`
	PromptUsed       string              `json:"prompt_used"`
	Direction        translate.Direction `json:"direction"`
}

// Message is one persisted turn. Immutable once written.
type Message struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Speaker      Speaker        `json:"speaker"`
	Original     string         `json:"original"`
	Deidentified string         `json:"deidentified"`
	Translation  string         `json:"translation"`
	Context      MessageContext `json:"context"`
}

// TriageRecord is one entry in the append-only intent audit log.
type TriageRecord struct {
	SessionID  string       `json:"session_id"`
	Message    string       `json:"message"`
	Label      intent.Label `json:"label"`
	Confidence float64      `json:"confidence"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Stage names a step of the turn state machine.
type Stage string

const (
	StageRedact    Stage = "redact"
	StageTriage    Stage = "triage"
	StageEnrich    Stage = "enrich"
	StageTranslate Stage = "translate"
	StagePersist   Stage = "persist"
	StageSummarize Stage = "summarize"
)

// StageResult is the outcome of one stage. Degraded means the stage failed
// and a fallback value was used in its place.
type StageResult struct {
	Stage    Stage   `json:"stage"`
	Degraded bool    `json:"degraded,omitempty"`
	Skipped  bool    `json:"skipped,omitempty"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_seconds"`
}

// TurnResult is everything the caller needs to audit a turn without
// re-reading the store.
type TurnResult struct {
	SessionID        string              `json:"session_id"`
	MessageID        string              `json:"message_id"`
	Original         string              `json:"original"`
	Deidentified     string              `json:"deidentified"`
	Entities         []redact.Entity     `json:"entities"`
	IntentDecision   intent.Label        `json:"intent_decision"`
	IntentConfidence float64             `json:"intent_confidence"`
	DomainContext    []string            `json:"domain_context"`
	CulturalContext  []string            `json:"cultural_context"`
	Translation      string              `json:"translation"`
	Direction        translate.Direction `json:"direction"`
	PromptUsed       string              `json:"prompt_used"`
	SummaryUpdated   bool                `json:"summary_updated"`
	Stages           []StageResult       `json:"stages"`
}

// Degraded reports whether any stage fell back to a default.
func (r *TurnResult) Degraded() bool {
	for _, s := range r.Stages {
		if s.Degraded {
			return true
		}
	}
	return false
}
