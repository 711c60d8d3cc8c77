// Package intent decides per message whether medical context retrieval is
// warranted, using a small LLM classification call.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/medbridge/internal/llm"
)

// Label is the classification outcome.
type Label string

const (
	MedicalRequired Label = "medical_required"
	NotRequired     Label = "not_required"
	SmallTalk       Label = "small_talk"
)

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	switch l {
	case MedicalRequired, NotRequired, SmallTalk:
		return true
	}
	return false
}

// Decision is the classifier verdict for one message.
type Decision struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Fallback is used whenever classification fails. It never skips retrieval.
var Fallback = Decision{Label: MedicalRequired, Confidence: 0.5}

// defaultConfidence applies when the model omits a confidence value.
const defaultConfidence = 0.7

var errMalformed = errors.New("intent: malformed classifier output")

const (
	systemPrompt = "You output a strict JSON classification."
	maxTokens    = 60
)

// Classifier asks an LLM to label a de-identified message.
type Classifier struct {
	provider llm.Provider
	model    string
}

// New creates a Classifier. An empty model uses the provider default.
func New(provider llm.Provider, model string) *Classifier {
	return &Classifier{provider: provider, model: model}
}

// Classify labels text. On any failure it returns Fallback together with the
// error so callers can record the degradation.
func (c *Classifier) Classify(ctx context.Context, text string) (Decision, error) {
	req := llm.UserPrompt(systemPrompt, buildPrompt(text), maxTokens, 0)
	req.Model = c.model

	resp, err := c.provider.Send(ctx, req)
	if err != nil {
		return Fallback, fmt.Errorf("intent: classify: %w", err)
	}
	d, err := parseDecision(resp.Text)
	if err != nil {
		return Fallback, err
	}
	return d, nil
}

func buildPrompt(text string) string {
	return fmt.Sprintf(`You classify messages for a bilingual doctor-patient interpreter.

Decide whether MEDICAL CONTEXT retrieval is needed for the message below.

Labels:
- "medical_required": mentions any symptom, body part, illness, test or medication.
- "not_required": logistics, greetings or thanks ("hello", "thank you", "see you tomorrow").
- "small_talk": friendly conversation unrelated to health.

Reply with JSON only:
{"label": "<label>", "confidence": <number between 0 and 1>}

Message:
%q`, text)
}

// parseDecision reads the classifier JSON. A missing label means
// medical_required and a missing confidence means 0.7; anything else that
// does not validate is an error.
func parseDecision(raw string) (Decision, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return Fallback, fmt.Errorf("%w: no JSON object in %q", errMalformed, raw)
	}

	var out struct {
		Label      *string  `json:"label"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return Fallback, fmt.Errorf("%w: %w", errMalformed, err)
	}

	d := Decision{Label: MedicalRequired, Confidence: defaultConfidence}
	if out.Label != nil {
		d.Label = Label(strings.ToLower(strings.TrimSpace(*out.Label)))
	}
	if out.Confidence != nil {
		d.Confidence = *out.Confidence
	}

	if !d.Label.Valid() {
		return Fallback, fmt.Errorf("%w: unknown label %q", errMalformed, d.Label)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return Fallback, fmt.Errorf("%w: confidence %v out of range", errMalformed, d.Confidence)
	}
	return d, nil
}
