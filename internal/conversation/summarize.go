package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/medbridge/internal/llm"
)

// Summarizer turns a rendered transcript into a clinical note.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

const (
	summarySystemPrompt = "You create concise, de-identified clinical summaries."
	summaryMaxTokens    = 350
	summaryTemperature  = 0.2
)

var errEmptySummary = errors.New("summarizer returned empty text")

// LLMSummarizer implements Summarizer with an LLM provider.
type LLMSummarizer struct {
	provider llm.Provider
	model    string
}

// NewSummarizer creates an LLMSummarizer. An empty model uses the provider default.
func NewSummarizer(provider llm.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	req := llm.UserPrompt(summarySystemPrompt, summaryPrompt(transcript), summaryMaxTokens, summaryTemperature)
	req.Model = s.model

	resp, err := s.provider.Send(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errEmptySummary
	}
	return text, nil
}

func summaryPrompt(transcript string) string {
	return `You are a clinical documentation assistant.
Summarize the doctor-patient conversation below as a concise, de-identified clinical note covering:
- presenting complaints and their duration
- relevant medical context
- red-flag symptoms or open follow-up questions
- recommended next steps

Keep placeholders such as [NAME_1] as they are.

Conversation:
` + transcript + `
Write the summary in clear English.`
}

// renderTranscript formats messages in order as
//
//	PATIENT: <de-identified text>
//	EN/HIN: <translation>
func renderTranscript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\nEN/HIN: %s\n\n", strings.ToUpper(string(m.Speaker)), m.Deidentified, m.Translation)
	}
	return b.String()
}
