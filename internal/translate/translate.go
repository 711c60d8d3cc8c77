// Package translate assembles the context-rich translation prompt for a
// de-identified message and runs it against an LLM provider.
package translate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/linnemanlabs/medbridge/internal/enrich"
	"github.com/linnemanlabs/medbridge/internal/llm"
)

// Direction of a translation.
type Direction string

const (
	HindiToEnglish Direction = "hi_to_en"
	EnglishToHindi Direction = "en_to_hi"
)

// ErrorSentinel replaces the translation when the provider call fails.
const ErrorSentinel = "(translation error)"

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a bilingual medical translation assistant."

const (
	maxTokens   = 250
	temperature = 0.3

	maxDomainSnippets   = 4
	maxCulturalSnippets = 3
	snippetWidth        = 350
	maxSummaryRunes     = 1000
	noSummary           = "(no prior summary available)"
	noneFound           = "(none found)"
)

// DetectDirection picks the direction from the dominant script. Devanagari
// text is translated to English, Latin text to Hindi, and ties (including
// text with no letters) default to Hindi to English.
func DetectDirection(text string) Direction {
	var deva, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			deva++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if latin > deva {
		return EnglishToHindi
	}
	return HindiToEnglish
}

// Input is everything the prompt is built from.
type Input struct {
	Text     string
	Domain   []string
	Cultural []string
	Summary  string
}

// Output is the translation plus the audit fields.
type Output struct {
	Translation string    `json:"translation"`
	Prompt      string    `json:"prompt"`
	Direction   Direction `json:"direction"`
}

// Assembler builds prompts and calls the provider.
type Assembler struct {
	provider llm.Provider
	model    string
	system   string
}

// New creates an Assembler. Empty system uses DefaultSystemPrompt.
func New(provider llm.Provider, model, system string) *Assembler {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Assembler{provider: provider, model: model, system: system}
}

// Translate detects the direction, builds the prompt and requests the
// translation. On provider failure the Output carries ErrorSentinel with
// the prompt and direction still set, and the error is returned alongside.
func (a *Assembler) Translate(ctx context.Context, in Input) (Output, error) {
	dir := DetectDirection(in.Text)
	out := Output{
		Prompt:    BuildPrompt(in.Text, dir, in.Domain, in.Cultural, in.Summary),
		Direction: dir,
	}

	req := llm.UserPrompt(a.system, out.Prompt, maxTokens, temperature)
	req.Model = a.model

	resp, err := a.provider.Send(ctx, req)
	if err != nil {
		out.Translation = ErrorSentinel
		return out, fmt.Errorf("translate: %w", err)
	}
	out.Translation = strings.TrimSpace(resp.Text)
	return out, nil
}

// BuildPrompt renders the translation prompt.
func BuildPrompt(text string, dir Direction, domain, cultural []string, summary string) string {
	note := "Translate from Hindi to English (for the doctor)."
	if dir == EnglishToHindi {
		note = "Translate from English to Hindi (for the patient)."
	}

	memory := noSummary
	if cleaned := CleanSummary(summary); cleaned != "" {
		memory = "Prior conversation summary (context only):\n" + cleaned
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n\n", note, memory)
	fmt.Fprintf(&b, "Current message:\n%s\n\n", text)
	fmt.Fprintf(&b, "Medical context:\n%s\n\n", bullets(domain, maxDomainSnippets))
	fmt.Fprintf(&b, "Cultural context:\n%s\n\n", bullets(cultural, maxCulturalSnippets))
	b.WriteString(`Translation guidance:
- Use the summary to keep track of age, symptoms and duration.
- Do not translate word by word.
- Use the medical and cultural context to interpret the intended meaning.
- Replace idioms and cultural phrases with medically relevant equivalents.
- Keep the tone clear, empathetic and natural.
- The result must make sense to a clinician or a patient.
- Keep placeholders such as [NAME_1] unchanged and add no personal details.

Reply with the translated text only.`)
	return b.String()
}

func bullets(items []string, limit int) string {
	if len(items) > limit {
		items = items[:limit]
	}
	if len(items) == 0 {
		return noneFound
	}
	lines := make([]string, len(items))
	for i, s := range items {
		lines[i] = "- " + enrich.Shorten(s, snippetWidth, "...")
	}
	return strings.Join(lines, "\n")
}

var markdownRe = regexp.MustCompile("[*_`#>-]+")

// CleanSummary strips markdown markers, collapses whitespace and caps the
// summary at 1000 runes.
func CleanSummary(s string) string {
	s = markdownRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxSummaryRunes {
		s = string([]rune(s)[:maxSummaryRunes])
	}
	return s
}
