// Package redact detects identifying spans (person names, ages, phone numbers,
// email addresses) in English and Hindi clinical text and replaces them with
// stable placeholders such as [NAME_1] or [AGE_2].
//
// Offsets on every Span and Entity are byte offsets into the original UTF-8
// string. Accepted entities never overlap: when detectors disagree the
// higher-priority type wins (phone > email > age > name) and the loser keeps
// only its leading part.
package redact

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidInput is returned when the text to redact is empty or whitespace.
var ErrInvalidInput = errors.New("redact: empty input text")

// EntityType is the category of an identifying span.
type EntityType string

const (
	TypeName  EntityType = "name"
	TypeAge   EntityType = "age"
	TypePhone EntityType = "phone"
	TypeEmail EntityType = "email"
)

// priority orders detector outputs for overlap resolution, lower wins.
func (t EntityType) priority() int {
	switch t {
	case TypePhone:
		return 0
	case TypeEmail:
		return 1
	case TypeAge:
		return 2
	case TypeName:
		return 3
	default:
		return 4
	}
}

// Span is a candidate identifying region reported by a detector.
type Span struct {
	Type  EntityType
	Start int
	End   int
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Entity is one accepted identifying span with its assigned placeholder.
type Entity struct {
	Type        EntityType `json:"type"`
	Value       string     `json:"value"`
	Start       int        `json:"start"`
	End         int        `json:"end"`
	Placeholder string     `json:"placeholder"`
}

// Result is the outcome of a single Deidentify call.
type Result struct {
	Original string   `json:"original_text"`
	Text     string   `json:"deidentified_text"`
	Entities []Entity `json:"entities"`

	// State carries placeholder counters and the value ledger after this call.
	// Pass it to the next call to keep placeholders stable across calls.
	State *State `json:"-"`
}

// Ledger returns the placeholder to value mapping for the entities in this result.
func (r *Result) Ledger() map[string]string {
	out := make(map[string]string, len(r.Entities))
	for _, e := range r.Entities {
		out[e.Placeholder] = e.Value
	}
	return out
}

// Recognizer surfaces additional candidate spans, typically person names
// from an NER model. Spans outside the text bounds are ignored.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// RecognizerFunc adapts a plain function to Recognizer.
type RecognizerFunc func(ctx context.Context, text string) ([]Span, error)

// Recognize implements Recognizer.
func (f RecognizerFunc) Recognize(ctx context.Context, text string) ([]Span, error) {
	return f(ctx, text)
}

// Engine runs the built-in pattern detectors plus any configured recognizers.
type Engine struct {
	recognizers []Recognizer
}

// New creates an Engine. Nil recognizers are skipped.
func New(recognizers ...Recognizer) *Engine {
	e := &Engine{}
	for _, r := range recognizers {
		if r != nil {
			e.recognizers = append(e.recognizers, r)
		}
	}
	return e
}

// Deidentify detects identifying spans in text and replaces each with its
// placeholder. A nil state starts fresh counters for this call only; a
// non-nil state is advanced in place and returned on the Result.
//
// Recognizer errors abort the call. The state is only modified once every
// detector has succeeded.
func (e *Engine) Deidentify(ctx context.Context, text string, st *State) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	if st == nil {
		st = NewState(nil)
	}

	phones := findPhones(text)
	cands := slices.Clone(phones)
	cands = append(cands, findEmails(text)...)
	cands = append(cands, findAges(text, phones)...)
	cands = append(cands, findNames(text)...)

	for _, r := range e.recognizers {
		spans, err := r.Recognize(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("redact: recognizer: %w", err)
		}
		for _, sp := range spans {
			if sp, ok := trimSpan(text, sp); ok {
				cands = append(cands, sp)
			}
		}
	}

	accepted := merge(text, cands)

	entities := make([]Entity, 0, len(accepted))
	for _, sp := range accepted {
		value := text[sp.Start:sp.End]
		entities = append(entities, Entity{
			Type:        sp.Type,
			Value:       value,
			Start:       sp.Start,
			End:         sp.End,
			Placeholder: st.assign(sp.Type, value),
		})
	}

	return &Result{
		Original: text,
		Text:     apply(text, entities),
		Entities: entities,
		State:    st,
	}, nil
}

// merge deduplicates candidates and resolves overlaps by priority, then by
// earlier start, then by longer span. A span that loses an overlap is cut
// back to the part before the winner, so a name running into an age still
// gets redacted. The result is sorted by start.
func merge(text string, cands []Span) []Span {
	seen := make(map[Span]struct{}, len(cands))
	uniq := make([]Span, 0, len(cands))
	for _, c := range cands {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		uniq = append(uniq, c)
	}

	slices.SortStableFunc(uniq, func(a, b Span) int {
		return cmp.Or(
			cmp.Compare(a.Type.priority(), b.Type.priority()),
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(b.End-b.Start, a.End-a.Start),
		)
	})

	accepted := make([]Span, 0, len(uniq))
	for _, c := range uniq {
		if !slices.ContainsFunc(accepted, c.overlaps) {
			accepted = append(accepted, c)
			continue
		}
		// Keep whatever precedes the first accepted span it runs into.
		end := c.End
		for _, a := range accepted {
			if c.overlaps(a) {
				end = min(end, a.Start)
			}
		}
		if front, ok := trimSpan(text, Span{Type: c.Type, Start: c.Start, End: end}); ok &&
			!slices.ContainsFunc(accepted, front.overlaps) {
			accepted = append(accepted, front)
		}
	}

	slices.SortFunc(accepted, func(a, b Span) int { return cmp.Compare(a.Start, b.Start) })
	return accepted
}

// apply splices placeholders into text. Entities must be sorted by start and
// must not overlap.
func apply(text string, entities []Entity) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, e := range entities {
		b.WriteString(text[last:e.Start])
		b.WriteString(e.Placeholder)
		last = e.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Restore replaces placeholders in text with their ledger values.
func Restore(text string, ledger map[string]string) string {
	if len(ledger) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(ledger))
	for ph, v := range ledger {
		pairs = append(pairs, ph, v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// trimSpan clamps a span to the text, shrinks it past surrounding whitespace
// and punctuation, and reports whether anything is left.
func trimSpan(text string, sp Span) (Span, bool) {
	if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
		return sp, false
	}
	if !utf8.RuneStart(text[sp.Start]) || (sp.End < len(text) && !utf8.RuneStart(text[sp.End])) {
		return sp, false
	}
	for sp.Start < sp.End {
		r, size := utf8.DecodeRuneInString(text[sp.Start:sp.End])
		if !isEdge(r) {
			break
		}
		sp.Start += size
	}
	for sp.End > sp.Start {
		r, size := utf8.DecodeLastRuneInString(text[sp.Start:sp.End])
		if !isEdge(r) {
			break
		}
		sp.End -= size
	}
	return sp, sp.Start < sp.End
}

func isEdge(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}
