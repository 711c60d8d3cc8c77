// Package enrich retrieves domain (medical) and cultural context snippets
// for a de-identified message.
package enrich

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Scope selects which collections a retrieval covers.
type Scope int

const (
	// ScopeAll searches both domain and cultural collections.
	ScopeAll Scope = iota
	// ScopeCulturalOnly skips the domain search.
	ScopeCulturalOnly
)

func (s Scope) String() string {
	if s == ScopeCulturalOnly {
		return "cultural_only"
	}
	return "all"
}

// Context holds formatted snippets ready for prompt assembly.
type Context struct {
	Domain   []string `json:"domain_context"`
	Cultural []string `json:"cultural_context"`
}

// Gateway retrieves context for a query. Implementations always return
// usable (possibly empty) lists; a non-nil error reports that some part of
// the retrieval failed and was replaced by an empty list.
type Gateway interface {
	Retrieve(ctx context.Context, query string, scope Scope) (Context, error)
}

// Nop is a Gateway that never finds anything. Used when no vector store is configured.
type Nop struct{}

// Retrieve implements Gateway.
func (Nop) Retrieve(context.Context, string, Scope) (Context, error) {
	return Context{Domain: []string{}, Cultural: []string{}}, nil
}

// Shorten collapses whitespace and truncates s at a word boundary so the
// result, including placeholder, is at most width runes.
func Shorten(s string, width int, placeholder string) string {
	words := strings.Fields(s)
	joined := strings.Join(words, " ")
	if utf8.RuneCountInString(joined) <= width {
		return joined
	}

	budget := width - utf8.RuneCountInString(placeholder)
	var b strings.Builder
	n := 0
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		sep := 0
		if n > 0 {
			sep = 1
		}
		if n+sep+wl > budget {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += sep + wl
	}
	if n == 0 {
		return strings.TrimLeft(placeholder, " ")
	}
	return b.String() + placeholder
}
