package redact

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Go's regexp has no lookahead and \b is ASCII-only, so the Hindi patterns
// consume their terminator and rely on the capture group for the span. Name
// cues stop at a connective or a digit so they never swallow a following age.
var (
	phoneRe = regexp.MustCompile(`\+?\d[\d\-\s]{8,}\d`)
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)

	ageRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:i\s*am|i'm|my\s+age\s+is|age\s+is|aged)\s+(\d{1,2})\s*(?:years?\s*old)?\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2})\s*years?\s*old\b`),
		regexp.MustCompile(`उम्र\s*([0-9०-९]{1,2})\s*(?:साल|saal)`),
		regexp.MustCompile(`([0-9०-९]{1,2})\s*(?:साल|saal)\s*(?:का|की|के|ka|ki|ke)\s*(?:हूँ|हूं|hai|है)`),
	}

	nameRes = []*regexp.Regexp{
		regexp.MustCompile(`मेरा\s+नाम\s+([^0-9०-९]+?)(?:\s+(?:है|और|तथा)(?:[\s।.!?,]|$)|\s*[0-9०-९]|[।.!?,]|$)`),
		regexp.MustCompile(`(?i)\bmera\s+naam\s+([^0-9०-९]+?)(?:\s+(?:hai|aur|and)\b|\s*[0-9०-९]|[।.!?,]|$)`),
		regexp.MustCompile(`\b(?i:my\s+name\s+is|call\s+me)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
		regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Miss|Shri|Smt)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	}
)

const (
	minPhoneDigits = 10
	maxAge         = 120
)

func findPhones(text string) []Span {
	var out []Span
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		if countDigits(text[loc[0]:loc[1]]) < minPhoneDigits {
			continue
		}
		out = append(out, Span{Type: TypePhone, Start: loc[0], End: loc[1]})
	}
	return out
}

func findEmails(text string) []Span {
	var out []Span
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		out = append(out, Span{Type: TypeEmail, Start: loc[0], End: loc[1]})
	}
	return out
}

// findAges only reports numbers introduced by an explicit age cue. Numbers
// starting inside a phone span, or glued to a preceding digit, are skipped.
func findAges(text string, phones []Span) []Span {
	var out []Span
	for _, re := range ageRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			if start < 0 || precededByDigit(text, start) {
				continue
			}
			n, ok := parseAge(text[start:end])
			if !ok || n <= 0 || n >= maxAge {
				continue
			}
			if insideAny(start, phones) {
				continue
			}
			out = append(out, Span{Type: TypeAge, Start: start, End: end})
		}
	}
	return out
}

func findNames(text string) []Span {
	var out []Span
	for _, re := range nameRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			sp, ok := trimSpan(text, Span{Type: TypeName, Start: m[2], End: m[3]})
			if !ok || utf8.RuneCountInString(text[sp.Start:sp.End]) < 2 {
				continue
			}
			out = append(out, sp)
		}
	}
	return out
}

func insideAny(pos int, spans []Span) bool {
	for _, s := range spans {
		if pos >= s.Start && pos < s.End {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

func precededByDigit(text string, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:pos])
	return unicode.IsDigit(r)
}

// parseAge accepts ASCII and Devanagari digits.
func parseAge(s string) (int, bool) {
	ascii := strings.Map(func(r rune) rune {
		if r >= '०' && r <= '९' {
			return '0' + (r - '०')
		}
		return r
	}, s)
	n, err := strconv.Atoi(ascii)
	if err != nil {
		return 0, false
	}
	return n, true
}
