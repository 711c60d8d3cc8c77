package redact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`^\[([A-Z]+)_(\d+)\]$`)

type ledgerKey struct {
	typ   EntityType
	value string
}

// State holds placeholder counters and the placeholder ledger shared across
// Deidentify calls. It is not safe for concurrent use.
type State struct {
	// Placeholders maps each issued placeholder to its original value.
	Placeholders map[string]string

	counters map[EntityType]int
	byValue  map[ledgerKey]string
}

// NewState creates a State seeded from an existing placeholder map. Counters
// start after the highest index already used for each type, and values
// already in the map keep their placeholder. Malformed keys are ignored.
func NewState(existing map[string]string) *State {
	s := &State{
		Placeholders: make(map[string]string, len(existing)),
		counters:     make(map[EntityType]int),
		byValue:      make(map[ledgerKey]string, len(existing)),
	}
	lowest := make(map[ledgerKey]int, len(existing))
	for ph, value := range existing {
		m := placeholderRe.FindStringSubmatch(ph)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		t := EntityType(strings.ToLower(m[1]))
		s.Placeholders[ph] = value
		if n > s.counters[t] {
			s.counters[t] = n
		}
		k := ledgerKey{typ: t, value: value}
		if cur, ok := lowest[k]; !ok || n < cur {
			lowest[k] = n
			s.byValue[k] = ph
		}
	}
	return s
}

// Counter returns the last index issued for t.
func (s *State) Counter(t EntityType) int {
	return s.counters[t]
}

// assign returns the placeholder for (t, value), issuing a new one if needed.
func (s *State) assign(t EntityType, value string) string {
	k := ledgerKey{typ: t, value: value}
	if ph, ok := s.byValue[k]; ok {
		return ph
	}
	s.counters[t]++
	ph := fmt.Sprintf("[%s_%d]", strings.ToUpper(string(t)), s.counters[t])
	s.Placeholders[ph] = value
	s.byValue[k] = ph
	return ph
}
