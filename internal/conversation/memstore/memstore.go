// Package memstore provides an in-memory implementation of conversation.Store.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/medbridge/internal/conversation"
)

// Store holds sessions, messages and the audit log in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.Session
	messages map[string][]conversation.Message // session ID -> messages in insertion order
	audit    []conversation.TriageRecord
	now      func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*conversation.Session),
		messages: make(map[string][]conversation.Message),
		now:      time.Now,
	}
}

// CreateSession inserts or resets a session. Messages are kept on reset.
func (s *Store) CreateSession(_ context.Context, sess *conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &conversation.Session{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	return nil
}

// GetSession returns a copy of the session.
func (s *Store) GetSession(_ context.Context, id string) (*conversation.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return copySession(sess), true, nil
}

// ListSessions returns copies of all sessions, most recently updated first.
func (s *Store) ListSessions(_ context.Context) ([]conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conversation.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *copySession(sess))
	}
	slices.SortFunc(out, func(a, b conversation.Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CloseSession stamps closed_at.
func (s *Store) CloseSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return conversation.ErrSessionNotFound
	}
	sess.ClosedAt = &at
	return nil
}

// SaveMessage appends a copy of m and bumps the session's updated_at.
func (s *Store) SaveMessage(_ context.Context, m *conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[m.SessionID]
	if !ok {
		return fmt.Errorf("save message %s: %w", m.ID, conversation.ErrSessionNotFound)
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], copyMessage(m))
	sess.UpdatedAt = s.now()
	return nil
}

// GetConversation returns copies of the session's messages in insertion order.
func (s *Store) GetConversation(_ context.Context, sessionID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]conversation.Message, len(msgs))
	for i := range msgs {
		out[i] = copyMessage(&msgs[i])
	}
	return out, nil
}

// CountMessages returns the number of messages in the session.
func (s *Store) CountMessages(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID]), nil
}

// GetSummary returns the session summary, or "" if there is none.
func (s *Store) GetSummary(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Summary, nil
	}
	return "", nil
}

// SaveSummary overwrites the session summary and bumps updated_at.
func (s *Store) SaveSummary(_ context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return conversation.ErrSessionNotFound
	}
	sess.Summary = summary
	sess.UpdatedAt = s.now()
	return nil
}

// SaveTriageRecord appends to the audit log.
func (s *Store) SaveTriageRecord(_ context.Context, r *conversation.TriageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *r)
	return nil
}

// TriageRecords returns a copy of the audit log for a session.
func (s *Store) TriageRecords(sessionID string) []conversation.TriageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []conversation.TriageRecord
	for _, r := range s.audit {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

func copySession(s *conversation.Session) *conversation.Session {
	cp := *s
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

func copyMessage(m *conversation.Message) conversation.Message {
	cp := *m
	cp.Context.DomainContext = slices.Clone(m.Context.DomainContext)
	cp.Context.CulturalContext = slices.Clone(m.Context.CulturalContext)
	return cp
}
