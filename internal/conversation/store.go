package conversation

import (
	"context"
	"time"
)

// Store is the persistence interface for sessions, messages and the
// intent audit log. Every write is individually transactional.
type Store interface {
	// CreateSession inserts s, or resets an existing session with the same
	// ID: timestamps are replaced and summary and closed_at are cleared.
	// Messages are kept.
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, bool, error)
	ListSessions(ctx context.Context) ([]Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) error

	// SaveMessage appends m and bumps the session's updated_at.
	SaveMessage(ctx context.Context, m *Message) error
	GetConversation(ctx context.Context, sessionID string) ([]Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// GetSummary returns "" when the session has no summary.
	GetSummary(ctx context.Context, sessionID string) (string, error)
	SaveSummary(ctx context.Context, sessionID, summary string) error

	SaveTriageRecord(ctx context.Context, r *TriageRecord) error
}
