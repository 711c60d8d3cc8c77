// Package pgstore provides a PostgreSQL implementation of conversation.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medbridge/internal/conversation"
	"github.com/linnemanlabs/medbridge/internal/intent"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medbridge/internal/conversation/pgstore")

//go:embed schema.sql
var schema string

// Store persists sessions, messages and the intent audit log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// inTx runs fn in its own transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateSession inserts or resets a session. Messages are kept on reset.
func (s *Store) CreateSession(ctx context.Context, sess *conversation.Session) error {
	ctx, span := startSpan(ctx, "pgstore.CreateSession", "UPSERT")
	defer span.End()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO sessions (id, created_at, updated_at, summary, closed_at)
			 VALUES ($1, $2, $3, NULL, NULL)
			 ON CONFLICT (id) DO UPDATE SET
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				summary    = NULL,
				closed_at  = NULL`,
			sess.ID, sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

const sessionColumns = `id, created_at, updated_at, summary, closed_at`

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*conversation.Session, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetSession", "SELECT")
	defer span.End()

	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanError(span, err)
	}
	return sess, true, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]conversation.Session, error) {
	ctx, span := startSpan(ctx, "pgstore.ListSessions", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("query sessions: %w", err))
	}
	defer rows.Close()

	out := []conversation.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, spanError(span, err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("iterate sessions: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// CloseSession stamps closed_at. Returns conversation.ErrSessionNotFound
// when no row matches.
func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) error {
	ctx, span := startSpan(ctx, "pgstore.CloseSession", "UPDATE")
	defer span.End()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sessions SET closed_at = $2 WHERE id = $1`, id, at)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return conversation.ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// SaveMessage inserts the message and bumps the session's updated_at in
// one transaction.
func (s *Store) SaveMessage(ctx context.Context, m *conversation.Message) error {
	ctx, span := startSpan(ctx, "pgstore.SaveMessage", "INSERT")
	defer span.End()

	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return spanError(span, fmt.Errorf("marshal context: %w", err))
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, session_id, created_at, speaker, original, deidentified, translation, context)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.SessionID, m.Timestamp, string(m.Speaker), m.Original, m.Deidentified, m.Translation, contextJSON,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, m.SessionID); err != nil {
			return fmt.Errorf("bump session: %w", err)
		}
		return nil
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// GetConversation returns the session's messages in insertion order.
func (s *Store) GetConversation(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.GetConversation", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, created_at, speaker, original, deidentified, translation, context
		 FROM messages WHERE session_id = $1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	out := []conversation.Message{}
	for rows.Next() {
		var (
			m           conversation.Message
			speaker     string
			contextJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &speaker, &m.Original, &m.Deidentified, &m.Translation, &contextJSON); err != nil {
			return nil, spanError(span, fmt.Errorf("scan message: %w", err))
		}
		m.Speaker = conversation.Speaker(speaker)
		if err := json.Unmarshal(contextJSON, &m.Context); err != nil {
			return nil, spanError(span, fmt.Errorf("unmarshal context %s: %w", m.ID, err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("iterate messages: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// CountMessages returns the number of messages in the session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CountMessages", "SELECT")
	defer span.End()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, spanError(span, fmt.Errorf("count messages: %w", err))
	}
	return n, nil
}

// GetSummary returns the session summary, or "" if there is none.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.GetSummary", "SELECT")
	defer span.End()

	var summary *string
	err := s.pool.QueryRow(ctx, `SELECT summary FROM sessions WHERE id = $1`, sessionID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", spanError(span, fmt.Errorf("get summary: %w", err))
	}
	if summary == nil {
		return "", nil
	}
	return *summary, nil
}

// SaveSummary overwrites the session summary and bumps updated_at.
func (s *Store) SaveSummary(ctx context.Context, sessionID, summary string) error {
	ctx, span := startSpan(ctx, "pgstore.SaveSummary", "UPDATE")
	defer span.End()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sessions SET summary = $2, updated_at = now() WHERE id = $1`, sessionID, summary)
		if err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return conversation.ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// SaveTriageRecord appends to the audit log.
func (s *Store) SaveTriageRecord(ctx context.Context, r *conversation.TriageRecord) error {
	ctx, span := startSpan(ctx, "pgstore.SaveTriageRecord", "INSERT")
	defer span.End()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO triage_audit (session_id, message, label, confidence, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.SessionID, r.Message, string(r.Label), r.Confidence, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert triage record: %w", err)
		}
		return nil
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// TriageRecords returns the audit log for a session, oldest first.
func (s *Store) TriageRecords(ctx context.Context, sessionID string) ([]conversation.TriageRecord, error) {
	ctx, span := startSpan(ctx, "pgstore.TriageRecords", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, message, label, confidence, created_at
		 FROM triage_audit WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("query triage audit: %w", err))
	}
	defer rows.Close()

	var out []conversation.TriageRecord
	for rows.Next() {
		var (
			r     conversation.TriageRecord
			label string
		)
		if err := rows.Scan(&r.SessionID, &r.Message, &label, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, spanError(span, fmt.Errorf("scan triage record: %w", err))
		}
		r.Label = intent.Label(label)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("iterate triage audit: %w", err))
	}
	return out, nil
}

// scanSession scans one sessions row. pgx.ErrNoRows is returned unwrapped.
func scanSession(row pgx.Row) (*conversation.Session, error) {
	var (
		sess    conversation.Session
		summary *string
	)
	err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &summary, &sess.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if summary != nil {
		sess.Summary = *summary
	}
	return &sess, nil
}
