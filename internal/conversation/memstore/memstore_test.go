package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/medbridge/internal/conversation"
	"github.com/linnemanlabs/medbridge/internal/intent"
)

func newSession(t *testing.T, s *Store, id string) {
	t.Helper()
	now := time.Now()
	if err := s.CreateSession(context.Background(), &conversation.Session{ID: id, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestStore_CreateAndGetSession(t *testing.T) {
	t.Parallel()

	s := New()
	newSession(t, s, "s-1")

	got, ok, err := s.GetSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.ID != "s-1" {
		t.Errorf("ID = %q, want %q", got.ID, "s-1")
	}
	if got.Summary != "" || got.ClosedAt != nil {
		t.Errorf("new session should have no summary or closed_at: %+v", got)
	}
}

func TestStore_GetSessionMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().GetSession(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_CreateSessionResetsButKeepsMessages(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	newSession(t, s, "s-1")
	if err := s.SaveMessage(ctx, &conversation.Message{ID: "m-1", SessionID: "s-1"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := s.SaveSummary(ctx, "s-1", "old summary"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := s.CloseSession(ctx, "s-1", time.Now()); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	newSession(t, s, "s-1")

	got, _, _ := s.GetSession(ctx, "s-1")
	if got.Summary != "" || got.ClosedAt != nil {
		t.Errorf("reset should clear summary and closed_at: %+v", got)
	}
	if n, _ := s.CountMessages(ctx, "s-1"); n != 1 {
		t.Errorf("CountMessages = %d, want 1 (messages kept)", n)
	}
}

func TestStore_SaveMessageOrderAndCount(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	newSession(t, s, "s-1")

	for i := range 3 {
		m := &conversation.Message{
			ID:        fmt.Sprintf("m-%d", i),
			SessionID: "s-1",
			Speaker:   conversation.SpeakerPatient,
			Context:   conversation.MessageContext{IntentDecision: intent.SmallTalk, DomainContext: []string{"d"}},
		}
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := s.GetConversation(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("m-%d", i); m.ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q", i, m.ID, want)
		}
	}
	if n, _ := s.CountMessages(ctx, "s-1"); n != 3 {
		t.Errorf("CountMessages = %d, want 3", n)
	}

	// returned copies must not alias stored state
	msgs[0].Context.DomainContext[0] = "mutated"
	again, _ := s.GetConversation(ctx, "s-1")
	if again[0].Context.DomainContext[0] != "d" {
		t.Error("GetConversation returned aliased slices")
	}
}

func TestStore_SaveMessageBumpsUpdatedAt(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)
	s.now = func() time.Time { return later }

	if err := s.CreateSession(ctx, &conversation.Session{ID: "s-1", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SaveMessage(ctx, &conversation.Message{ID: "m-1", SessionID: "s-1"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, _, _ := s.GetSession(ctx, "s-1")
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
}

func TestStore_SaveMessageUnknownSession(t *testing.T) {
	t.Parallel()

	err := New().SaveMessage(context.Background(), &conversation.Message{ID: "m-1", SessionID: "nope"})
	if !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_Summary(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	newSession(t, s, "s-1")

	if got, err := s.GetSummary(ctx, "s-1"); err != nil || got != "" {
		t.Fatalf("GetSummary = %q, %v; want empty", got, err)
	}
	if got, err := s.GetSummary(ctx, "unknown"); err != nil || got != "" {
		t.Fatalf("GetSummary(unknown) = %q, %v; want empty", got, err)
	}
	_ = s.SaveSummary(ctx, "s-1", "first")
	_ = s.SaveSummary(ctx, "s-1", "second")
	if got, _ := s.GetSummary(ctx, "s-1"); got != "second" {
		t.Errorf("GetSummary = %q, want overwrite to %q", got, "second")
	}
	if err := s.SaveSummary(ctx, "unknown", "x"); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("SaveSummary(unknown) err = %v", err)
	}
}

func TestStore_ListSessionsOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		_ = s.CreateSession(ctx, &conversation.Session{ID: id, CreatedAt: ts, UpdatedAt: ts})
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	_ = s.SaveMessage(ctx, &conversation.Message{ID: "m", SessionID: "a"})

	got, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	want := []string{"a", "c", "b"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestStore_CloseSession(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	newSession(t, s, "s-1")
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if err := s.CloseSession(ctx, "s-1", at); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _, _ := s.GetSession(ctx, "s-1")
	if got.ClosedAt == nil || !got.ClosedAt.Equal(at) {
		t.Errorf("ClosedAt = %v, want %v", got.ClosedAt, at)
	}
	if err := s.CloseSession(ctx, "missing", at); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_TriageRecords(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.SaveTriageRecord(ctx, &conversation.TriageRecord{SessionID: "s-1", Label: intent.MedicalRequired, Confidence: 0.5})
	_ = s.SaveTriageRecord(ctx, &conversation.TriageRecord{SessionID: "s-2", Label: intent.SmallTalk})
	_ = s.SaveTriageRecord(ctx, &conversation.TriageRecord{SessionID: "s-1", Label: intent.NotRequired})

	got := s.TriageRecords("s-1")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Label != intent.MedicalRequired || got[1].Label != intent.NotRequired {
		t.Errorf("records = %+v", got)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	newSession(t, s, "shared")
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		go func() {
			defer wg.Done()
			_ = s.SaveMessage(ctx, &conversation.Message{ID: fmt.Sprintf("m-%d", i), SessionID: "shared"})
		}()

		go func() {
			defer wg.Done()
			_, _ = s.GetConversation(ctx, "shared")
			_, _ = s.ListSessions(ctx)
		}()
	}

	wg.Wait()

	if got, _ := s.CountMessages(ctx, "shared"); got != n {
		t.Errorf("CountMessages = %d, want %d", got, n)
	}
}
