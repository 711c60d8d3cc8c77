package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/medbridge/internal/conversation"
	"github.com/linnemanlabs/medbridge/internal/conversation/pgstore"
	"github.com/linnemanlabs/medbridge/internal/intent"
	"github.com/linnemanlabs/medbridge/internal/postgres"
	"github.com/linnemanlabs/medbridge/internal/translate"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("MEDBRIDGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEDBRIDGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %v, got %v", field, want, got)
	}
}

func createSession(t *testing.T, s *pgstore.Store) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().Truncate(time.Microsecond).UTC()
	if err := s.CreateSession(context.Background(), &conversation.Session{ID: id, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return id
}

func TestSessionLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := createSession(t, s)

	got, ok, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !ok {
		t.Fatal("GetSession returned ok=false, want true")
	}
	assertEqual(t, "ID", id, got.ID)
	assertEqual(t, "Summary", "", got.Summary)
	if got.ClosedAt != nil {
		t.Errorf("ClosedAt = %v, want nil", got.ClosedAt)
	}

	if sum, err := s.GetSummary(ctx, id); err != nil || sum != "" {
		t.Errorf("GetSummary = %q, %v; want empty", sum, err)
	}
	if err := s.SaveSummary(ctx, id, "first"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := s.SaveSummary(ctx, id, "second"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	sum, _ := s.GetSummary(ctx, id)
	assertEqual(t, "Summary", "second", sum)

	closedAt := time.Now().Truncate(time.Microsecond).UTC()
	if err := s.CloseSession(ctx, id, closedAt); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _, _ = s.GetSession(ctx, id)
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closedAt) {
		t.Errorf("ClosedAt = %v, want %v", got.ClosedAt, closedAt)
	}

	// reset clears summary and closed_at
	if err := s.CreateSession(ctx, &conversation.Session{ID: id, CreatedAt: closedAt, UpdatedAt: closedAt}); err != nil {
		t.Fatalf("CreateSession (reset): %v", err)
	}
	got, _, _ = s.GetSession(ctx, id)
	assertEqual(t, "Summary after reset", "", got.Summary)
	if got.ClosedAt != nil {
		t.Errorf("ClosedAt after reset = %v, want nil", got.ClosedAt)
	}
}

func TestGetSessionMissing(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.GetSession(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ok {
		t.Error("expected ok=false")
	}
	if err := s.CloseSession(context.Background(), "does-not-exist", time.Now()); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("CloseSession err = %v, want ErrSessionNotFound", err)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := createSession(t, s)
	before, _, _ := s.GetSession(ctx, id)

	ts := time.Now().Truncate(time.Microsecond).UTC()
	msgs := []conversation.Message{
		{
			ID: uuid.NewString(), SessionID: id, Timestamp: ts, Speaker: conversation.SpeakerDoctor,
			Original: "How old are you?", Deidentified: "How old are you?", Translation: "आपकी उम्र क्या है?",
			Context: conversation.MessageContext{
				IntentDecision: intent.SmallTalk, IntentConfidence: 0.8,
				DomainContext:   []string{conversation.SkippedDomainContext},
				CulturalContext: []string{},
				PromptUsed:      "prompt-1", Direction: translate.EnglishToHindi,
			},
		},
		{
			ID: uuid.NewString(), SessionID: id, Timestamp: ts.Add(time.Second), Speaker: conversation.SpeakerPatient,
			Original: "मैं 34 साल का हूँ", Deidentified: "मैं [AGE_1]", Translation: "I am [AGE_1].",
			Context: conversation.MessageContext{
				IntentDecision: intent.MedicalRequired, IntentConfidence: 0.5,
				DomainContext:   []string{"[who.pdf | en] age bands"},
				CulturalContext: []string{"saal ka hoon is how age is stated"},
				PromptUsed:      "prompt-2", Direction: translate.HindiToEnglish,
			},
		},
	}
	for i := range msgs {
		if err := s.SaveMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
	}

	n, err := s.CountMessages(ctx, id)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	assertEqual(t, "CountMessages", 2, n)

	got, err := s.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for i := range msgs {
		assertEqual(t, "ID", msgs[i].ID, got[i].ID)
		assertEqual(t, "Speaker", msgs[i].Speaker, got[i].Speaker)
		assertEqual(t, "Original", msgs[i].Original, got[i].Original)
		assertEqual(t, "Deidentified", msgs[i].Deidentified, got[i].Deidentified)
		assertEqual(t, "Translation", msgs[i].Translation, got[i].Translation)
		assertEqual(t, "IntentDecision", msgs[i].Context.IntentDecision, got[i].Context.IntentDecision)
		assertEqual(t, "IntentConfidence", msgs[i].Context.IntentConfidence, got[i].Context.IntentConfidence)
		assertEqual(t, "PromptUsed", msgs[i].Context.PromptUsed, got[i].Context.PromptUsed)
		assertEqual(t, "Direction", msgs[i].Context.Direction, got[i].Context.Direction)
		assertEqual(t, "DomainContext len", len(msgs[i].Context.DomainContext), len(got[i].Context.DomainContext))
		assertEqual(t, "CulturalContext len", len(msgs[i].Context.CulturalContext), len(got[i].Context.CulturalContext))
		if !got[i].Timestamp.Equal(msgs[i].Timestamp) {
			t.Errorf("Timestamp[%d] = %v, want %v", i, got[i].Timestamp, msgs[i].Timestamp)
		}
	}

	after, _, _ := s.GetSession(ctx, id)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt not bumped: before %v after %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestSaveMessageUnknownSession(t *testing.T) {
	s := openStore(t)
	err := s.SaveMessage(context.Background(), &conversation.Message{
		ID: uuid.NewString(), SessionID: "missing-" + uuid.NewString(), Timestamp: time.Now(), Speaker: conversation.SpeakerPatient,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestTriageAudit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := createSession(t, s)

	now := time.Now().Truncate(time.Microsecond).UTC()
	for _, label := range []intent.Label{intent.MedicalRequired, intent.SmallTalk} {
		if err := s.SaveTriageRecord(ctx, &conversation.TriageRecord{
			SessionID: id, Message: "deid", Label: label, Confidence: 0.5, CreatedAt: now,
		}); err != nil {
			t.Fatalf("SaveTriageRecord: %v", err)
		}
	}

	got, err := s.TriageRecords(ctx, id)
	if err != nil {
		t.Fatalf("TriageRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	assertEqual(t, "Label[0]", intent.MedicalRequired, got[0].Label)
	assertEqual(t, "Label[1]", intent.SmallTalk, got[1].Label)
	assertEqual(t, "Confidence", 0.5, got[0].Confidence)
}

func TestListSessionsOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	older := createSession(t, s)
	newer := createSession(t, s)

	// a message write moves the older session to the front
	if err := s.SaveMessage(ctx, &conversation.Message{
		ID: uuid.NewString(), SessionID: older, Timestamp: time.Now(), Speaker: conversation.SpeakerDoctor,
	}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	pos := map[string]int{}
	for i, sess := range list {
		pos[sess.ID] = i
	}
	if pos[older] > pos[newer] {
		t.Errorf("session with latest write should come first: older at %d, newer at %d", pos[older], pos[newer])
	}
}
