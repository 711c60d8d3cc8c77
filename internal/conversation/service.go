package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medbridge/internal/enrich"
	"github.com/linnemanlabs/medbridge/internal/intent"
	"github.com/linnemanlabs/medbridge/internal/redact"
	"github.com/linnemanlabs/medbridge/internal/translate"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medbridge/internal/conversation")

var (
	// ErrEmptyMessage is returned for blank message text. It wraps
	// redact.ErrInvalidInput.
	ErrEmptyMessage = fmt.Errorf("empty message: %w", redact.ErrInvalidInput)

	ErrInvalidSpeaker  = errors.New("speaker must be doctor or patient")
	ErrNoMessages      = errors.New("session has no messages")
	ErrSessionNotFound = errors.New("session not found")
)

// SkippedDomainContext replaces the domain context when the intent label
// does not call for medical retrieval.
const SkippedDomainContext = "Medical context: not required (small talk / non-clinical)."

// summaryThreshold is the message count at which re-summarization starts.
const summaryThreshold = 2

// Redactor de-identifies raw text.
type Redactor interface {
	Deidentify(ctx context.Context, text string, st *redact.State) (*redact.Result, error)
}

// Classifier labels de-identified text. On failure it returns a usable
// fallback decision together with the error.
type Classifier interface {
	Classify(ctx context.Context, text string) (intent.Decision, error)
}

// Translator produces the context-conditioned translation. On failure it
// returns a usable Output together with the error.
type Translator interface {
	Translate(ctx context.Context, in translate.Input) (translate.Output, error)
}

// Notifier is told when a session ends.
type Notifier interface {
	Send(ctx context.Context, s *Session) error
}

// Deps are the collaborators of a Service. Notifier and Metrics are optional.
type Deps struct {
	Store      Store
	Redactor   Redactor
	Classifier Classifier
	Gateway    enrich.Gateway
	Translator Translator
	Summarizer Summarizer
	Notifier   Notifier
	Metrics    *Metrics
	Logger     log.Logger
}

// Service runs the per-turn state machine and the session lifecycle.
type Service struct {
	store      Store
	redactor   Redactor
	classifier Classifier
	gateway    enrich.Gateway
	translator Translator
	summarizer Summarizer
	notifier   Notifier
	metrics    *Metrics
	logger     log.Logger
	now        func() time.Time
}

// NewService creates a Service. It panics if a required dependency is nil.
// A nil Gateway disables enrichment.
func NewService(d Deps) *Service {
	switch {
	case d.Store == nil:
		panic(xerrors.New("conversation store is required"))
	case d.Redactor == nil:
		panic(xerrors.New("redactor is required"))
	case d.Classifier == nil:
		panic(xerrors.New("intent classifier is required"))
	case d.Translator == nil:
		panic(xerrors.New("translator is required"))
	case d.Summarizer == nil:
		panic(xerrors.New("summarizer is required"))
	}
	if d.Gateway == nil {
		d.Gateway = enrich.Nop{}
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Service{
		store:      d.Store,
		redactor:   d.Redactor,
		classifier: d.Classifier,
		gateway:    d.Gateway,
		translator: d.Translator,
		summarizer: d.Summarizer,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// StartSession creates a session, generating a UUID when id is empty. An
// existing session with the same id is reset; its messages are kept.
func (s *Service) StartSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	if err := s.store.CreateSession(ctx, &Session{ID: id, CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	s.metrics.sessionStarted()
	s.logger.Info(ctx, "session started", "session_id", id)
	return id, nil
}

// GetSession returns the session or ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Conversation returns the ordered messages of an existing session.
func (s *Service) Conversation(ctx context.Context, id string) ([]Message, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return msgs, nil
}

// ProcessMessage runs one turn: redact, triage, enrich, translate, persist,
// then re-summarize once the session holds at least two messages.
//
// Triage, enrichment and translation failures degrade to defaults and are
// reported on the stage trail. Redaction and store failures abort the turn.
// A summarization failure never fails the turn.
func (s *Service) ProcessMessage(ctx context.Context, text string, speaker Speaker, sessionID string) (*TurnResult, error) {
	if !speaker.Valid() {
		return nil, ErrInvalidSpeaker
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	start := s.now()
	ctx, span := tracer.Start(ctx, "conversation.ProcessMessage", trace.WithAttributes(
		attribute.String("medbridge.speaker", string(speaker)),
	))
	defer span.End()

	res, err := s.runTurn(ctx, text, speaker, sessionID)
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.observeTurn(outcome, time.Since(start))
	return res, err
}

func (s *Service) runTurn(ctx context.Context, text string, speaker Speaker, sessionID string) (*TurnResult, error) {
	res := &TurnResult{Original: text}

	// redact
	st := s.begin(ctx, StageRedact)
	deid, err := s.redactor.Deidentify(st.ctx, text, nil)
	res.Stages = append(res.Stages, s.end(st, false, err))
	if err != nil {
		if errors.Is(err, redact.ErrInvalidInput) {
			return nil, ErrEmptyMessage
		}
		return nil, fmt.Errorf("redact: %w", err)
	}
	res.Deidentified = deid.Text
	res.Entities = deid.Entities
	s.metrics.observeRedaction(deid.Entities)

	// session exists before anything is written against it
	sessionID, err = s.ensureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res.SessionID = sessionID
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("medbridge.session.id", sessionID))
	L := s.logger.With("session_id", sessionID)

	// triage
	st = s.begin(ctx, StageTriage)
	decision, err := s.classifier.Classify(st.ctx, deid.Text)
	if err != nil {
		L.Warn(ctx, "intent classification degraded", "error", err)
		decision = intent.Fallback
	}
	st.span.SetAttributes(
		attribute.String("medbridge.intent.label", string(decision.Label)),
		attribute.Float64("medbridge.intent.confidence", decision.Confidence),
	)
	auditErr := s.store.SaveTriageRecord(st.ctx, &TriageRecord{
		SessionID:  sessionID,
		Message:    deid.Text,
		Label:      decision.Label,
		Confidence: decision.Confidence,
		CreatedAt:  s.now(),
	})
	res.Stages = append(res.Stages, s.end(st, err != nil, errors.Join(err, auditErr)))
	if auditErr != nil {
		return nil, fmt.Errorf("save triage record: %w", auditErr)
	}
	res.IntentDecision = decision.Label
	res.IntentConfidence = decision.Confidence
	s.metrics.observeIntent(string(decision.Label))

	// enrich, one gateway call whose scope follows the label
	scope := enrich.ScopeCulturalOnly
	if decision.Label == intent.MedicalRequired {
		scope = enrich.ScopeAll
	}
	st = s.begin(ctx, StageEnrich)
	st.span.SetAttributes(attribute.String("enrich.scope", scope.String()))
	ectx, err := s.gateway.Retrieve(st.ctx, deid.Text, scope)
	if err != nil {
		L.Warn(ctx, "context enrichment degraded", "scope", scope.String(), "error", err)
	}
	enrichResult := s.end(st, err != nil, err)
	enrichResult.Skipped = scope == enrich.ScopeCulturalOnly
	res.Stages = append(res.Stages, enrichResult)

	res.DomainContext = nonNil(ectx.Domain)
	res.CulturalContext = nonNil(ectx.Cultural)
	if scope == enrich.ScopeCulturalOnly {
		res.DomainContext = []string{SkippedDomainContext}
	}

	// translate
	st = s.begin(ctx, StageTranslate)
	summary, err := s.store.GetSummary(st.ctx, sessionID)
	if err != nil {
		res.Stages = append(res.Stages, s.end(st, false, err))
		return nil, fmt.Errorf("get summary: %w", err)
	}
	out, err := s.translator.Translate(st.ctx, translate.Input{
		Text:     deid.Text,
		Domain:   res.DomainContext,
		Cultural: res.CulturalContext,
		Summary:  summary,
	})
	if err != nil {
		L.Warn(ctx, "translation degraded", "error", err)
		if out.Translation == "" {
			out.Translation = translate.ErrorSentinel
		}
	}
	st.span.SetAttributes(attribute.String("medbridge.direction", string(out.Direction)))
	res.Stages = append(res.Stages, s.end(st, err != nil, err))
	res.Translation = out.Translation
	res.Direction = out.Direction
	res.PromptUsed = out.Prompt

	// persist
	st = s.begin(ctx, StagePersist)
	msg := &Message{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		Timestamp:    s.now(),
		Speaker:      speaker,
		Original:     text,
		Deidentified: deid.Text,
		Translation:  out.Translation,
		Context: MessageContext{
			IntentDecision:   decision.Label,
			IntentConfidence: decision.Confidence,
			DomainContext:    res.DomainContext,
			CulturalContext:  res.CulturalContext,
			PromptUsed:       out.Prompt,
			Direction:        out.Direction,
		},
	}
	err = s.store.SaveMessage(st.ctx, msg)
	res.Stages = append(res.Stages, s.end(st, false, err))
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	res.MessageID = msg.ID

	// summarize, best effort
	st = s.begin(ctx, StageSummarize)
	count, err := s.store.CountMessages(st.ctx, sessionID)
	if err == nil && count < summaryThreshold {
		r := s.end(st, false, nil)
		r.Skipped = true
		res.Stages = append(res.Stages, r)
		L.Info(ctx, "turn complete", "intent", decision.Label, "messages", count, "degraded", res.Degraded())
		return res, nil
	}
	if err == nil {
		_, err = s.summarize(st.ctx, sessionID)
	}
	s.metrics.observeSummary(err)
	if err != nil {
		L.Error(ctx, err, "summarization failed, turn kept")
	}
	res.SummaryUpdated = err == nil
	res.Stages = append(res.Stages, s.end(st, err != nil, err))

	L.Info(ctx, "turn complete", "intent", decision.Label, "messages", count, "degraded", res.Degraded())
	return res, nil
}

// SummarizeSession re-summarizes the full history of a session, stores the
// summary and returns it. It fails with ErrNoMessages on an empty history.
func (s *Service) SummarizeSession(ctx context.Context, id string) (string, error) {
	ctx, span := tracer.Start(ctx, "conversation.SummarizeSession", trace.WithAttributes(
		attribute.String("medbridge.session.id", id),
	))
	defer span.End()

	summary, err := s.summarize(ctx, id)
	if !errors.Is(err, ErrNoMessages) {
		s.metrics.observeSummary(err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return summary, nil
}

func (s *Service) summarize(ctx context.Context, id string) (string, error) {
	msgs, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get conversation: %w", err)
	}
	if len(msgs) == 0 {
		return "", ErrNoMessages
	}
	summary, err := s.summarizer.Summarize(ctx, renderTranscript(msgs))
	if err != nil {
		return "", err
	}
	if err := s.store.SaveSummary(ctx, id, summary); err != nil {
		return "", fmt.Errorf("save summary: %w", err)
	}
	return summary, nil
}

// EndSession marks the session closed and notifies. No data is deleted.
// Notification failures are logged only.
func (s *Service) EndSession(ctx context.Context, id string) error {
	if err := s.store.CloseSession(ctx, id, s.now()); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("close session: %w", err)
	}
	s.metrics.sessionEnded()
	s.logger.Info(ctx, "session ended", "session_id", id)

	if s.notifier == nil {
		return nil
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load ended session for notification", "session_id", id)
		return nil
	}
	if err := s.notifier.Send(ctx, sess); err != nil {
		s.logger.Error(ctx, err, "session notification failed", "session_id", id)
	}
	return nil
}

// ensureSession returns id, creating the session when id is empty or unknown.
func (s *Service) ensureSession(ctx context.Context, id string) (string, error) {
	if id != "" {
		_, ok, err := s.store.GetSession(ctx, id)
		if err != nil {
			return "", fmt.Errorf("get session: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return s.StartSession(ctx, id)
}

type stageRun struct {
	ctx   context.Context
	span  trace.Span
	stage Stage
	start time.Time
}

func (s *Service) begin(ctx context.Context, stage Stage) *stageRun {
	ctx, span := tracer.Start(ctx, "turn."+string(stage))
	return &stageRun{ctx: ctx, span: span, stage: stage, start: time.Now()}
}

func (s *Service) end(st *stageRun, degraded bool, err error) StageResult {
	defer st.span.End()
	r := StageResult{
		Stage:    st.stage,
		Degraded: degraded,
		Duration: time.Since(st.start).Seconds(),
	}
	if err != nil {
		r.Error = err.Error()
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, err.Error())
	}
	st.span.SetAttributes(attribute.Bool("medbridge.stage.degraded", degraded))
	s.metrics.observeStage(r)
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
