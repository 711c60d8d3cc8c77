// Package chatapi exposes the conversation service over HTTP.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medbridge/internal/conversation"
)

// ConversationService defines the business operations chatapi needs.
type ConversationService interface {
	StartSession(ctx context.Context, id string) (string, error)
	GetSession(ctx context.Context, id string) (*conversation.Session, error)
	ListSessions(ctx context.Context) ([]conversation.Session, error)
	Conversation(ctx context.Context, id string) ([]conversation.Message, error)
	ProcessMessage(ctx context.Context, text string, speaker conversation.Speaker, sessionID string) (*conversation.TurnResult, error)
	SummarizeSession(ctx context.Context, id string) (string, error)
	EndSession(ctx context.Context, id string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ConversationService
}

// New creates a new API handler.
func New(logger log.Logger, svc ConversationService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("conversation service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", a.handleProcessMessage)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", a.handleStartSession)
			r.Get("/", a.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Get("/messages", a.handleConversation)
				r.Post("/messages", a.handleProcessMessage)
				r.Post("/summary", a.handleSummarize)
				r.Post("/end", a.handleEndSession)
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service errors onto status codes. Unexpected errors are logged
// and reported as 500 without detail.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrInvalidSpeaker):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, conversation.ErrNoMessages):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func sessionSpan(r *http.Request) (string, trace.Span) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	if id != "" {
		span.SetAttributes(attribute.String("medbridge.session.id", id))
	}
	return id, span
}
