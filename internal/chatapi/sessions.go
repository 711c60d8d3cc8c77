package chatapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type startSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	// an empty body asks for a generated id
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	id, err := a.svc.StartSession(r.Context(), req.SessionID)
	if err != nil {
		a.fail(w, r, err, "failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, _ := sessionSpan(r)

	sess, err := a.svc.GetSession(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := sessionSpan(r)

	msgs, err := a.svc.Conversation(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get conversation", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func (a *API) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id, _ := sessionSpan(r)

	summary, err := a.svc.SummarizeSession(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to summarize session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "summary": summary})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, _ := sessionSpan(r)

	if err := a.svc.EndSession(r.Context(), id); err != nil {
		a.fail(w, r, err, "failed to end session", "session_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
