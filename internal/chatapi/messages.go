package chatapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/medbridge/internal/conversation"
)

type messageRequest struct {
	Text      string `json:"text"`
	Speaker   string `json:"speaker"`
	SessionID string `json:"session_id"`
}

// handleProcessMessage serves both POST /messages (session id in the body,
// optional) and POST /sessions/{id}/messages (id in the path wins).
func (a *API) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	id, span := sessionSpan(r)
	if id == "" {
		id = req.SessionID
	}

	res, err := a.svc.ProcessMessage(r.Context(), req.Text, conversation.Speaker(req.Speaker), id)
	if err != nil {
		a.fail(w, r, err, "failed to process message", "session_id", id)
		return
	}

	span.SetAttributes(
		attribute.String("medbridge.session.id", res.SessionID),
		attribute.String("medbridge.intent", string(res.IntentDecision)),
		attribute.Bool("medbridge.degraded", res.Degraded()),
	)
	writeJSON(w, http.StatusOK, res)
}
