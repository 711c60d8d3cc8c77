// Package slack posts session-closed notifications to Slack via incoming
// webhooks. Only the de-identified summary ever leaves the process.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medbridge/internal/conversation"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends closed sessions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Send posts a closed session to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, s *conversation.Session) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(s))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "session_id", s.ID)
	return nil
}

func buildMessage(s *conversation.Session) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			summaryBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

func headerBlock(s *conversation.Session) map[string]any {
	title := "\U0001f7e2 Consultation closed" // green circle
	if s.Summary == "" {
		title = "\U0001f7e1 Consultation closed without summary" // yellow circle
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": title,
		},
	}
}

func fieldsBlock(s *conversation.Session) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Session:* %s", s.ID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Started:* %s", formatTime(s.CreatedAt)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %s", sessionDuration(s)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(s *conversation.Session) map[string]any {
	text := truncate(s.Summary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary (de-identified)*\n\n%s", text),
		},
	}
}

func contextBlock(s *conversation.Session) map[string]any {
	ts := s.UpdatedAt
	if s.ClosedAt != nil {
		ts = *s.ClosedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("medbridge • session %s • %s", s.ID, formatTime(ts)),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func sessionDuration(s *conversation.Session) string {
	if s.ClosedAt == nil || s.CreatedAt.IsZero() || s.ClosedAt.Before(s.CreatedAt) {
		return "unknown"
	}
	return s.ClosedAt.Sub(s.CreatedAt).Round(time.Second).String()
}

// truncate cuts on rune boundaries; summaries are often Devanagari.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
