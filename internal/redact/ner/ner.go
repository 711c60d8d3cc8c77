// Package ner is a client for an HTTP named-entity-recognition sidecar
// (for example a spaCy service). It implements redact.Recognizer, reporting
// PERSON annotations as name spans.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/medbridge/internal/redact"
)

const (
	labelPerson = "PERSON"
	httpTimeout = 10 * time.Second
	maxBody     = 1 << 20
)

// Annotation is one entity reported by the sidecar. Offsets are in
// characters (runes), not bytes.
type Annotation struct {
	Label     string `json:"label"`
	Text      string `json:"text"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
}

// Client posts text to the sidecar endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Client for the given annotate endpoint URL.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Annotate returns all annotations for text.
func (c *Client) Annotate(ctx context.Context, text string) ([]Annotation, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return nil, fmt.Errorf("ner request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out []Annotation
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out, nil
}

// Recognize implements redact.Recognizer. Only PERSON annotations are kept,
// converted from rune offsets to byte offsets. Annotations with offsets
// outside the text are dropped.
func (c *Client) Recognize(ctx context.Context, text string) ([]redact.Span, error) {
	anns, err := c.Annotate(ctx, text)
	if err != nil {
		return nil, err
	}

	offsets := runeOffsets(text)
	runes := len(offsets) - 1

	var spans []redact.Span
	for _, a := range anns {
		if a.Label != labelPerson {
			continue
		}
		if a.StartChar < 0 || a.EndChar > runes || a.StartChar >= a.EndChar {
			continue
		}
		spans = append(spans, redact.Span{
			Type:  redact.TypeName,
			Start: offsets[a.StartChar],
			End:   offsets[a.EndChar],
		})
	}
	return spans, nil
}

// runeOffsets returns the byte offset of every rune in s, plus len(s).
func runeOffsets(s string) []int {
	out := make([]int, 0, len(s)+1)
	for i := range s {
		out = append(out, i)
	}
	return append(out, len(s))
}
