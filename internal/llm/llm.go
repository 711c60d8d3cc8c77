// Package llm defines the provider-neutral request/response shapes used for
// classification, translation and summarization calls.
package llm

import (
	"context"
	"time"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single plain-text conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Model overrides the provider default when set.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// UserPrompt builds a Request with a single user message.
func UserPrompt(system, prompt string, maxTokens int, temperature float64) *Request {
	return &Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Response is the text output of a completion call.
type Response struct {
	Text       string
	StopReason string
	Model      string
	Usage      Usage
}

// Usage reports token consumption for a call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CallHook observes every provider call.
type CallHook func(model string, usage Usage, duration time.Duration, err error)

type observed struct {
	next Provider
	hook CallHook
}

// Observe wraps p so hook runs after each call. A nil hook returns p unchanged.
func Observe(p Provider, hook CallHook) Provider {
	if hook == nil {
		return p
	}
	return &observed{next: p, hook: hook}
}

func (o *observed) Send(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := o.next.Send(ctx, req)
	var (
		usage Usage
		model = req.Model
	)
	if resp != nil {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
	}
	o.hook(model, usage, time.Since(start), err)
	return resp, err
}
