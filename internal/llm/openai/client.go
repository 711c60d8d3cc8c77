// Package openai implements llm.Provider and text embeddings on the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/medbridge/internal/llm"
)

// Client calls the OpenAI chat completion and embedding endpoints.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// Option configures a Client.
type Option func(*openai.ClientConfig)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *openai.ClientConfig) { c.BaseURL = u }
}

// New creates an OpenAI client with default chat and embedding models.
func New(apiKey, model, embeddingModel string, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Send runs a chat completion and returns the first choice.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}

	return &llm.Response{
		Text:       resp.Choices[0].Message.Content,
		StopReason: string(resp.Choices[0].FinishReason),
		Model:      resp.Model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty data")
	}
	return resp.Data[0].Embedding, nil
}

func toChatMessages(system string, msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// temperature maps 0 to the smallest positive float32; go-openai omits a
// zero temperature from the request, which the API treats as 1.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
