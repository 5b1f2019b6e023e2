package providers

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	TopP        *float32                       `json:"top_p,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
	Tools       []openai.Tool                  `json:"tools,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID                string                        `json:"id"`
	Object            string                        `json:"object"`
	Created           int64                         `json:"created"`
	Model             string                        `json:"model"`
	Choices           []openai.ChatCompletionChoice `json:"choices"`
	Usage             openai.Usage                  `json:"usage"`
	SystemFingerprint string                        `json:"system_fingerprint,omitempty"`
	LatencyMs         int                           `json:"latency_ms,omitempty"`
}

// StreamReader is an interface for streaming responses
type StreamReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Provider is the interface all upstream providers implement. The API key is
// passed per call because the gateway rotates between keys per request.
type Provider interface {
	ChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error)
	ChatCompletionStream(ctx context.Context, apiKey string, req ChatRequest) (StreamReader, error)
	GetProviderName() string
}
