package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterHTTPClient is shared by the per-key clients for connection reuse.
var openRouterHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
}

// OpenRouterProvider handles OpenRouter API requests. OpenRouter speaks the
// OpenAI wire format, so the stock client pointed at its base URL does the
// heavy lifting. Keys are supplied per call for rotation.
type OpenRouterProvider struct{}

// NewOpenRouterProvider creates a new OpenRouter provider
func NewOpenRouterProvider() *OpenRouterProvider {
	return &OpenRouterProvider{}
}

func (p *OpenRouterProvider) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = openRouterBaseURL
	cfg.HTTPClient = openRouterHTTPClient
	return openai.NewClientWithConfig(cfg)
}

func buildOpenAIRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
		Stream:   stream,
	}

	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if stream {
		// Ask for a final usage chunk so token accounting can reconcile
		// against real numbers instead of the estimate.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out
}

// ChatCompletion makes a chat completion request to OpenRouter
func (p *OpenRouterProvider) ChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	resp, err := p.client(apiKey).CreateChatCompletion(ctx, buildOpenAIRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("OpenRouter API error: %w", err)
	}

	latencyMs := int(time.Since(startTime).Milliseconds())

	return &ChatResponse{
		ID:                resp.ID,
		Object:            resp.Object,
		Created:           resp.Created,
		Model:             resp.Model,
		Choices:           resp.Choices,
		Usage:             resp.Usage,
		SystemFingerprint: resp.SystemFingerprint,
		LatencyMs:         latencyMs,
	}, nil
}

// ChatCompletionStream creates a streaming chat completion request
func (p *OpenRouterProvider) ChatCompletionStream(ctx context.Context, apiKey string, req ChatRequest) (StreamReader, error) {
	stream, err := p.client(apiKey).CreateChatCompletionStream(ctx, buildOpenAIRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("OpenRouter streaming API error: %w", err)
	}

	return &OpenRouterStreamReader{stream: stream}, nil
}

// OpenRouterStreamReader wraps the client's stream
type OpenRouterStreamReader struct {
	stream *openai.ChatCompletionStream
}

// Recv reads the next chunk
func (r *OpenRouterStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	return r.stream.Recv()
}

// Close closes the stream
func (r *OpenRouterStreamReader) Close() error {
	r.stream.Close()
	return nil
}

// GetProviderName returns the provider name
func (p *OpenRouterProvider) GetProviderName() string {
	return "openrouter"
}
