package providers

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// ============================================================================
// Request Conversion Tests
// ============================================================================

func TestGeminiConvertRequest_RoleMapping(t *testing.T) {
	p := NewGeminiProvider()
	req := ChatRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}

	out := p.convertRequest(req)

	if len(out.Contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(out.Contents))
	}
	// Gemini has no system role; assistant turns become "model"
	if out.Contents[0].Role != "user" {
		t.Errorf("Expected system mapped to user, got %s", out.Contents[0].Role)
	}
	if out.Contents[1].Role != "user" {
		t.Errorf("Expected user, got %s", out.Contents[1].Role)
	}
	if out.Contents[2].Role != "model" {
		t.Errorf("Expected assistant mapped to model, got %s", out.Contents[2].Role)
	}
	if out.Contents[1].Parts[0].Text != "hi" {
		t.Errorf("Expected message text carried, got %q", out.Contents[1].Parts[0].Text)
	}
}

func TestGeminiConvertRequest_GenerationConfig(t *testing.T) {
	p := NewGeminiProvider()

	// No knobs set, no config block at all
	if out := p.convertRequest(ChatRequest{}); out.GenerationConfig != nil {
		t.Error("Expected nil generation config")
	}

	req := ChatRequest{
		Temperature: float32Ptr(0.5),
		MaxTokens:   intPtr(128),
	}
	out := p.convertRequest(req)
	if out.GenerationConfig == nil {
		t.Fatal("Expected generation config")
	}
	if *out.GenerationConfig.Temperature != 0.5 {
		t.Errorf("Expected temperature 0.5, got %v", *out.GenerationConfig.Temperature)
	}
	if *out.GenerationConfig.MaxOutputTokens != 128 {
		t.Errorf("Expected max output 128, got %d", *out.GenerationConfig.MaxOutputTokens)
	}
	if out.GenerationConfig.TopP != nil {
		t.Error("Expected unset top_p to stay nil")
	}
}

// ============================================================================
// Response Conversion Tests
// ============================================================================

func TestGeminiConvertResponse(t *testing.T) {
	p := NewGeminiProvider()
	resp := GeminiResponse{
		Candidates: []GeminiCandidate{
			{
				Content: GeminiContent{
					Role:  "model",
					Parts: []GeminiPart{{Text: "Hel"}, {Text: "lo"}},
				},
				FinishReason: "STOP",
			},
		},
		UsageMetadata: GeminiUsage{
			PromptTokenCount:     5,
			CandidatesTokenCount: 7,
			TotalTokenCount:      12,
		},
	}

	out := p.convertResponse(resp, "gemini-2.0-flash", 42)

	if len(out.Choices) != 1 {
		t.Fatalf("Expected 1 choice, got %d", len(out.Choices))
	}
	if out.Choices[0].Message.Content != "Hello" {
		t.Errorf("Expected parts concatenated, got %q", out.Choices[0].Message.Content)
	}
	if out.Choices[0].Message.Role != "assistant" {
		t.Errorf("Expected assistant role, got %s", out.Choices[0].Message.Role)
	}
	if out.Model != "gemini-2.0-flash" {
		t.Errorf("Expected model echoed, got %s", out.Model)
	}
	if out.Usage.TotalTokens != 12 || out.Usage.PromptTokens != 5 || out.Usage.CompletionTokens != 7 {
		t.Errorf("Expected usage 5/7/12, got %+v", out.Usage)
	}
	if out.LatencyMs != 42 {
		t.Errorf("Expected latency 42, got %d", out.LatencyMs)
	}
}

func TestGeminiConvertResponse_NoCandidates(t *testing.T) {
	p := NewGeminiProvider()

	out := p.convertResponse(GeminiResponse{}, "gemini-2.0-flash", 0)

	if len(out.Choices) != 1 {
		t.Fatalf("Expected 1 choice, got %d", len(out.Choices))
	}
	if out.Choices[0].Message.Content != "" {
		t.Errorf("Expected empty content, got %q", out.Choices[0].Message.Content)
	}
}

// ============================================================================
// Stream Reading Tests
// ============================================================================

func TestGeminiStreamReader_Recv(t *testing.T) {
	sse := `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]},"index":0}]}

data: not-json

data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":7,"totalTokenCount":12}}
`
	r := &GeminiStreamReader{
		reader: bufio.NewReader(strings.NewReader(sse)),
		model:  "gemini-2.0-flash",
	}

	first, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Model != "gemini-2.0-flash" {
		t.Errorf("Expected model echoed, got %s", first.Model)
	}
	if len(first.Choices) != 1 {
		t.Fatalf("Expected 1 choice, got %d", len(first.Choices))
	}
	if first.Choices[0].Delta.Role != "assistant" {
		t.Errorf("Expected assistant role in first chunk, got %q", first.Choices[0].Delta.Role)
	}
	if first.Choices[0].Delta.Content != "Hel" {
		t.Errorf("Expected Hel, got %q", first.Choices[0].Delta.Content)
	}
	if first.Choices[0].FinishReason != "" {
		t.Errorf("Expected no finish reason yet, got %s", first.Choices[0].FinishReason)
	}

	// The malformed data line is skipped, not surfaced
	second, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if second.Choices[0].Delta.Content != "lo" {
		t.Errorf("Expected lo, got %q", second.Choices[0].Delta.Content)
	}
	if second.Choices[0].FinishReason != "stop" {
		t.Errorf("Expected stop, got %s", second.Choices[0].FinishReason)
	}
	if second.Usage == nil || second.Usage.TotalTokens != 12 {
		t.Errorf("Expected usage chunk with 12 total tokens, got %+v", second.Usage)
	}

	if _, err := r.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestGeminiStreamReader_CloseWithoutResponse(t *testing.T) {
	r := &GeminiStreamReader{}
	if err := r.Close(); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}
