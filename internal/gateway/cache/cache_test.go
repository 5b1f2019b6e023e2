package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/keywheel/keywheel/internal/gateway/providers"
)

func testRequest(model, content string) providers.ChatRequest {
	return providers.ChatRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}
}

// ============================================================================
// Cache Key Tests
// ============================================================================

func TestGenerateCacheKey_Deterministic(t *testing.T) {
	c := New(nil, time.Hour)

	a := c.generateCacheKey(testRequest("gemini-2.0-flash", "hi"))
	b := c.generateCacheKey(testRequest("gemini-2.0-flash", "hi"))

	if a != b {
		t.Errorf("Expected identical keys, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "cache:exact:") {
		t.Errorf("Expected cache:exact: prefix, got %s", a)
	}
}

func TestGenerateCacheKey_VariesByModel(t *testing.T) {
	c := New(nil, time.Hour)

	a := c.generateCacheKey(testRequest("gemini-2.0-flash", "hi"))
	b := c.generateCacheKey(testRequest("gemini-2.5-flash", "hi"))

	if a == b {
		t.Error("Expected different keys for different models")
	}
}

func TestGenerateCacheKey_VariesByContent(t *testing.T) {
	c := New(nil, time.Hour)

	a := c.generateCacheKey(testRequest("gemini-2.0-flash", "hi"))
	b := c.generateCacheKey(testRequest("gemini-2.0-flash", "hello"))

	if a == b {
		t.Error("Expected different keys for different messages")
	}
}

func TestGenerateCacheKey_VariesByKnobs(t *testing.T) {
	c := New(nil, time.Hour)

	temp := float32(0.7)
	with := testRequest("gemini-2.0-flash", "hi")
	with.Temperature = &temp

	a := c.generateCacheKey(testRequest("gemini-2.0-flash", "hi"))
	b := c.generateCacheKey(with)

	if a == b {
		t.Error("Expected different keys when sampling knobs differ")
	}
}

func TestGenerateCacheKey_PointerIdentityIrrelevant(t *testing.T) {
	c := New(nil, time.Hour)

	// Equal values behind distinct pointers must hash identically
	t1, t2 := float32(0.7), float32(0.7)
	a := testRequest("gemini-2.0-flash", "hi")
	a.Temperature = &t1
	b := testRequest("gemini-2.0-flash", "hi")
	b.Temperature = &t2

	if c.generateCacheKey(a) != c.generateCacheKey(b) {
		t.Error("Expected pointer identity to not affect the key")
	}
}

func TestGenerateCacheKey_VariesByTools(t *testing.T) {
	c := New(nil, time.Hour)

	with := testRequest("gemini-2.0-flash", "hi")
	with.Tools = []openai.Tool{
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{Name: "get_weather"}},
	}

	if c.generateCacheKey(testRequest("gemini-2.0-flash", "hi")) == c.generateCacheKey(with) {
		t.Error("Expected different keys when tool definitions differ")
	}
}
