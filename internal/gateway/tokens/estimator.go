// Package tokens estimates request token consumption ahead of admission.
// Estimates use a chars-per-token heuristic; admission windows are later
// reconciled with provider-reported usage, so precision matters less than
// being cheap and deterministic.
package tokens

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"

	"github.com/keywheel/keywheel/internal/gateway/providers"
)

const (
	charsPerToken              = 4.0
	messageOverheadTokens      = 3
	conversationOverheadTokens = 3
	toolOverheadTokens         = 10
	minCompletionEstimate      = 100
	maxCompletionEstimate      = 1000
)

// EstimateRequest approximates the total tokens a chat completion will
// consume. The prompt side comes from the messages and tool definitions; the
// completion side is max_tokens when the client sets it, otherwise a third of
// the prompt clamped to a sane range.
func EstimateRequest(req providers.ChatRequest) int {
	prompt := estimateMessages(req.Messages) + estimateTools(req.Tools)
	return prompt + estimateCompletion(req.MaxTokens, prompt)
}

func estimateMessages(messages []openai.ChatCompletionMessage) int {
	if len(messages) == 0 {
		return 0
	}
	total := conversationOverheadTokens
	for _, m := range messages {
		total += messageOverheadTokens
		total += estimateText(m.Role)
		total += estimateText(m.Content)
		if m.Name != "" {
			total += estimateText(m.Name)
		}
		for _, tc := range m.ToolCalls {
			total += toolOverheadTokens
			total += estimateText(tc.Function.Name)
			total += estimateText(tc.Function.Arguments)
		}
	}
	return total
}

func estimateTools(tools []openai.Tool) int {
	total := 0
	for _, t := range tools {
		total += toolOverheadTokens
		if t.Function == nil {
			continue
		}
		total += estimateText(t.Function.Name)
		total += estimateText(t.Function.Description)
		if t.Function.Parameters != nil {
			if raw, err := json.Marshal(t.Function.Parameters); err == nil {
				total += estimateText(string(raw))
			}
		}
	}
	return total
}

func estimateCompletion(maxTokens *int, promptTokens int) int {
	if maxTokens != nil && *maxTokens > 0 {
		return *maxTokens
	}
	est := promptTokens / 3
	if est < minCompletionEstimate {
		return minCompletionEstimate
	}
	if est > maxCompletionEstimate {
		return maxCompletionEstimate
	}
	return est
}

// estimateText converts text length to tokens with a chars/4 heuristic,
// rounding to nearest and never reporting zero for non-empty text.
func estimateText(s string) int {
	if len(s) == 0 {
		return 0
	}
	tokens := float64(len(s)) / charsPerToken
	if tokens < 1 {
		return 1
	}
	return int(tokens + 0.5)
}
