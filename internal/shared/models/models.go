package models

import "time"

// CompletionLog represents one completion attempt, admitted or rejected.
// RejectReason is set when admission turned the request away before any
// provider call; ErrorMessage is set when the provider call itself failed.
type CompletionLog struct {
	ID               string
	RequestID        string
	Endpoint         string
	Model            string
	Provider         string
	KeyID            string
	StatusCode       int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int
	RejectReason     *string
	ErrorMessage     *string
	CreatedAt        time.Time
}
