package handlers

import (
	"encoding/json"
	"net/http"
)

// Error types clients see in the OpenAI-style error envelope.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypePermission     = "permission_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeAPI            = "api_error"
)

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError sends an OpenAI-style error envelope
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{
		Error: apiErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
