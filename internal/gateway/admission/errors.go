package admission

import "errors"

// Reason identifies the rate-limit dimension that rejected a reservation.
type Reason string

const (
	// ReasonNone means the reservation was admitted.
	ReasonNone Reason = ""

	ReasonPerMinuteRequests Reason = "per_minute_requests"
	ReasonPerDayRequests    Reason = "per_day_requests"
	ReasonPerMinuteTokens   Reason = "per_minute_tokens"
)

var (
	// ErrNoEligibleKey is the expected outcome when every key for a
	// provider is over at least one cap. Callers treat it as a normal
	// rejection, not a failure.
	ErrNoEligibleKey = errors.New("no eligible key")

	// ErrUnknownModel means the requested model maps to no configured
	// provider.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUnknownProvider means no keys are configured for the provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownKey means the key ID does not belong to the provider.
	ErrUnknownKey = errors.New("unknown key")
)
