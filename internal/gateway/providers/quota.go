package providers

import (
	"regexp"
	"strings"
)

// quotaPatterns matches upstream error text that means the key itself is out
// of quota, as opposed to a transient failure or a bad request.
var quotaPatterns = map[string][]*regexp.Regexp{
	"openrouter": {
		regexp.MustCompile(`(?i)rate.?limit`),
		regexp.MustCompile(`(?i)quota`),
		regexp.MustCompile(`\b429\b`),
	},
	"gemini": {
		regexp.MustCompile(`RESOURCE_EXHAUSTED`),
		regexp.MustCompile(`(?i)quota`),
		regexp.MustCompile(`\b429\b`),
	},
}

// IsQuotaError reports whether err looks like the provider rejecting this key
// for quota or rate-limit reasons. Those keys get cooled down instead of
// retried immediately.
func IsQuotaError(provider string, err error) bool {
	if err == nil {
		return false
	}
	patterns, ok := quotaPatterns[provider]
	if !ok {
		return false
	}
	msg := err.Error()
	for _, re := range patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// IsRetryableError checks if an error should trigger rotation to another key
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "status 5")
}
