package retention

import (
	"strings"
	"testing"
)

// ============================================================================
// Configuration Validation Tests
// ============================================================================

func TestNew_ValidSchedule(t *testing.T) {
	s, err := New(nil, "0 3 * * *", 30)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s == nil {
		t.Fatal("Expected scheduler")
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(nil, "not a cron expression", 30)
	if err == nil {
		t.Fatal("Expected error for invalid schedule")
	}
	if !strings.Contains(err.Error(), "retention schedule") {
		t.Errorf("Expected schedule error, got %v", err)
	}
}

func TestNew_SixFieldScheduleRejected(t *testing.T) {
	// Standard cron has five fields; a seconds column is a config mistake
	if _, err := New(nil, "0 0 3 * * *", 30); err == nil {
		t.Fatal("Expected error for six-field schedule")
	}
}

func TestNew_NonPositiveDays(t *testing.T) {
	for _, days := range []int{0, -7} {
		if _, err := New(nil, "0 3 * * *", days); err == nil {
			t.Errorf("Expected error for %d days", days)
		}
	}
}
