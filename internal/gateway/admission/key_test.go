package admission

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives key windows deterministically in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: windowEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testKey(clock *fakeClock, caps Caps) *Key {
	return newKey("gemini", "test-secret", caps, clock.Now)
}

// tokenSum reads the minute-token window for assertions.
func tokenSum(k *Key) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.minuteTokens.sum(k.now())
}

// ============================================================================
// Reservation Admission Tests
// ============================================================================

func TestKey_RejectsPerMinuteRequests(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 2})

	for i := 0; i < 2; i++ {
		if _, reason := k.TryReserve(10); reason != ReasonNone {
			t.Fatalf("Expected reservation %d to be admitted, got %s", i+1, reason)
		}
	}

	if _, reason := k.TryReserve(10); reason != ReasonPerMinuteRequests {
		t.Errorf("Expected %s, got %s", ReasonPerMinuteRequests, reason)
	}
}

func TestKey_RejectsPerDayRequests(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 2, MaxTokenMin: 100000, MaxRequestMin: 100})

	for i := 0; i < 2; i++ {
		if _, reason := k.TryReserve(10); reason != ReasonNone {
			t.Fatalf("Expected reservation %d to be admitted, got %s", i+1, reason)
		}
	}

	if _, reason := k.TryReserve(10); reason != ReasonPerDayRequests {
		t.Errorf("Expected %s, got %s", ReasonPerDayRequests, reason)
	}
}

func TestKey_RejectsPerMinuteTokens(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 250, MaxRequestMin: 100})

	for i := 0; i < 2; i++ {
		if _, reason := k.TryReserve(100); reason != ReasonNone {
			t.Fatalf("Expected reservation %d to be admitted, got %s", i+1, reason)
		}
	}

	// 200 reserved, another 100 would exceed 250
	if _, reason := k.TryReserve(100); reason != ReasonPerMinuteTokens {
		t.Errorf("Expected %s, got %s", ReasonPerMinuteTokens, reason)
	}
}

func TestKey_PeekDoesNotMutate(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 1})

	if reason := k.Peek(10); reason != ReasonNone {
		t.Fatalf("Expected fresh key to be eligible, got %s", reason)
	}

	minute, day := k.usage()
	if minute != 0 || day != 0 {
		t.Errorf("Peek mutated counters: minute=%d day=%d", minute, day)
	}

	// Peek against a full key reports the reason without touching anything
	if _, reason := k.TryReserve(10); reason != ReasonNone {
		t.Fatal("Expected reservation to be admitted")
	}
	if reason := k.Peek(10); reason != ReasonPerMinuteRequests {
		t.Errorf("Expected %s, got %s", ReasonPerMinuteRequests, reason)
	}

	minute, day = k.usage()
	if minute != 1 || day != 1 {
		t.Errorf("Expected counters minute=1 day=1, got minute=%d day=%d", minute, day)
	}
}

// ============================================================================
// Window Rollover Tests
// ============================================================================

func TestKey_MinuteRollover(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 2})

	k.TryReserve(10)
	k.TryReserve(10)

	if _, reason := k.TryReserve(10); reason != ReasonPerMinuteRequests {
		t.Fatalf("Expected %s, got %s", ReasonPerMinuteRequests, reason)
	}

	// The minute window drains as time passes, no reset needed
	clock.Advance(61 * time.Second)

	if _, reason := k.TryReserve(10); reason != ReasonNone {
		t.Errorf("Expected admission after rollover, got %s", reason)
	}

	// The day window keeps the full history
	_, day := k.usage()
	if day != 3 {
		t.Errorf("Expected day count 3, got %d", day)
	}
}

func TestKey_DayWindowOutlastsMinutes(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 3, MaxTokenMin: 100000, MaxRequestMin: 100})

	for i := 0; i < 3; i++ {
		if _, reason := k.TryReserve(10); reason != ReasonNone {
			t.Fatalf("Expected reservation %d to be admitted, got %s", i+1, reason)
		}
	}

	clock.Advance(61 * time.Second)

	if _, reason := k.TryReserve(10); reason != ReasonPerDayRequests {
		t.Errorf("Expected %s after minute rollover, got %s", ReasonPerDayRequests, reason)
	}
}

// ============================================================================
// Confirm / Release Tests
// ============================================================================

func TestReservation_ConfirmReconcilesTokens(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 1000, MaxRequestMin: 100})

	res, reason := k.TryReserve(100)
	if reason != ReasonNone {
		t.Fatalf("Expected reservation to be admitted, got %s", reason)
	}
	if got := tokenSum(k); got != 100 {
		t.Fatalf("Expected 100 reserved tokens, got %d", got)
	}

	// The provider reported far more than the estimate
	res.Confirm(950)

	if got := tokenSum(k); got != 950 {
		t.Errorf("Expected 950 tokens after confirm, got %d", got)
	}

	// The corrected total now blocks the next reservation
	if _, reason := k.TryReserve(100); reason != ReasonPerMinuteTokens {
		t.Errorf("Expected %s, got %s", ReasonPerMinuteTokens, reason)
	}

	clock.Advance(61 * time.Second)

	if _, reason := k.TryReserve(100); reason != ReasonNone {
		t.Errorf("Expected admission after token window drained, got %s", reason)
	}
}

func TestReservation_ConfirmIdempotent(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 10000, MaxRequestMin: 100})

	res, _ := k.TryReserve(100)

	res.Confirm(300)
	res.Confirm(300)

	if got := tokenSum(k); got != 300 {
		t.Errorf("Expected 300 tokens after double confirm, got %d", got)
	}
}

func TestReservation_ReleaseRestoresCapacity(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 1})

	res, _ := k.TryReserve(10)

	if _, reason := k.TryReserve(10); reason != ReasonPerMinuteRequests {
		t.Fatalf("Expected key to be full, got %s", reason)
	}

	res.Release()

	if _, reason := k.TryReserve(10); reason != ReasonNone {
		t.Errorf("Expected admission after release, got %s", reason)
	}
}

func TestReservation_ReleaseIdempotent(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 100})

	res, _ := k.TryReserve(100)

	res.Release()
	res.Release()

	minute, day := k.usage()
	if minute != 0 || day != 0 {
		t.Errorf("Expected zero counters after double release, got minute=%d day=%d", minute, day)
	}
	if got := tokenSum(k); got != 0 {
		t.Errorf("Expected zero tokens after double release, got %d", got)
	}
}

func TestReservation_ReleaseAfterConfirmIsNoop(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 10000, MaxRequestMin: 100})

	res, _ := k.TryReserve(100)
	res.Confirm(50)
	res.Release()

	// Confirm settled the reservation; the request still counts
	minute, day := k.usage()
	if minute != 1 || day != 1 {
		t.Errorf("Expected counters minute=1 day=1, got minute=%d day=%d", minute, day)
	}
	if got := tokenSum(k); got != 50 {
		t.Errorf("Expected 50 confirmed tokens, got %d", got)
	}
}

func TestReservation_ReleaseAfterRollover(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 100})

	res, _ := k.TryReserve(100)

	// The minute buckets expire before the release lands
	clock.Advance(61 * time.Second)
	res.Release()

	minute, day := k.usage()
	if minute != 0 || day != 0 {
		t.Errorf("Expected zero counters, got minute=%d day=%d", minute, day)
	}
	if got := tokenSum(k); got != 0 {
		t.Errorf("Expected zero tokens, got %d", got)
	}
}

// ============================================================================
// Exhaustion Cooldown Tests
// ============================================================================

func TestKey_SaturateMinute(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 100, MaxTokenMin: 100000, MaxRequestMin: 15})

	k.TryReserve(10)
	k.TryReserve(10)

	k.saturateMinute()

	if reason := k.Peek(10); reason != ReasonPerMinuteRequests {
		t.Errorf("Expected %s after saturation, got %s", ReasonPerMinuteRequests, reason)
	}

	// Saturation tops up to the cap, never past it
	minute, day := k.usage()
	if minute != 15 {
		t.Errorf("Expected minute count 15, got %d", minute)
	}

	// The day window records only the real requests
	if day != 2 {
		t.Errorf("Expected day count 2, got %d", day)
	}

	// The bench expires with the minute window
	clock.Advance(61 * time.Second)
	if reason := k.Peek(10); reason != ReasonNone {
		t.Errorf("Expected eligibility after cooldown, got %s", reason)
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestKey_ConcurrentReserveRespectsCap(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 10000, MaxTokenMin: 10000000, MaxRequestMin: 15})

	var wg sync.WaitGroup
	granted := 0
	var mu sync.Mutex

	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, reason := k.TryReserve(10); reason == ReasonNone {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Exactly the minute cap may be admitted
	if granted != 15 {
		t.Errorf("Expected 15 grants, got %d", granted)
	}

	minute, _ := k.usage()
	if minute != 15 {
		t.Errorf("Expected minute count 15, got %d", minute)
	}
}

func TestKey_ConcurrentConfirmAndRelease(t *testing.T) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 10000, MaxTokenMin: 10000000, MaxRequestMin: 1000})

	reservations := make([]*Reservation, 0, 100)
	for i := 0; i < 100; i++ {
		res, reason := k.TryReserve(100)
		if reason != ReasonNone {
			t.Fatalf("Expected reservation %d to be admitted, got %s", i+1, reason)
		}
		reservations = append(reservations, res)
	}

	// Half settle, half release, hammered from both sides at once
	var wg sync.WaitGroup
	for i, res := range reservations {
		wg.Add(2)
		confirm := i%2 == 0
		go func(r *Reservation) {
			defer wg.Done()
			if confirm {
				r.Confirm(200)
			} else {
				r.Release()
			}
		}(res)
		go func(r *Reservation) {
			defer wg.Done()
			if confirm {
				r.Confirm(200)
			} else {
				r.Release()
			}
		}(res)
	}
	wg.Wait()

	minute, day := k.usage()
	if minute != 50 || day != 50 {
		t.Errorf("Expected 50 surviving requests, got minute=%d day=%d", minute, day)
	}
	if got := tokenSum(k); got != 50*200 {
		t.Errorf("Expected %d confirmed tokens, got %d", 50*200, got)
	}
}

// ============================================================================
// Key Identity Tests
// ============================================================================

func TestKeyID_StableAndShort(t *testing.T) {
	a := keyID("sk-or-v1-abcdef")
	b := keyID("sk-or-v1-abcdef")
	c := keyID("sk-or-v1-ghijkl")

	if a != b {
		t.Errorf("Expected stable ID, got %s and %s", a, b)
	}
	if a == c {
		t.Error("Expected distinct secrets to yield distinct IDs")
	}
	if len(a) != 8 {
		t.Errorf("Expected 8-character ID, got %q", a)
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkKey_TryReserve(b *testing.B) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 1 << 30, MaxTokenMin: 1 << 30, MaxRequestMin: 1 << 30})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, _ := k.TryReserve(100)
		if res != nil {
			res.Release()
		}
	}
}

func BenchmarkKey_Probe(b *testing.B) {
	clock := newFakeClock()
	k := testKey(clock, Caps{MaxRequestDay: 1500, MaxTokenMin: 150000, MaxRequestMin: 15})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k.probe(100)
		}
	})
}
