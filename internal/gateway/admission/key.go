package admission

import (
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Caps are the per-key rate limits. All three dimensions are enforced
// simultaneously; a reservation is admitted only when every one has room.
type Caps struct {
	MaxRequestDay int `json:"max_request_day"`
	MaxTokenMin   int `json:"max_token_min"`
	MaxRequestMin int `json:"max_request_min"`
}

// Key is one provider credential with its own quotas. Its three windows
// share a single mutex, the only serialization point for the key, so
// reservations against different keys never contend with each other.
type Key struct {
	provider string
	secret   string
	id       string
	caps     Caps

	mu           sync.Mutex
	minuteReqs   *slidingWindow
	dayReqs      *slidingWindow
	minuteTokens *slidingWindow
	now          func() time.Time
}

func newKey(provider, secret string, caps Caps, now func() time.Time) *Key {
	return &Key{
		provider:     provider,
		secret:       secret,
		id:           keyID(secret),
		caps:         caps,
		minuteReqs:   newSlidingWindow(time.Minute, time.Second),
		dayReqs:      newSlidingWindow(24*time.Hour, time.Minute),
		minuteTokens: newSlidingWindow(time.Minute, time.Second),
		now:          now,
	}
}

// keyID derives a short stable identifier from a key secret. Reports, logs,
// and metrics carry this hash; the secret itself never leaves the registry.
func keyID(secret string) string {
	h := fnv.New64a()
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))[:8]
}

// ID returns the public identifier derived from the secret.
func (k *Key) ID() string { return k.id }

// Provider returns the owning provider name.
func (k *Key) Provider() string { return k.provider }

// Caps returns the key's immutable limits.
func (k *Key) Caps() Caps { return k.caps }

// Peek reports whether a reservation for estimatedTokens would currently be
// admitted, without mutating any counter. The answer can go stale the moment
// the lock is released; TryReserve re-checks before committing.
func (k *Key) Peek(estimatedTokens int) Reason {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.checkLocked(k.now(), estimatedTokens)
}

// probe is Peek plus the day-window utilization, read under one lock
// acquisition so the selector sees a consistent view of the key.
func (k *Key) probe(estimatedTokens int) (Reason, float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	reason := k.checkLocked(now, estimatedTokens)
	util := float64(k.dayReqs.sum(now)) / float64(k.caps.MaxRequestDay)
	return reason, util
}

// TryReserve admits one request plus estimatedTokens against all three
// windows, or rejects with the first exceeded dimension. The counters move
// together under the key lock, so concurrent callers can never jointly push
// any of them past its cap.
func (k *Key) TryReserve(estimatedTokens int) (*Reservation, Reason) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if reason := k.checkLocked(now, estimatedTokens); reason != ReasonNone {
		return nil, reason
	}

	k.minuteReqs.add(now, 1)
	k.dayReqs.add(now, 1)
	k.minuteTokens.add(now, int64(estimatedTokens))

	return &Reservation{
		ID:        uuid.NewString(),
		key:       k,
		at:        now,
		estimated: estimatedTokens,
	}, ReasonNone
}

func (k *Key) checkLocked(now time.Time, estimatedTokens int) Reason {
	if k.minuteReqs.sum(now)+1 > int64(k.caps.MaxRequestMin) {
		return ReasonPerMinuteRequests
	}
	if k.dayReqs.sum(now)+1 > int64(k.caps.MaxRequestDay) {
		return ReasonPerDayRequests
	}
	if k.minuteTokens.sum(now)+int64(estimatedTokens) > int64(k.caps.MaxTokenMin) {
		return ReasonPerMinuteTokens
	}
	return ReasonNone
}

// saturateMinute tops the minute-request window up to its cap so the key
// drops out of rotation until the window drains. Used when the provider
// itself reports quota exhaustion for this key.
func (k *Key) saturateMinute() {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if used := k.minuteReqs.sum(now); used < int64(k.caps.MaxRequestMin) {
		k.minuteReqs.add(now, int64(k.caps.MaxRequestMin)-used)
	}
}

// usage returns the current window occupancy for reporting. Both counts are
// read under one lock acquisition, so a key is never observed mid-increment.
func (k *Key) usage() (minuteReqs, dayReqs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	return k.minuteReqs.sum(now), k.dayReqs.sum(now)
}

// Reservation is a provisional claim against a key's capacity, made before
// the provider call completes. At most one of Confirm or Release takes
// effect; calling either again, or the other afterwards, is a no-op.
type Reservation struct {
	ID string

	key       *Key
	at        time.Time
	estimated int

	mu    sync.Mutex
	state reservationState
}

type reservationState int

const (
	reservationPending reservationState = iota
	reservationConfirmed
	reservationReleased
)

// KeyID returns the public identifier of the reserved key.
func (r *Reservation) KeyID() string { return r.key.id }

// Confirm settles the reservation with the provider's actual token usage.
// The estimate is withdrawn from its admit-time bucket and the actual count
// recorded at confirm time, so the minute-token window may end up above the
// original estimate; later reservations see the corrected total in their
// cap check.
func (r *Reservation) Confirm(actualTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reservationPending {
		return
	}
	r.state = reservationConfirmed

	k := r.key
	k.mu.Lock()
	defer k.mu.Unlock()
	k.minuteTokens.remove(r.at, int64(r.estimated))
	if actualTokens > 0 {
		k.minuteTokens.add(k.now(), int64(actualTokens))
	}
}

// Release undoes the reservation so the key is not penalized for a request
// it never serviced. Idempotent: counters decrease by at most the reserved
// amounts and never go below zero.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reservationPending {
		return
	}
	r.state = reservationReleased

	k := r.key
	k.mu.Lock()
	defer k.mu.Unlock()
	k.minuteReqs.remove(r.at, 1)
	k.dayReqs.remove(r.at, 1)
	k.minuteTokens.remove(r.at, int64(r.estimated))
}
