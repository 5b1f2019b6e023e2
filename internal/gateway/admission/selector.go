package admission

import (
	"fmt"
	"sort"
)

// Selector picks the best eligible key for a provider, spreading load across
// keys whose utilization sits within a bounded gap of the least-used one.
type Selector struct {
	registry *Registry
	gap      float64 // percentage points
}

// NewSelector creates a selector over registry. gapPercentage is the maximum
// allowed utilization spread, in percentage points, between the chosen key
// and the least-utilized eligible key.
func NewSelector(registry *Registry, gapPercentage float64) *Selector {
	return &Selector{registry: registry, gap: gapPercentage}
}

// Grant is a committed reservation plus everything the forwarding layer
// needs to place the provider call. Secret is carried for the provider
// client and is never serialized.
type Grant struct {
	Provider    string
	KeyID       string
	Secret      string
	Caps        Caps
	Reservation *Reservation
}

// Select picks a key for provider that can admit one more request plus
// estimatedTokens and commits the reservation on it.
//
// Eligibility is probed first without touching any counter; the commit
// re-checks under the key lock, so losing a race to a concurrent caller
// falls through to the next candidate instead of overshooting a cap.
// Candidates are the eligible keys whose day-window utilization lies within
// the configured gap of the minimum, ordered by utilization and then key ID
// so the pick is deterministic.
func (s *Selector) Select(provider string, estimatedTokens int) (*Grant, error) {
	keys := s.registry.KeysFor(provider)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	type candidate struct {
		key  *Key
		util float64
	}
	eligible := make([]candidate, 0, len(keys))
	for _, k := range keys {
		reason, util := k.probe(estimatedTokens)
		if reason != ReasonNone {
			continue
		}
		eligible = append(eligible, candidate{key: k, util: util})
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleKey
	}

	minUtil := eligible[0].util
	for _, c := range eligible[1:] {
		if c.util < minUtil {
			minUtil = c.util
		}
	}

	candidates := eligible[:0]
	for _, c := range eligible {
		if (c.util-minUtil)*100 <= s.gap {
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].util != candidates[j].util {
			return candidates[i].util < candidates[j].util
		}
		return candidates[i].key.id < candidates[j].key.id
	})

	for _, c := range candidates {
		res, reason := c.key.TryReserve(estimatedTokens)
		if reason != ReasonNone {
			// Lost the race for this key; the next candidate is still
			// within the fairness gap.
			continue
		}
		return &Grant{
			Provider:    provider,
			KeyID:       c.key.id,
			Secret:      c.key.secret,
			Caps:        c.key.caps,
			Reservation: res,
		}, nil
	}
	return nil, ErrNoEligibleKey
}
