package admission

import (
	"fmt"
	"time"
)

// KeySpec describes one credential from configuration.
type KeySpec struct {
	Provider string
	Secret   string
	Caps     Caps
}

// Registry owns every configured key and its counters. Membership is fixed
// at construction for the process lifetime; only counters mutate, and only
// through reservation calls.
type Registry struct {
	providers map[string]*providerKeys
	names     []string
	now       func() time.Time
}

type providerKeys struct {
	name string
	keys []*Key
	caps Caps // caps of the first declared entry, echoed in usage reports
}

// NewRegistry validates specs eagerly and builds the immutable key set.
// Malformed entries reject startup: the process must never serve against a
// partially loaded registry.
func NewRegistry(specs []KeySpec) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*providerKeys),
		now:       time.Now,
	}

	for _, spec := range specs {
		if spec.Provider == "" {
			return nil, fmt.Errorf("provider key entry with empty provider name")
		}
		if spec.Secret == "" {
			return nil, fmt.Errorf("provider %s: empty key", spec.Provider)
		}
		if spec.Caps.MaxRequestDay <= 0 || spec.Caps.MaxTokenMin <= 0 || spec.Caps.MaxRequestMin <= 0 {
			return nil, fmt.Errorf("provider %s: caps must be positive (max_request_day=%d max_token_min=%d max_request_min=%d)",
				spec.Provider, spec.Caps.MaxRequestDay, spec.Caps.MaxTokenMin, spec.Caps.MaxRequestMin)
		}

		p, ok := r.providers[spec.Provider]
		if !ok {
			p = &providerKeys{name: spec.Provider, caps: spec.Caps}
			r.providers[spec.Provider] = p
			r.names = append(r.names, spec.Provider)
		}
		for _, existing := range p.keys {
			if existing.secret == spec.Secret {
				return nil, fmt.Errorf("provider %s: duplicate key %s", spec.Provider, keyID(spec.Secret))
			}
		}
		p.keys = append(p.keys, newKey(spec.Provider, spec.Secret, spec.Caps, r.clock))
	}

	if len(r.names) == 0 {
		return nil, fmt.Errorf("no provider keys configured")
	}
	return r, nil
}

// clock indirects through r.now so the registry's time source is swappable
// in one place.
func (r *Registry) clock() time.Time { return r.now() }

// KeysFor returns the provider's keys in declared configuration order, or
// nil for an unknown provider.
func (r *Registry) KeysFor(provider string) []*Key {
	p, ok := r.providers[provider]
	if !ok {
		return nil
	}
	return p.keys
}

// HasProvider reports whether any key is configured for provider.
func (r *Registry) HasProvider(provider string) bool {
	_, ok := r.providers[provider]
	return ok
}

// ProviderNames returns configured provider names in declared order.
func (r *Registry) ProviderNames() []string {
	return append([]string(nil), r.names...)
}

// Reserve admits a reservation against one specific key, identified by its
// public ID. The admission check and counter increments happen atomically
// under that key's lock.
func (r *Registry) Reserve(provider, keyID string, estimatedTokens int) (*Reservation, error) {
	k, err := r.key(provider, keyID)
	if err != nil {
		return nil, err
	}
	res, reason := k.TryReserve(estimatedTokens)
	if reason != ReasonNone {
		return nil, fmt.Errorf("%w: key %s rejected (%s)", ErrNoEligibleKey, keyID, reason)
	}
	return res, nil
}

// MarkExhausted saturates a key's minute-request window after the provider
// itself reported quota exhaustion, benching the key until the window
// drains. Unknown provider/key pairs are ignored; the caller is reacting to
// a live grant, not user input.
func (r *Registry) MarkExhausted(provider, keyID string) {
	if k, err := r.key(provider, keyID); err == nil {
		k.saturateMinute()
	}
}

func (r *Registry) key(provider, keyID string) (*Key, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	for _, k := range p.keys {
		if k.id == keyID {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownKey, provider, keyID)
}
