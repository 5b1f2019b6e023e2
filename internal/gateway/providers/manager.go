package providers

import (
	"fmt"
	"strings"
)

// Manager holds the configured upstream providers and maps models to them.
type Manager struct {
	providers map[string]Provider
}

// NewManager creates a provider for each configured name. An unknown name is
// a configuration error.
func NewManager(names []string) (*Manager, error) {
	m := &Manager{
		providers: make(map[string]Provider, len(names)),
	}

	for _, name := range names {
		if _, ok := m.providers[name]; ok {
			continue
		}
		switch name {
		case "openrouter":
			m.providers[name] = NewOpenRouterProvider()
		case "gemini":
			m.providers[name] = NewGeminiProvider()
		default:
			return nil, fmt.Errorf("unsupported provider: %s", name)
		}
	}

	return m, nil
}

// Get returns the provider registered under name.
func (m *Manager) Get(name string) (Provider, bool) {
	p, ok := m.providers[name]
	return p, ok
}

// LookupProvider determines which provider serves a model. Models prefixed
// "gemini" go straight to Google; everything else rides OpenRouter's
// catalogue. ok is false when that provider has no configured keys.
func (m *Manager) LookupProvider(model string) (string, bool) {
	name := "openrouter"
	if strings.HasPrefix(model, "gemini") {
		name = "gemini"
	}
	_, ok := m.providers[name]
	return name, ok
}
