package admission

import "errors"

// ProviderLookup maps a model name to its serving provider. ok is false when
// the model belongs to no configured provider.
type ProviderLookup func(model string) (provider string, ok bool)

// Resolver walks an ordered candidate-model list until one candidate's
// provider yields an eligible key. The order is caller-configured fallback
// priority and is never reordered here.
type Resolver struct {
	candidates []string
	selector   *Selector
	lookup     ProviderLookup
}

// NewResolver creates a resolver over the configured candidate list.
func NewResolver(candidates []string, selector *Selector, lookup ProviderLookup) *Resolver {
	return &Resolver{
		candidates: append([]string(nil), candidates...),
		selector:   selector,
		lookup:     lookup,
	}
}

// Candidates returns the configured fallback list in priority order.
func (r *Resolver) Candidates() []string {
	return append([]string(nil), r.candidates...)
}

// Resolve returns the first candidate model whose provider can admit the
// request, together with the committed grant. Candidates that map to no
// configured provider are skipped; every candidate exhausted yields
// ErrNoEligibleKey.
func (r *Resolver) Resolve(estimatedTokens int) (string, *Grant, error) {
	for _, model := range r.candidates {
		provider, ok := r.lookup(model)
		if !ok {
			continue
		}
		grant, err := r.selector.Select(provider, estimatedTokens)
		if err != nil {
			if errors.Is(err, ErrNoEligibleKey) || errors.Is(err, ErrUnknownProvider) {
				continue
			}
			return "", nil, err
		}
		return model, grant, nil
	}
	return "", nil, ErrNoEligibleKey
}
