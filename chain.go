package metergate

import "fmt"

// Candidate is one entry of a CandidateChain.
type Candidate struct {
	Model    string
	Provider ProviderKey
	Adapter  Provider // nil when no adapter is registered for Provider
	Auth     Auth
	Price    Price // static price, used for ordering only
}

// BlendedCost returns a per-million estimate for sorting, weighting output
// tokens twice as heavily as input tokens.
func (c Candidate) BlendedCost() float64 {
	return (c.Price.Input + 2*c.Price.Output) / 3
}

// resolveModel expands a requested model through aliases.
func resolveModel(cfg Config, requested string) []ModelRef {
	model := requested
	if model == "" {
		model = cfg.DefaultModel
	}
	if model == "" {
		return nil
	}
	for _, m := range cfg.Models {
		if m.Alias == model {
			return m.Models
		}
	}
	return []ModelRef{{Model: model}}
}

// buildChain creates the ordered candidate chain for a request. The chain
// is built once per request and never mutated afterwards.
func buildChain(
	cfg Config,
	catalog *Catalog,
	adapters map[ProviderKey]Provider,
	requested string,
) ([]Candidate, error) {
	refs := resolveModel(cfg, requested)
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}

	chain := make([]Candidate, 0, len(refs))
	for _, ref := range refs {
		if e, ok := catalog.Lookup(ref.Model); ok && e.Disabled {
			continue
		}

		key := ParseProviderKey(ref.Provider)
		if ref.Provider == "" {
			key = catalog.Resolve(ref.Model)
		}
		if key == ProviderUnknown {
			key = ParseProviderKey(cfg.DefaultProvider)
		}

		price, _ := catalog.Price(ref.Model)
		chain = append(chain, Candidate{
			Model:    ref.Model,
			Provider: key,
			Adapter:  adapters[key],
			Auth:     cfg.Providers[key].Auth,
			Price:    price,
		})
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: model %q is disabled", ErrInvalidRequest, requested)
	}
	return chain, nil
}
