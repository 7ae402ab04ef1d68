package policy

import "github.com/ineyio/metergate"

// Ordered attempts candidates in the order the alias lists them.
type Ordered struct{}

var _ metergate.Policy = (*Ordered)(nil)

func (p *Ordered) Select(candidates []metergate.Candidate) []metergate.Candidate {
	result := make([]metergate.Candidate, len(candidates))
	copy(result, candidates)
	return result
}

// ByName returns the policy registered under name, defaulting to Ordered.
func ByName(name string) metergate.Policy {
	switch name {
	case "cost_first":
		return &CostFirst{}
	default:
		return &Ordered{}
	}
}
