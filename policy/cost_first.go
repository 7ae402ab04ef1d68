package policy

import (
	"sort"

	"github.com/ineyio/metergate"
)

// CostFirst tries the cheapest static price first. Candidates without a
// known price keep their relative order after the priced ones.
type CostFirst struct{}

var _ metergate.Policy = (*CostFirst)(nil)

func (p *CostFirst) Select(candidates []metergate.Candidate) []metergate.Candidate {
	result := make([]metergate.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i].BlendedCost(), result[j].BlendedCost()
		if ci == 0 || cj == 0 {
			return ci != 0 && cj == 0
		}
		return ci < cj
	})

	return result
}
