package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/policy"
)

func models(cs []metergate.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Model
	}
	return out
}

func TestOrdered_KeepsOrderAndCopies(t *testing.T) {
	in := []metergate.Candidate{{Model: "b"}, {Model: "a"}}
	out := (&policy.Ordered{}).Select(in)

	assert.Equal(t, []string{"b", "a"}, models(out))
	out[0].Model = "changed"
	assert.Equal(t, "b", in[0].Model)
}

func TestCostFirst_CheapestFirst(t *testing.T) {
	in := []metergate.Candidate{
		{Model: "gpt-4o", Price: metergate.Price{Input: 2.50, Output: 10.00}},
		{Model: "unpriced-1"},
		{Model: "gemini-2.0-flash", Price: metergate.Price{Input: 0.10, Output: 0.40}},
		{Model: "unpriced-2"},
		{Model: "gpt-4o-mini", Price: metergate.Price{Input: 0.15, Output: 0.60}},
	}
	out := (&policy.CostFirst{}).Select(in)

	assert.Equal(t, []string{
		"gemini-2.0-flash", "gpt-4o-mini", "gpt-4o", "unpriced-1", "unpriced-2",
	}, models(out))
	assert.Equal(t, "gpt-4o", in[0].Model, "input is not reordered")
}

func TestByName(t *testing.T) {
	assert.IsType(t, &policy.CostFirst{}, policy.ByName("cost_first"))
	assert.IsType(t, &policy.Ordered{}, policy.ByName("ordered"))
	assert.IsType(t, &policy.Ordered{}, policy.ByName(""))
}
