package metergate

// Policy orders a candidate chain.
type Policy interface {
	// Select returns the candidates in attempt order. It must not drop
	// candidates or modify the input slice.
	Select(candidates []Candidate) []Candidate
}

// orderedPolicy keeps the configured order. Inline to avoid an import cycle
// with the policy package.
type orderedPolicy struct{}

func (orderedPolicy) Select(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out
}

// HealthState describes the health of a provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
