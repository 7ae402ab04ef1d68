package metergate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthTracker is a per-provider circuit breaker. A provider that fails
// healthFailureThreshold times within healthFailureWindow is skipped for
// healthUnhealthyPeriod, then probed again (half-open). While half-open
// only one call at a time is let through.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[ProviderKey]*providerHealth
	now       func() time.Time
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time
	unhealthyAt time.Time
	probing     bool
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// WithHealthClock overrides the tracker's time source.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthTracker) { h.now = now }
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	h := &HealthTracker{
		providers: make(map[ProviderKey]*providerHealth),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetHealth returns the current state for a provider.
func (h *HealthTracker) GetHealth(key ProviderKey) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[key]
	if !ok {
		return HealthHealthy
	}
	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}
	return ph.state
}

// Allow reports whether a call to the provider may proceed. In the
// half-open state the first caller claims the probe and later callers are
// refused until the probe is recorded or released.
func (h *HealthTracker) Allow(key ProviderKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[key]
	if !ok {
		return true
	}
	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}
	switch ph.state {
	case HealthUnhealthy:
		return false
	case HealthHalfOpen:
		if ph.probing {
			return false
		}
		ph.probing = true
	}
	return true
}

// Release gives up a claimed half-open probe without changing state, for
// calls whose outcome says nothing about the provider.
func (h *HealthTracker) Release(key ProviderKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ph, ok := h.providers[key]; ok {
		ph.probing = false
	}
}

// RecordSuccess closes the breaker for a provider.
func (h *HealthTracker) RecordSuccess(key ProviderKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(key)
	ph.state = HealthHealthy
	ph.probing = false
	ph.failures = ph.failures[:0]
}

// RecordFailure counts a failed call against a provider. A failure while
// half-open reopens the breaker immediately.
func (h *HealthTracker) RecordFailure(key ProviderKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(key)
	ph.probing = false
	now := h.now()

	switch ph.state {
	case HealthUnhealthy:
		return
	case HealthHalfOpen:
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(key ProviderKey) *providerHealth {
	ph, ok := h.providers[key]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[key] = ph
	}
	return ph
}
