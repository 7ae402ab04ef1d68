package metergate

import (
	"sync"
	"time"
)

const (
	defaultAdmissionInterval = 10 * time.Millisecond
	defaultAdmissionMaxKeys  = 5000
)

// AdmissionGate enforces a minimum interval between calls from the same
// caller. It is spam protection only and knows nothing about balances.
type AdmissionGate struct {
	mu       sync.Mutex
	interval time.Duration
	maxKeys  int
	last     map[string]time.Time
	now      func() time.Time
}

// AdmissionOption configures an AdmissionGate.
type AdmissionOption func(*AdmissionGate)

// WithAdmissionClock overrides the gate's time source.
func WithAdmissionClock(now func() time.Time) AdmissionOption {
	return func(g *AdmissionGate) { g.now = now }
}

// NewAdmissionGate creates a gate. Zero values select the defaults
// (10ms interval, 5000 tracked callers).
func NewAdmissionGate(interval time.Duration, maxKeys int, opts ...AdmissionOption) *AdmissionGate {
	if interval <= 0 {
		interval = defaultAdmissionInterval
	}
	if maxKeys <= 0 {
		maxKeys = defaultAdmissionMaxKeys
	}
	g := &AdmissionGate{
		interval: interval,
		maxKeys:  maxKeys,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether callerID may proceed and records the call if so.
func (g *AdmissionGate) Allow(callerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if prev, ok := g.last[callerID]; ok && now.Sub(prev) < g.interval {
		return false
	}

	if _, ok := g.last[callerID]; !ok && len(g.last) >= g.maxKeys {
		g.evict(now)
	}
	g.last[callerID] = now
	return true
}

// Len returns the number of tracked callers.
func (g *AdmissionGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

// evict drops entries whose interval has already elapsed. They no longer
// constrain anyone. If the map is still full, it is reset.
func (g *AdmissionGate) evict(now time.Time) {
	for k, t := range g.last {
		if now.Sub(t) >= g.interval {
			delete(g.last, k)
		}
	}
	if len(g.last) >= g.maxKeys {
		clear(g.last)
	}
}
