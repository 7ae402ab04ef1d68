package metergate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPacing is the built-in minimum spacing between call starts.
var DefaultPacing = map[ProviderKey]time.Duration{
	ProviderOpenAI: 10 * time.Millisecond,
	ProviderGemini: 10 * time.Millisecond,
	ProviderGroq:   10 * time.Millisecond,
}

// Pacer spaces out call starts per provider. It does not bound the number
// of in-flight calls.
type Pacer struct {
	mu       sync.Mutex
	limiters map[ProviderKey]*rate.Limiter
}

// NewPacer creates a pacer from per-provider intervals. Providers without
// an interval, or with interval 0, are not paced.
func NewPacer(intervals map[ProviderKey]time.Duration) *Pacer {
	p := &Pacer{limiters: make(map[ProviderKey]*rate.Limiter, len(intervals))}
	for k, d := range intervals {
		if d > 0 {
			p.limiters[k] = rate.NewLimiter(rate.Every(d), 1)
		}
	}
	return p
}

// Wait blocks until the provider's interval has elapsed since the previous
// call start, then claims the slot. Only the calling goroutine is suspended.
func (p *Pacer) Wait(ctx context.Context, key ProviderKey) error {
	p.mu.Lock()
	lim := p.limiters[key]
	p.mu.Unlock()
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// SetInterval changes a provider's spacing at runtime. Zero disables pacing.
func (p *Pacer) SetInterval(key ProviderKey, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		delete(p.limiters, key)
		return
	}
	if lim, ok := p.limiters[key]; ok {
		lim.SetLimit(rate.Every(d))
		return
	}
	p.limiters[key] = rate.NewLimiter(rate.Every(d), 1)
}
