// Package mock provides a scriptable metergate.Provider for tests and
// local runs.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/metergate"
)

// Provider is a mock provider.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	modelErrs    map[string]error
	usage        metergate.Usage
	content      string
	responseFunc func(metergate.ProviderRequest) (metergate.ProviderResponse, error)

	mu     sync.Mutex
	models []string
}

var _ metergate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options. The default name is
// "openai" so it slots into the built-in catalog.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    string(metergate.ProviderOpenAI),
		content: "Hello from mock provider",
		usage: metergate.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		modelErrs: make(map[string]error),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithModelError makes calls for model return err.
func WithModelError(model string, err error) Option {
	return func(p *Provider) { p.modelErrs[model] = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u metergate.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithContent sets the generated text.
func WithContent(s string) Option {
	return func(p *Provider) { p.content = s }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(metergate.ProviderRequest) (metergate.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req metergate.ProviderRequest) (metergate.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return metergate.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)
	p.mu.Lock()
	p.models = append(p.models, req.Model)
	p.mu.Unlock()

	if p.staticErr != nil {
		return metergate.ProviderResponse{}, p.staticErr
	}
	if err, ok := p.modelErrs[req.Model]; ok {
		return metergate.ProviderResponse{}, err
	}
	if p.failAfter > 0 && int(count) > p.failAfter {
		return metergate.ProviderResponse{}, metergate.ErrProviderUnavailable
	}
	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return metergate.ProviderResponse{
		ID:           "mock-response-id",
		Content:      p.content,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Models returns the model of every call, in call order.
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}
