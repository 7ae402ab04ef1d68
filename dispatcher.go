package metergate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultCallTimeout    = 9 * time.Second
	defaultDispatchBudget = 10 * time.Second
)

// Dispatcher walks a candidate chain until one provider call succeeds.
// Each candidate gets exactly one adapter call. Fatal errors stop the chain;
// all other errors advance it.
type Dispatcher struct {
	pacer       *Pacer
	health      *HealthTracker
	meter       Meter
	logger      *slog.Logger
	callTimeout time.Duration
	budget      time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.callTimeout = d }
}

// WithBudget bounds the whole chain walk.
func WithBudget(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.budget = d }
}

// WithDispatchHealth sets the health tracker consulted before each call.
func WithDispatchHealth(h *HealthTracker) DispatcherOption {
	return func(x *Dispatcher) { x.health = h }
}

// WithDispatchMeter sets the meter.
func WithDispatchMeter(m Meter) DispatcherOption {
	return func(x *Dispatcher) { x.meter = m }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) { x.logger = l }
}

// NewDispatcher creates a dispatcher. A nil pacer disables pacing.
func NewDispatcher(pacer *Pacer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pacer:       pacer,
		callTimeout: defaultCallTimeout,
		budget:      defaultDispatchBudget,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pacer == nil {
		d.pacer = NewPacer(nil)
	}
	if d.health == nil {
		d.health = NewHealthTracker()
	}
	if d.meter == nil {
		d.meter = &noopMeter{}
	}
	if d.logger == nil {
		d.logger = slog.Default().With("component", "dispatcher")
	}
	return d
}

// Run attempts the chain in order and returns the first success.
func (d *Dispatcher) Run(ctx context.Context, chain []Candidate, req GenerateRequest) (DispatchResult, error) {
	if len(chain) == 0 {
		return DispatchResult{}, ErrEmptyChain
	}

	budgetCtx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	estimated := estimateRequestTokens(req)

	var lastErr error
	attempts := 0
	for i, c := range chain {
		if err := d.budgetErr(ctx, budgetCtx, c, attempts); err != nil {
			return DispatchResult{}, err
		}

		if c.Adapter == nil {
			lastErr = fmt.Errorf("%w: %s", ErrNoProvider, c.Provider)
			continue
		}
		if !d.health.Allow(c.Provider) {
			lastErr = fmt.Errorf("%w: %s circuit open", ErrProviderUnavailable, c.Provider)
			d.meter.OnResult(ResultEvent{Provider: c.Provider, Model: c.Model, Skipped: true, Error: lastErr})
			continue
		}

		if err := d.pacer.Wait(budgetCtx, c.Provider); err != nil {
			d.health.Release(c.Provider)
			if berr := d.budgetErr(ctx, budgetCtx, c, attempts); berr != nil {
				return DispatchResult{}, berr
			}
			// The limiter refuses waits that would overrun the deadline.
			return DispatchResult{}, &DispatchError{Err: ErrJobTimeout, Provider: c.Provider, Model: c.Model, Attempts: attempts}
		}

		attempts++
		d.meter.OnRoute(RouteEvent{
			Provider:    c.Provider,
			Model:       c.Model,
			AttemptNum:  i + 1,
			EstimatedIn: estimated,
		})

		resp, duration, err := d.call(budgetCtx, c, req)
		if err != nil {
			// Caller-side failures and cancellations say nothing about
			// the provider.
			if IsFatal(err) || ctx.Err() != nil {
				d.health.Release(c.Provider)
			} else {
				d.health.RecordFailure(c.Provider)
			}
			d.meter.OnResult(ResultEvent{
				Provider: c.Provider,
				Model:    c.Model,
				Duration: duration,
				Error:    err,
			})

			if IsFatal(err) {
				return DispatchResult{}, &DispatchError{
					Err:      err,
					Provider: c.Provider,
					Model:    c.Model,
					Attempts: attempts,
				}
			}

			d.logger.Warn("candidate failed, advancing",
				"provider", c.Provider,
				"model", c.Model,
				"attempt", attempts,
				"error", err,
			)
			lastErr = err
			continue
		}

		usage := fillUsage(resp.Usage, promptOf(req), resp.Content)
		d.health.RecordSuccess(c.Provider)
		d.meter.OnResult(ResultEvent{
			Provider: c.Provider,
			Model:    c.Model,
			Success:  true,
			Duration: duration,
			Usage:    usage,
		})

		return DispatchResult{
			Content:      resp.Content,
			FinishReason: resp.FinishReason,
			Usage:        usage,
			UsedModel:    c.Model,
			Provider:     c.Provider,
			Attempts:     attempts,
		}, nil
	}

	if lastErr == nil {
		lastErr = ErrAllProvidersBusy
	}
	return DispatchResult{}, &DispatchError{Err: lastErr, Attempts: attempts}
}

func (d *Dispatcher) call(ctx context.Context, c Candidate, req GenerateRequest) (ProviderResponse, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.Adapter.Generate(callCtx, ProviderRequest{
		Auth:     c.Auth,
		Model:    c.Model,
		Prompt:   req.Prompt,
		Messages: req.Messages,
		Image:    req.Image,
		MimeType: req.MimeType,
	})
	return resp, time.Since(start), classifyContextErr(callCtx, err)
}

// budgetErr reports why the loop must stop, if it must.
func (d *Dispatcher) budgetErr(parent, budgetCtx context.Context, c Candidate, attempts int) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
		return &DispatchError{Err: ErrJobTimeout, Provider: c.Provider, Model: c.Model, Attempts: attempts}
	}
	return nil
}

func promptOf(req GenerateRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	return ProviderRequest{Messages: req.Messages}.PromptText()
}
