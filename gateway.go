package metergate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gateway admits, dispatches and bills generation requests.
type Gateway struct {
	mu       sync.RWMutex
	cfg      Config
	catalog  *Catalog
	pricer   *Pricer
	policy   Policy
	adapters map[ProviderKey]Provider

	admission  *AdmissionGate
	userJobs   *UserJobs
	daily      *DailyUsage
	pacer      *Pacer
	scheduler  *Scheduler
	dispatcher *Dispatcher
	rates      *RateResolver
	ledger     *Ledger
	health     *HealthTracker

	balances   BalanceStore
	prices     PriceStore
	settings   ConfigStore
	usage      UsageLog
	rateSource RateSource
	meter      Meter
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBalanceStore sets the balance store. Required.
func WithBalanceStore(s BalanceStore) Option {
	return func(g *Gateway) { g.balances = s }
}

// WithPriceStore sets the live price table.
func WithPriceStore(s PriceStore) Option {
	return func(g *Gateway) { g.prices = s }
}

// WithConfigStore sets the key→value settings store (margin, exchange rate).
func WithConfigStore(s ConfigStore) Option {
	return func(g *Gateway) { g.settings = s }
}

// WithUsageLog sets the usage sink.
func WithUsageLog(l UsageLog) Option {
	return func(g *Gateway) { g.usage = l }
}

// WithPolicy sets the chain ordering policy.
func WithPolicy(p Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(g *Gateway) { g.health = h }
}

// WithExchangeSource sets the live exchange rate source.
func WithExchangeSource(s RateSource) Option {
	return func(g *Gateway) { g.rateSource = s }
}

// WithAdmissionGate replaces the admission gate built from config.
func WithAdmissionGate(a *AdmissionGate) Option {
	return func(g *Gateway) { g.admission = a }
}

// WithScheduler replaces the scheduler built from config.
func WithScheduler(s *Scheduler) Option {
	return func(g *Gateway) { g.scheduler = s }
}

// New creates a Gateway from config and provider adapters. Components not
// supplied through options are built from cfg.
func New(cfg Config, providers []Provider, opts ...Option) (*Gateway, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	adapters := make(map[ProviderKey]Provider, len(providers))
	for _, p := range providers {
		key := ParseProviderKey(p.Name())
		if key == ProviderUnknown {
			return nil, fmt.Errorf("metergate: adapter %q: unknown provider", p.Name())
		}
		if cfg.Providers[key].Disabled {
			continue
		}
		adapters[key] = p
	}

	g := &Gateway{
		cfg:      cfg,
		adapters: adapters,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.balances == nil {
		return nil, fmt.Errorf("metergate: balance store is required")
	}
	if g.logger == nil {
		g.logger = slog.Default().With("component", "gateway")
	}
	if g.meter == nil {
		g.meter = &noopMeter{}
	}
	if g.prices == nil {
		g.prices = noopPriceStore{}
	}
	if g.settings == nil {
		g.settings = noopConfigStore{}
	}
	if g.usage == nil {
		g.usage = noopUsageLog{}
	}
	if g.policy == nil {
		g.policy = orderedPolicy{}
	}
	if g.health == nil {
		g.health = NewHealthTracker()
	}
	if g.admission == nil {
		g.admission = NewAdmissionGate(cfg.Admission.MinInterval, cfg.Admission.MaxTracked)
	}
	if g.scheduler == nil {
		g.scheduler = NewScheduler(cfg.Scheduler.Concurrency, cfg.Scheduler.QueueTimeout,
			WithSchedulerMeter(g.meter))
	}
	if g.rateSource == nil {
		g.rateSource = &HTTPRateSource{URL: cfg.Exchange.URL, Currency: cfg.Exchange.Currency}
	}

	g.userJobs = NewUserJobs(cfg.UserJobs.MaxConcurrent)
	g.daily = NewDailyUsage(cfg.Daily.TokenLimit, cfg.Daily.Enforce)
	g.pacer = NewPacer(cfg.PacingIntervals())
	g.dispatcher = NewDispatcher(g.pacer,
		WithCallTimeout(cfg.Dispatch.CallTimeout),
		WithBudget(cfg.Dispatch.Budget),
		WithDispatchHealth(g.health),
		WithDispatchMeter(g.meter),
		WithDispatchLogger(g.logger),
	)
	g.rates = NewRateResolver(g.settings,
		WithRateSource(g.rateSource),
		WithFallbackRate(cfg.Exchange.FallbackRate),
		WithRateTTL(cfg.Exchange.CacheTTL),
		WithRateLogger(g.logger),
	)
	g.ledger = NewLedger(g.balances, g.logger)
	g.catalog = NewCatalog(cfg.Catalog...)
	g.pricer = g.newPricer(cfg, g.catalog)

	return g, nil
}

func (g *Gateway) newPricer(cfg Config, catalog *Catalog) *Pricer {
	return NewPricer(
		WithPricerStore(g.prices),
		WithPricerConfig(g.settings),
		WithPricerCatalog(catalog),
		WithMaxCost(cfg.Pricing.MaxCostUSD),
		WithDefaultMargin(cfg.Pricing.DefaultMargin),
		WithDefaultPrice(cfg.Pricing.DefaultPrice),
		WithPricerLogger(g.logger),
	)
}

// ApplyConfig swaps in the reloadable parts of cfg: aliases, catalog,
// pricing defaults and pacing intervals. Scheduler, admission and storage
// settings need a restart.
func (g *Gateway) ApplyConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	catalog := NewCatalog(cfg.Catalog...)
	pricer := g.newPricer(cfg, catalog)

	g.mu.Lock()
	old := g.cfg
	g.cfg.DefaultModel = cfg.DefaultModel
	g.cfg.DefaultProvider = cfg.DefaultProvider
	g.cfg.Models = cfg.Models
	g.cfg.Catalog = cfg.Catalog
	g.cfg.Pricing = cfg.Pricing
	g.catalog = catalog
	g.pricer = pricer
	g.mu.Unlock()

	for key := range old.PacingIntervals() {
		if _, ok := cfg.PacingIntervals()[key]; !ok {
			g.pacer.SetInterval(key, 0)
		}
	}
	for key, d := range cfg.PacingIntervals() {
		g.pacer.SetInterval(key, d)
	}
	return nil
}

// Ledger exposes the balance ledger for top-ups and balance reads.
func (g *Gateway) Ledger() *Ledger { return g.ledger }

// Pricer returns the current pricer.
func (g *Gateway) Pricer() *Pricer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pricer
}

// Rates returns the exchange rate resolver.
func (g *Gateway) Rates() *RateResolver { return g.rates }

// Scheduler returns the job scheduler.
func (g *Gateway) Scheduler() *Scheduler { return g.scheduler }

// Close stops accepting work. Running jobs finish.
func (g *Gateway) Close() {
	g.scheduler.Close()
}

// Generate runs one billed generation for userID.
func (g *Gateway) Generate(ctx context.Context, userID string, req GenerateRequest) (GenerateResponse, error) {
	if userID == "" {
		return GenerateResponse{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		return GenerateResponse{}, fmt.Errorf("%w: prompt or messages is required", ErrInvalidRequest)
	}

	if !g.admission.Allow(userID) {
		return GenerateResponse{}, ErrAdmissionRejected
	}

	release, ok := g.userJobs.Acquire(userID)
	if !ok {
		return GenerateResponse{}, ErrUserBusy
	}
	defer release()

	// Advisory only; the conditional debit is the enforcement point.
	if err := g.precheckBalance(ctx, userID); err != nil {
		return GenerateResponse{}, err
	}

	if exceeded, refuse := g.daily.Check(userID); refuse {
		return GenerateResponse{}, ErrDailyLimitReached
	} else if exceeded {
		g.logger.Warn("daily token limit exceeded", "user", userID, "used", g.daily.Used(userID))
	}

	g.mu.RLock()
	cfg, catalog, pricer := g.cfg, g.catalog, g.pricer
	g.mu.RUnlock()

	chosen := req.Model
	if chosen == "" {
		chosen = cfg.DefaultModel
	}
	chain, err := buildChain(cfg, catalog, g.adapters, chosen)
	if err != nil {
		return GenerateResponse{}, err
	}
	// Billing uses the chosen model, resolved through aliases, not the
	// model that eventually served the request.
	billed := chain[0].Model
	chain = g.policy.Select(chain)

	var result DispatchResult
	err = g.scheduler.Submit(ctx, func(ctx context.Context) error {
		r, err := g.dispatcher.Run(ctx, chain, req)
		result = r
		return err
	})
	if err != nil {
		return GenerateResponse{}, err
	}

	quote := pricer.Quote(ctx, billed)
	cost, clamped := pricer.Cost(quote, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	rate := g.rates.Rate(ctx)

	balance, units, err := g.ledger.Debit(ctx, userID, cost, rate)
	g.meter.OnCharge(ChargeEvent{
		UserID:       userID,
		Model:        billed,
		CostUSD:      cost,
		Units:        units,
		BalanceAfter: balance,
		Clamped:      clamped,
		Error:        err,
	})
	if err != nil {
		// Provider work is not refunded.
		g.logger.Warn("debit refused after generation",
			"user", userID,
			"model", billed,
			"units", units,
			"error", err,
		)
		return GenerateResponse{}, err
	}

	g.daily.Record(userID, result.Usage.TotalTokens)

	requestID := uuid.New().String()
	rec := UsageRecord{
		ID:             requestID,
		UserID:         userID,
		RequestedModel: chosen,
		UsedModel:      result.UsedModel,
		InputTokens:    result.Usage.PromptTokens,
		OutputTokens:   result.Usage.CompletionTokens,
		CostUSD:        cost,
		ChargedUnits:   units,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.usage.RecordUsage(ctx, rec); err != nil {
		g.logger.Error("record usage failed", "user", userID, "request_id", requestID, "error", err)
	}

	return GenerateResponse{
		Status:           "success",
		ModelChosen:      chosen,
		ModelUsed:        result.UsedModel,
		InputTokens:      result.Usage.PromptTokens,
		OutputTokens:     result.Usage.CompletionTokens,
		Cost:             cost,
		UserBalanceAfter: balance,
		Result:           result.Content,
		Metadata: ResponseMetadata{
			RequestID:    requestID,
			Provider:     result.Provider,
			FinishReason: result.FinishReason,
			Attempts:     result.Attempts,
			ChargedUnits: units,
		},
	}, nil
}

func (g *Gateway) precheckBalance(ctx context.Context, userID string) error {
	balance, err := g.ledger.Balance(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return &InsufficientBalanceError{UserID: userID, Required: minimumCharge}
	}
	if err != nil {
		return fmt.Errorf("metergate: read balance: %w", err)
	}
	if balance <= 0 {
		return &InsufficientBalanceError{UserID: userID, Balance: balance, Required: minimumCharge}
	}
	return nil
}
