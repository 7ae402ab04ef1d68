package metergate

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

const (
	defaultMarginPercent = 60.0
	defaultMaxCostUSD    = 0.25
)

// DefaultPrice is the last-resort price for models no tier recognizes.
var DefaultPrice = Price{Input: 0.10, Output: 0.40}

// Price is a USD price per one million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// PriceSource records which tier produced a quote.
type PriceSource string

const (
	SourceStore     PriceSource = "store"
	SourceStatic    PriceSource = "static"
	SourceHeuristic PriceSource = "heuristic"
	SourceDefault   PriceSource = "default"
)

// PriceQuote is a resolved price plus the margin to apply on top.
type PriceQuote struct {
	Model         string
	Price         Price
	MarginPercent float64
	Source        PriceSource
}

// Multiplier returns 1 + margin/100.
func (q PriceQuote) Multiplier() float64 {
	return 1 + q.MarginPercent/100
}

// RawCost returns the unclamped cost in USD for the given usage.
func (q PriceQuote) RawCost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)/1e6*q.Price.Input + float64(outputTokens)/1e6*q.Price.Output) * q.Multiplier()
}

// heuristicRule maps a model-name pattern onto a static table entry.
type heuristicRule struct {
	match  func(name string) bool
	target string
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Evaluated in order; the first match wins.
var priceHeuristics = []heuristicRule{
	{func(n string) bool { return containsAny(n, "flash-lite", "8b") }, "gemini-2.0-flash-lite"},
	{func(n string) bool { return strings.Contains(n, "flash") && containsAny(n, "1.5", "001", "002") }, "gemini-1.5-flash"},
	{func(n string) bool { return strings.Contains(n, "flash") }, "gemini-2.0-flash"},
	{func(n string) bool { return strings.Contains(n, "mini") }, "gpt-4o-mini"},
	{func(n string) bool { return strings.Contains(n, "ultra") }, "gemini-2.5-ultra"},
	{func(n string) bool { return strings.Contains(n, "pro") }, "gemini-1.5-pro"},
	{func(n string) bool { return containsAny(n, "gpt-4o", "gpt-4.1") }, "gpt-4o"},
	{func(n string) bool { return containsAny(n, "gpt-5", "o1", "o3") }, "gpt-5.1"},
}

// Pricer resolves model prices and the profit margin. Lookups never fail:
// each error degrades to the next tier and is logged.
type Pricer struct {
	prices        PriceStore
	config        ConfigStore
	catalog       *Catalog
	logger        *slog.Logger
	defaultMargin float64
	maxCostUSD    float64
	defaultPrice  Price
}

// PricerOption configures a Pricer.
type PricerOption func(*Pricer)

// WithPricerStore sets the live price table.
func WithPricerStore(s PriceStore) PricerOption {
	return func(p *Pricer) { p.prices = s }
}

// WithPricerConfig sets where the margin is read from.
func WithPricerConfig(s ConfigStore) PricerOption {
	return func(p *Pricer) { p.config = s }
}

// WithPricerCatalog sets the static price table.
func WithPricerCatalog(c *Catalog) PricerOption {
	return func(p *Pricer) { p.catalog = c }
}

// WithMaxCost sets the per-request ceiling in USD.
func WithMaxCost(usd float64) PricerOption {
	return func(p *Pricer) { p.maxCostUSD = usd }
}

// WithDefaultMargin sets the margin used when the config store has none.
func WithDefaultMargin(percent float64) PricerOption {
	return func(p *Pricer) { p.defaultMargin = percent }
}

// WithDefaultPrice sets the last-resort price.
func WithDefaultPrice(price Price) PricerOption {
	return func(p *Pricer) { p.defaultPrice = price }
}

// WithPricerLogger sets the logger.
func WithPricerLogger(l *slog.Logger) PricerOption {
	return func(p *Pricer) { p.logger = l }
}

// NewPricer creates a Pricer with the built-in catalog, 60% margin and a
// $0.25 ceiling unless overridden.
func NewPricer(opts ...PricerOption) *Pricer {
	p := &Pricer{
		defaultMargin: defaultMarginPercent,
		maxCostUSD:    defaultMaxCostUSD,
		defaultPrice:  DefaultPrice,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prices == nil {
		p.prices = noopPriceStore{}
	}
	if p.config == nil {
		p.config = noopConfigStore{}
	}
	if p.catalog == nil {
		p.catalog = NewCatalog()
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "pricing")
	}
	return p
}

// Quote resolves the price for model: live store row, static table,
// name heuristic, default.
func (p *Pricer) Quote(ctx context.Context, model string) PriceQuote {
	price, source := p.resolvePrice(ctx, model)
	return PriceQuote{
		Model:         model,
		Price:         price,
		MarginPercent: p.Margin(ctx),
		Source:        source,
	}
}

func (p *Pricer) resolvePrice(ctx context.Context, model string) (Price, PriceSource) {
	price, found, err := p.prices.ModelPrice(ctx, model)
	switch {
	case err != nil:
		p.logger.Warn("price store lookup failed, using static table", "model", model, "error", err)
	case found:
		return price, SourceStore
	}

	if price, ok := p.catalog.Price(model); ok {
		return price, SourceStatic
	}

	name := strings.ToLower(model)
	for _, h := range priceHeuristics {
		if !h.match(name) {
			continue
		}
		if price, ok := p.catalog.Price(h.target); ok {
			p.logger.Debug("price resolved by heuristic", "model", model, "tier", h.target)
			return price, SourceHeuristic
		}
	}

	p.logger.Warn("no price for model, using default", "model", model)
	return p.defaultPrice, SourceDefault
}

// Margin returns the profit margin percentage from the config store,
// falling back to the default when unset, unparsable or negative.
func (p *Pricer) Margin(ctx context.Context) float64 {
	v, found, err := p.config.ConfigValue(ctx, KeyProfitMargin)
	if err != nil {
		p.logger.Warn("margin lookup failed, using default", "error", err)
		return p.defaultMargin
	}
	if !found {
		return p.defaultMargin
	}
	percent, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || percent < 0 || math.IsNaN(percent) || math.IsInf(percent, 0) {
		p.logger.Warn("invalid margin in config store, using default", "value", v)
		return p.defaultMargin
	}
	return percent
}

// Cost applies the quote to token counts and clamps the result to the
// ceiling. clamped reports whether the ceiling was hit.
func (p *Pricer) Cost(q PriceQuote, inputTokens, outputTokens int64) (cost float64, clamped bool) {
	cost, clamped = ClampCost(q.RawCost(inputTokens, outputTokens), p.maxCostUSD)
	if clamped {
		p.logger.Warn("cost clamped to ceiling",
			"model", q.Model,
			"input_tokens", inputTokens,
			"output_tokens", outputTokens,
			"ceiling_usd", p.maxCostUSD,
		)
	}
	return cost, clamped
}

// ClampCost limits cost to ceiling. A non-positive ceiling disables the clamp.
func ClampCost(cost, ceiling float64) (float64, bool) {
	if ceiling > 0 && cost > ceiling {
		return ceiling, true
	}
	return cost, false
}
