package metergate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mg "github.com/ineyio/metergate"
	"github.com/ineyio/metergate/store/memory"
)

type failingPriceStore struct{}

func (failingPriceStore) ModelPrice(context.Context, string) (mg.Price, bool, error) {
	return mg.Price{}, false, errors.New("db down")
}

func TestPricer_StaticExactMatch(t *testing.T) {
	q := mg.NewPricer().Quote(context.Background(), "gemini-2.0-flash-lite")
	assert.Equal(t, mg.SourceStatic, q.Source)
	assert.Equal(t, mg.Price{Input: 0.075, Output: 0.30}, q.Price)
	assert.Equal(t, 60.0, q.MarginPercent)
}

func TestPricer_Heuristics(t *testing.T) {
	tests := []struct {
		model string
		want  mg.Price
	}{
		{"some-unknown-flash-variant", mg.Price{Input: 0.10, Output: 0.40}},
		{"gemini-1.5-flash-latest", mg.Price{Input: 0.075, Output: 0.30}},
		{"vendor-flash-lite-x", mg.Price{Input: 0.075, Output: 0.30}},
		{"custom-mini", mg.Price{Input: 0.15, Output: 0.60}},
		{"acme-ultra", mg.Price{Input: 2.50, Output: 12.00}},
		{"acme-pro", mg.Price{Input: 3.50, Output: 10.50}},
		{"gpt-4o-2024-08-06", mg.Price{Input: 2.50, Output: 10.00}},
		{"gpt-5-preview", mg.Price{Input: 15.00, Output: 60.00}},
	}
	p := mg.NewPricer()
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			q := p.Quote(context.Background(), tt.model)
			assert.Equal(t, mg.SourceHeuristic, q.Source)
			assert.Equal(t, tt.want, q.Price)
		})
	}
}

func TestPricer_DefaultPrice(t *testing.T) {
	q := mg.NewPricer().Quote(context.Background(), "totally-novel-model")
	assert.Equal(t, mg.SourceDefault, q.Source)
	assert.Equal(t, mg.DefaultPrice, q.Price)
}

func TestPricer_StoreRowWins(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertPrice(ctx, mg.PriceRow{Model: "gemini-2.0-flash", Input: 1, Output: 2, Active: true}))

	q := mg.NewPricer(mg.WithPricerStore(st)).Quote(ctx, "gemini-2.0-flash")
	assert.Equal(t, mg.SourceStore, q.Source)
	assert.Equal(t, mg.Price{Input: 1, Output: 2}, q.Price)
}

func TestPricer_InactiveStoreRowIgnored(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertPrice(ctx, mg.PriceRow{Model: "gemini-2.0-flash", Input: 1, Output: 2, Active: false}))

	q := mg.NewPricer(mg.WithPricerStore(st)).Quote(ctx, "gemini-2.0-flash")
	assert.Equal(t, mg.SourceStatic, q.Source)
}

func TestPricer_StoreErrorDegrades(t *testing.T) {
	q := mg.NewPricer(mg.WithPricerStore(failingPriceStore{})).Quote(context.Background(), "gpt-4o")
	assert.Equal(t, mg.SourceStatic, q.Source)
}

func TestPricer_CostClampedToCeiling(t *testing.T) {
	p := mg.NewPricer()
	q := mg.PriceQuote{Model: "x", Price: mg.Price{Input: 1, Output: 2}, MarginPercent: 60}

	assert.InDelta(t, 6.4, q.RawCost(2_000_000, 1_000_000), 1e-9)
	cost, clamped := p.Cost(q, 2_000_000, 1_000_000)
	assert.True(t, clamped)
	assert.Equal(t, 0.25, cost)
}

func TestPricer_CostBelowCeiling(t *testing.T) {
	p := mg.NewPricer()
	q := mg.PriceQuote{Price: mg.Price{Input: 0.10, Output: 0.40}, MarginPercent: 60}
	cost, clamped := p.Cost(q, 1000, 500)
	assert.False(t, clamped)
	assert.InDelta(t, (0.0001+0.0002)*1.6, cost, 1e-12)
}

func TestClampCost_DisabledCeiling(t *testing.T) {
	cost, clamped := mg.ClampCost(9, 0)
	assert.False(t, clamped)
	assert.Equal(t, 9.0, cost)
}

func TestPricer_Margin(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		want  float64
	}{
		{"unset", "", false, 60},
		{"configured", "35", true, 35},
		{"zero", "0", true, 0},
		{"garbage", "lots", true, 60},
		{"negative", "-5", true, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := memory.New()
			if tt.set {
				require.NoError(t, st.SetConfigValue(ctx, mg.KeyProfitMargin, tt.value))
			}
			p := mg.NewPricer(mg.WithPricerConfig(st))
			assert.Equal(t, tt.want, p.Margin(ctx))
		})
	}
}

func TestPricer_CatalogOverride(t *testing.T) {
	c := mg.NewCatalog(mg.CatalogEntry{Model: "house-model", Provider: mg.ProviderGroq, Input: 0.2, Output: 0.2})
	q := mg.NewPricer(mg.WithPricerCatalog(c)).Quote(context.Background(), "house-model")
	assert.Equal(t, mg.SourceStatic, q.Source)
	assert.Equal(t, mg.Price{Input: 0.2, Output: 0.2}, q.Price)
}
