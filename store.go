package metergate

import (
	"context"
	"time"
)

// BalanceStore holds per-user integer balances in the billing currency.
type BalanceStore interface {
	// Balance returns the user's current balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// DebitIfSufficient atomically subtracts amount only if the balance is
	// at least amount, returning the new balance. ok is false, with no
	// mutation, when the balance is insufficient.
	DebitIfSufficient(ctx context.Context, userID string, amount int64) (balance int64, ok bool, err error)

	// Credit atomically adds amount, first clamping a negative balance to 0.
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
}

// PriceStore is the live, per-model price table.
type PriceStore interface {
	// ModelPrice returns the active price row for model. found is false when
	// no active row exists.
	ModelPrice(ctx context.Context, model string) (price Price, found bool, err error)
}

// ConfigStore is a key→value settings table.
type ConfigStore interface {
	// ConfigValue returns the value for key; found is false when unset.
	ConfigValue(ctx context.Context, key string) (value string, found bool, err error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// UsageLog is the append-only usage sink.
type UsageLog interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// PriceRow is a full row of the price table, used when seeding or
// administering prices. The gateway reads only Input and Output.
type PriceRow struct {
	Provider         ProviderKey
	Model            string
	Input            float64
	Output           float64
	ProfitMultiplier float64
	Active           bool
	UpdatedAt        time.Time
}

// Well-known config store keys.
const (
	KeyProfitMargin    = "profit_margin_percent"
	KeyExchangeRate    = "usd_idr_rate"
	KeyExchangeSync    = "usd_idr_auto_sync"
	KeyExchangeUpdated = "usd_idr_rate_last_update"
)

type noopPriceStore struct{}

func (noopPriceStore) ModelPrice(context.Context, string) (Price, bool, error) {
	return Price{}, false, nil
}

type noopConfigStore struct{}

func (noopConfigStore) ConfigValue(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (noopConfigStore) SetConfigValue(context.Context, string, string) error { return nil }

type noopUsageLog struct{}

func (noopUsageLog) RecordUsage(context.Context, UsageRecord) error { return nil }
