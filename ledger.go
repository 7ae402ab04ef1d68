package metergate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// minimumCharge is the smallest debit for any billable call.
const minimumCharge int64 = 1

// Ledger converts USD costs into billing units and debits balances.
// The conditional debit in BalanceStore is the only enforcement point for
// the non-negative balance invariant.
type Ledger struct {
	store  BalanceStore
	logger *slog.Logger
}

// NewLedger creates a ledger over store.
func NewLedger(store BalanceStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default().With("component", "ledger")
	}
	return &Ledger{store: store, logger: logger}
}

// Units converts a USD cost into billing units: floor(cost*rate), at least 1.
func Units(costUSD, rate float64) int64 {
	v := costUSD * rate
	if math.IsNaN(v) || v < 0 {
		return minimumCharge
	}
	units := int64(math.Floor(v))
	if units < minimumCharge {
		return minimumCharge
	}
	return units
}

// Debit charges the user for costUSD at the given exchange rate. It returns
// the post-debit balance and the charged units, or an
// *InsufficientBalanceError when the balance does not cover the charge.
func (l *Ledger) Debit(ctx context.Context, userID string, costUSD, rate float64) (balance, units int64, err error) {
	units = Units(costUSD, rate)
	return l.DebitUnits(ctx, userID, units)
}

// DebitUnits charges an exact number of billing units.
func (l *Ledger) DebitUnits(ctx context.Context, userID string, units int64) (balance, charged int64, err error) {
	if units <= 0 {
		return 0, 0, fmt.Errorf("%w: debit amount must be positive", ErrInvalidRequest)
	}

	balance, ok, err := l.store.DebitIfSufficient(ctx, userID, units)
	if err != nil {
		return 0, units, fmt.Errorf("metergate: debit: %w", err)
	}
	if ok {
		return balance, units, nil
	}

	// The debit was refused; report what the user has now.
	current, rerr := l.store.Balance(ctx, userID)
	if rerr != nil && !errors.Is(rerr, ErrUserNotFound) {
		l.logger.Warn("balance read after refused debit failed", "user", userID, "error", rerr)
	}
	return current, units, &InsufficientBalanceError{
		UserID:   userID,
		Balance:  current,
		Required: units,
	}
}

// Credit adds units to a user's balance. Used by top-ups only.
func (l *Ledger) Credit(ctx context.Context, userID string, units int64) (int64, error) {
	if units <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive", ErrInvalidRequest)
	}
	balance, err := l.store.Credit(ctx, userID, units)
	if err != nil {
		return 0, fmt.Errorf("metergate: credit: %w", err)
	}
	return balance, nil
}

// Balance returns a user's balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}
