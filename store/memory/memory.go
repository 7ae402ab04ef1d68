// Package memory provides in-process implementations of the metergate
// stores. State is lost on restart; use it for tests and single-node
// development.
package memory

import (
	"context"
	"sync"

	"github.com/ineyio/metergate"
)

// Store keeps balances, prices, settings and usage records in maps.
type Store struct {
	mu       sync.RWMutex
	balances map[string]int64
	prices   map[string]metergate.PriceRow
	settings map[string]string
	usage    []metergate.UsageRecord
}

var (
	_ metergate.BalanceStore = (*Store)(nil)
	_ metergate.PriceStore   = (*Store)(nil)
	_ metergate.ConfigStore  = (*Store)(nil)
	_ metergate.UsageLog     = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances: make(map[string]int64),
		prices:   make(map[string]metergate.PriceRow),
		settings: make(map[string]string),
	}
}

// SetBalance creates or overwrites a user's balance.
func (s *Store) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *Store) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return 0, metergate.ErrUserNotFound
	}
	return b, nil
}

// DebitIfSufficient checks and subtracts under one lock.
func (s *Store) DebitIfSufficient(_ context.Context, userID string, amount int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok || b < amount {
		return b, false, nil
	}
	b -= amount
	s.balances[userID] = b
	return b, true, nil
}

func (s *Store) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := max(s.balances[userID], 0) + amount
	s.balances[userID] = b
	return b, nil
}

// UpsertPrice inserts or replaces a price row.
func (s *Store) UpsertPrice(_ context.Context, row metergate.PriceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[row.Model] = row
	return nil
}

func (s *Store) ModelPrice(_ context.Context, model string) (metergate.Price, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.prices[model]
	if !ok || !row.Active {
		return metergate.Price{}, false, nil
	}
	return metergate.Price{Input: row.Input, Output: row.Output}, true, nil
}

func (s *Store) ConfigValue(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) SetConfigValue(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) RecordUsage(_ context.Context, rec metergate.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
	return nil
}

// Usage returns a copy of the recorded usage.
func (s *Store) Usage() []metergate.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metergate.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}
