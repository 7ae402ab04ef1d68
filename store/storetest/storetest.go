// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/metergate"
)

// PriceWriter is a PriceStore that can be seeded.
type PriceWriter interface {
	metergate.PriceStore
	UpsertPrice(ctx context.Context, row metergate.PriceRow) error
}

// RunBalanceStore exercises the conditional debit and credit contract.
// userPrefix keeps runs against shared databases apart.
func RunBalanceStore(t *testing.T, s metergate.BalanceStore, userPrefix string) {
	ctx := context.Background()
	user := func(name string) string { return userPrefix + name }

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.Balance(ctx, user("ghost"))
		assert.ErrorIs(t, err, metergate.ErrUserNotFound)

		_, ok, err := s.DebitIfSufficient(ctx, user("ghost"), 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("credit creates user", func(t *testing.T) {
		b, err := s.Credit(ctx, user("new"), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), b)

		b, err = s.Credit(ctx, user("new"), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(15), b)
	})

	t.Run("debit", func(t *testing.T) {
		_, err := s.Credit(ctx, user("debit"), 10)
		require.NoError(t, err)

		b, ok, err := s.DebitIfSufficient(ctx, user("debit"), 4)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(6), b)

		_, ok, err = s.DebitIfSufficient(ctx, user("debit"), 7)
		require.NoError(t, err)
		assert.False(t, ok)

		b, err = s.Balance(ctx, user("debit"))
		require.NoError(t, err)
		assert.Equal(t, int64(6), b, "refused debit leaves the balance unchanged")

		b, ok, err = s.DebitIfSufficient(ctx, user("debit"), 6)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(0), b)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		_, err := s.Credit(ctx, user("race"), 100)
		require.NoError(t, err)

		var (
			wg sync.WaitGroup
			ok atomic.Int64
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, debited, err := s.DebitIfSufficient(ctx, user("race"), 7)
				if err != nil {
					t.Errorf("debit: %v", err)
					return
				}
				if debited {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(14), ok.Load())
		b, err := s.Balance(ctx, user("race"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), b)
	})
}

// RunPriceStore exercises the active-row lookup.
func RunPriceStore(t *testing.T, s PriceWriter, modelPrefix string) {
	ctx := context.Background()
	model := modelPrefix + "gemini-2.0-flash"

	_, found, err := s.ModelPrice(ctx, model)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertPrice(ctx, metergate.PriceRow{
		Provider: metergate.ProviderGemini, Model: model, Input: 0.1, Output: 0.4, Active: true,
	}))
	p, found, err := s.ModelPrice(ctx, model)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, metergate.Price{Input: 0.1, Output: 0.4}, p)

	require.NoError(t, s.UpsertPrice(ctx, metergate.PriceRow{
		Provider: metergate.ProviderGemini, Model: model, Input: 0.2, Output: 0.8, Active: false,
	}))
	_, found, err = s.ModelPrice(ctx, model)
	require.NoError(t, err)
	assert.False(t, found, "inactive rows are ignored")
}

// RunConfigStore exercises the key→value settings.
func RunConfigStore(t *testing.T, s metergate.ConfigStore, keyPrefix string) {
	ctx := context.Background()
	key := keyPrefix + metergate.KeyProfitMargin

	_, found, err := s.ConfigValue(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetConfigValue(ctx, key, "35"))
	require.NoError(t, s.SetConfigValue(ctx, key, "40"))
	v, found, err := s.ConfigValue(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "40", v)
}
