package metergate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mg "github.com/ineyio/metergate"
	"github.com/ineyio/metergate/store/memory"
)

func TestUnits(t *testing.T) {
	tests := []struct {
		name string
		cost float64
		rate float64
		want int64
	}{
		{"floors", 0.0016, 17000, 27},
		{"minimum charge", 0.00001, 17000, 1},
		{"zero cost", 0, 17000, 1},
		{"ceiling", 0.25, 17000, 4250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mg.Units(tt.cost, tt.rate))
		})
	}
}

func TestLedger_DebitRefusedLeavesBalance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.SetBalance("u1", 3)
	l := mg.NewLedger(st, nil)

	_, _, err := l.DebitUnits(ctx, "u1", 5)

	var ib *mg.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.ErrorIs(t, err, mg.ErrInsufficientBalance)
	assert.Equal(t, int64(3), ib.Balance)
	assert.Equal(t, int64(5), ib.Required)

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestLedger_Debit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.SetBalance("u1", 100)
	l := mg.NewLedger(st, nil)

	balance, units, err := l.Debit(ctx, "u1", 0.0011, 17000)
	require.NoError(t, err)
	assert.Equal(t, int64(18), units)
	assert.Equal(t, int64(82), balance)
}

func TestLedger_DebitUnknownUser(t *testing.T) {
	l := mg.NewLedger(memory.New(), nil)
	_, _, err := l.DebitUnits(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, mg.ErrInsufficientBalance)
}

func TestLedger_ConcurrentDebitsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.SetBalance("u1", 10)
	l := mg.NewLedger(st, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.DebitUnits(ctx, "u1", 3); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, success)
	assert.Equal(t, int64(1), balance)
}

func TestLedger_Credit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.SetBalance("legacy", -40)
	l := mg.NewLedger(st, nil)

	balance, err := l.Credit(ctx, "legacy", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "negative balance is clamped before the top-up")

	balance, err = l.Credit(ctx, "new-user", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	_, err = l.Credit(ctx, "new-user", 0)
	assert.ErrorIs(t, err, mg.ErrInvalidRequest)
}
