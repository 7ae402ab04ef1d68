//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/store/postgres"
	"github.com/ineyio/metergate/store/storetest"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./store/postgres/
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)

	prefix := fmt.Sprintf("mgtest_%d_", time.Now().UnixNano())
	s := postgres.New(pool, postgres.WithTablePrefix(prefix))
	require.NoError(t, s.EnsureSchema(ctx))

	t.Cleanup(func() {
		for _, table := range []string{"users", "model_prices", "config", "usage_history"} {
			_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+prefix+table)
		}
		pool.Close()
	})
	return s
}

func TestStore_Balance(t *testing.T) {
	storetest.RunBalanceStore(t, newStore(t), "")
}

func TestStore_Prices(t *testing.T) {
	storetest.RunPriceStore(t, newStore(t), "")
}

func TestStore_Config(t *testing.T) {
	storetest.RunConfigStore(t, newStore(t), "")
}

func TestStore_PruneUsage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, metergate.UsageRecord{
		ID: "00000000-0000-0000-0000-000000000001", UserID: "alice",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, s.RecordUsage(ctx, metergate.UsageRecord{
		ID: "00000000-0000-0000-0000-000000000002", UserID: "alice",
		CreatedAt: time.Now(),
	}))

	n, err := s.PruneUsage(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
