package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/store/sqlite"
	"github.com/ineyio/metergate/store/storetest"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "metergate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Balance(t *testing.T) {
	storetest.RunBalanceStore(t, openStore(t), "")
}

func TestStore_Prices(t *testing.T) {
	storetest.RunPriceStore(t, openStore(t), "")
}

func TestStore_Config(t *testing.T) {
	storetest.RunConfigStore(t, openStore(t), "")
}

func TestStore_ReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metergate.db")
	ctx := context.Background()

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	_, err = s.Credit(ctx, "alice", 42)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()
	b, err := s.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), b)
}

func TestStore_UsageSince(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.RecordUsage(ctx, metergate.UsageRecord{
			ID:             id,
			UserID:         "alice",
			RequestedModel: "fast",
			UsedModel:      "gemini-2.0-flash",
			InputTokens:    100,
			OutputTokens:   200,
			CostUSD:        0.0001,
			ChargedUnits:   1,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}))
	}
	// Duplicate IDs are ignored.
	require.NoError(t, s.RecordUsage(ctx, metergate.UsageRecord{ID: "r1", UserID: "alice", CreatedAt: base}))
	require.NoError(t, s.RecordUsage(ctx, metergate.UsageRecord{ID: "b1", UserID: "bob", CreatedAt: base}))

	recs, err := s.UsageSince(ctx, "alice", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[0].ID)
	assert.Equal(t, "r3", recs[1].ID)
	assert.Equal(t, "gemini-2.0-flash", recs[0].UsedModel)
	assert.True(t, recs[1].CreatedAt.Equal(base.Add(2*time.Hour)))
}
