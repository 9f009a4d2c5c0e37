package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/domain"
)

type rollingTestFixture struct {
	store *RollingWindowStore
	coins *CoinRepository
}

func newTestRollingStore(t *testing.T) rollingTestFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := New(Config{Path: dbPath, Profile: ProfileCache})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return rollingTestFixture{
		store: NewRollingWindowStore(db.Conn()),
		coins: NewCoinRepository(db.Conn()),
	}
}

func (f rollingTestFixture) seedCoin(t *testing.T, tokenAddress string) int64 {
	t.Helper()
	c, err := f.coins.Create(domain.Coin{
		Chain: "solana", TokenAddress: tokenAddress, Symbol: "X", IsActive: true, AddedAtUtc: 1,
	})
	require.NoError(t, err)
	return c.CoinID
}

// TestRollingWindowStoreAppendIsMonotonic exercises property #1: repeated
// appends for one coin, made in timestamp order, leave lastUpdatedUtc at the
// latest sample's timestamp.
func TestRollingWindowStoreAppendIsMonotonic(t *testing.T) {
	f := newTestRollingStore(t)
	coinID := f.seedCoin(t, "a1")

	_, err := f.store.Append(coinID, Sample{TimestampSec: 1000, Price: 1.0, Volume: 10})
	require.NoError(t, err)
	state, err := f.store.Append(coinID, Sample{TimestampSec: 2000, Price: 1.5, Volume: 20})
	require.NoError(t, err)

	require.Equal(t, int64(2000), state.LastUpdatedUtc)
	require.InDelta(t, 1.5, *state.LastPrice, 0.0001)
}

// TestRollingWindowStoreWindowAggregatesAreConsistent exercises property #2:
// h12 extrema are always within the h24 extrema, which are within the h72
// extrema, since every h12 sample is also an h24 and h72 sample.
func TestRollingWindowStoreWindowAggregatesAreConsistent(t *testing.T) {
	f := newTestRollingStore(t)
	coinID := f.seedCoin(t, "a7")
	now := int64(1_000_000)

	samples := []Sample{
		{TimestampSec: now - 70*3600, Price: 0.5, Volume: 5},  // inside h72 only
		{TimestampSec: now - 30*3600, Price: 5.0, Volume: 5},  // inside h72/h24-adjacent but outside h24 window (>24h)
		{TimestampSec: now - 20*3600, Price: 3.0, Volume: 10}, // inside h24, outside h12
		{TimestampSec: now - 1*3600, Price: 2.0, Volume: 15},  // inside h12
	}
	for _, s := range samples {
		_, err := f.store.Append(coinID, s)
		require.NoError(t, err)
	}

	agg, err := f.store.Aggregates(coinID, now)
	require.NoError(t, err)

	require.NotNil(t, agg.H12High)
	require.NotNil(t, agg.H24High)
	require.NotNil(t, agg.H72High)
	require.LessOrEqual(t, *agg.H12High, *agg.H24High)
	require.LessOrEqual(t, *agg.H24High, *agg.H72High)
	require.GreaterOrEqual(t, *agg.H12Low, *agg.H24Low)
	require.GreaterOrEqual(t, *agg.H24Low, *agg.H72Low)
}

// TestRollingWindowStoreDeleteOlderThanEnforcesRetentionBound exercises
// property #3: after a cleanup pass, no sample older than the cutoff
// survives.
func TestRollingWindowStoreDeleteOlderThanEnforcesRetentionBound(t *testing.T) {
	f := newTestRollingStore(t)
	coinID := f.seedCoin(t, "a3")
	now := int64(1_000_000)
	cutoff := now - 73*3600

	_, err := f.store.Append(coinID, Sample{TimestampSec: cutoff - 100, Price: 1, Volume: 1})
	require.NoError(t, err)
	_, err = f.store.Append(coinID, Sample{TimestampSec: cutoff + 100, Price: 2, Volume: 1})
	require.NoError(t, err)

	deleted, err := f.store.DeleteOlderThan(cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	count, err := f.store.DataPointsCount(coinID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRollingWindowStoreIsWarmupCompleteRequiresMinHours(t *testing.T) {
	f := newTestRollingStore(t)
	coinID := f.seedCoin(t, "a9")
	now := int64(1_000_000)

	_, err := f.store.Append(coinID, Sample{TimestampSec: now - 1*3600, Price: 1, Volume: 1})
	require.NoError(t, err)

	complete, err := f.store.IsWarmupComplete(coinID, now, 12.0)
	require.NoError(t, err)
	require.False(t, complete)

	complete, err = f.store.IsWarmupComplete(coinID, now, 0.5)
	require.NoError(t, err)
	require.True(t, complete)
}
