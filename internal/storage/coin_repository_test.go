package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/domain"
)

func newTestCoinRepository(t *testing.T) *CoinRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := New(Config{Path: dbPath, Profile: ProfileStandard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewCoinRepository(db.Conn())
}

func TestCoinRepositoryCreateThenGetRoundTrips(t *testing.T) {
	r := newTestCoinRepository(t)
	created, err := r.Create(domain.Coin{
		Chain: "solana", TokenAddress: "abc123", Symbol: "FOO", Name: "Foo Coin",
		Decimals: 9, IsActive: true, AddedAtUtc: 1000,
	})
	require.NoError(t, err)
	require.NotZero(t, created.CoinID)

	got, found, err := r.Get(created.CoinID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "FOO", got.Symbol)
	require.Equal(t, "Foo Coin", got.Name)
	require.True(t, got.IsActive)
}

func TestCoinRepositoryGetReturnsNotFoundForMissingID(t *testing.T) {
	r := newTestCoinRepository(t)
	_, found, err := r.Get(999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCoinRepositoryGetByChainAndAddressIsUnique(t *testing.T) {
	r := newTestCoinRepository(t)
	_, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "abc123", Symbol: "FOO", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)

	got, found, err := r.GetByChainAndAddress("solana", "abc123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "FOO", got.Symbol)

	_, found, err = r.GetByChainAndAddress("solana", "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCoinRepositoryResolveSymbolPrefersAlias(t *testing.T) {
	r := newTestCoinRepository(t)
	c, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "abc123", Symbol: "FOO", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)
	require.NoError(t, r.AddAlias("moon", c.CoinID))

	got, found, err := r.ResolveSymbol("moon")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, c.CoinID, got.CoinID)
}

func TestCoinRepositoryResolveSymbolFallsBackToDirectMatch(t *testing.T) {
	r := newTestCoinRepository(t)
	c, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "abc123", Symbol: "FOO", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)

	got, found, err := r.ResolveSymbol("FOO")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, c.CoinID, got.CoinID)
}

func TestCoinRepositoryAddAliasReplacesPriorMapping(t *testing.T) {
	r := newTestCoinRepository(t)
	first, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "aaa", Symbol: "AAA", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)
	second, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "bbb", Symbol: "BBB", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)

	require.NoError(t, r.AddAlias("x", first.CoinID))
	require.NoError(t, r.AddAlias("x", second.CoinID))

	got, found, err := r.ResolveSymbol("x")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second.CoinID, got.CoinID)
}

func TestCoinRepositoryListActiveExcludesDeactivated(t *testing.T) {
	r := newTestCoinRepository(t)
	active, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "aaa", Symbol: "AAA", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)
	inactive, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "bbb", Symbol: "BBB", IsActive: false, AddedAtUtc: 1000})
	require.NoError(t, err)

	coins, err := r.ListActive()
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, active.CoinID, coins[0].CoinID)
	require.NotEqual(t, inactive.CoinID, coins[0].CoinID)
}

func TestCoinRepositoryDeactivateThenRemove(t *testing.T) {
	r := newTestCoinRepository(t)
	c, err := r.Create(domain.Coin{Chain: "solana", TokenAddress: "aaa", Symbol: "AAA", IsActive: true, AddedAtUtc: 1000})
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(c.CoinID))
	got, found, err := r.Get(c.CoinID)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, got.IsActive)

	require.NoError(t, r.Remove(c.CoinID))
	_, found, err = r.Get(c.CoinID)
	require.NoError(t, err)
	require.False(t, found)
}
