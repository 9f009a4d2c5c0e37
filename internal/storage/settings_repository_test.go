package storage

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestSettingsRepository(t *testing.T) *SettingsRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := New(Config{Path: dbPath, Profile: ProfileStandard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewSettingsRepository(db.Conn(), zerolog.Nop())
}

func TestSettingsRepositoryGetReturnsNilForUnsetKey(t *testing.T) {
	r := newTestSettingsRepository(t)
	v, err := r.Get("missing")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSettingsRepositorySetThenGetRoundTrips(t *testing.T) {
	r := newTestSettingsRepository(t)
	require.NoError(t, r.Set("admin_confirm_header", "X-Custom-Confirm"))

	v, err := r.Get("admin_confirm_header")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "X-Custom-Confirm", *v)
}

func TestSettingsRepositorySetOverwritesExistingValue(t *testing.T) {
	r := newTestSettingsRepository(t)
	require.NoError(t, r.Set("k", "first"))
	require.NoError(t, r.Set("k", "second"))

	v, err := r.Get("k")
	require.NoError(t, err)
	require.Equal(t, "second", *v)
}

func TestSettingsRepositoryTypedHelpersFallBackOnMissingOrBadValue(t *testing.T) {
	r := newTestSettingsRepository(t)
	require.Equal(t, 5, r.GetInt("missing", 5))
	require.Equal(t, 1.5, r.GetFloat("missing", 1.5))
	require.Equal(t, true, r.GetBool("missing", true))

	require.NoError(t, r.Set("bad_int", "not-a-number"))
	require.Equal(t, 42, r.GetInt("bad_int", 42))
}

func TestSettingsRepositoryDeleteRemovesKey(t *testing.T) {
	r := newTestSettingsRepository(t)
	require.NoError(t, r.Set("k", "v"))
	require.NoError(t, r.Delete("k"))

	v, err := r.Get("k")
	require.NoError(t, err)
	require.Nil(t, v)
}
