package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/domain"
)

func newTestAlertRepository(t *testing.T) *AlertRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := New(Config{Path: dbPath, Profile: ProfileLedger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewAlertRepository(db.Conn())
}

// TestAlertRepositoryFingerprintDedupIsIdempotent exercises property #4:
// publishing the same fingerprint twice yields exactly one row, with the
// second write reported as a non-error, non-insert.
func TestAlertRepositoryFingerprintDedupIsIdempotent(t *testing.T) {
	r := newTestAlertRepository(t)
	h := domain.AlertHistory{TsUtc: 100, Kind: "retrace", PayloadJSON: "{}", Fingerprint: "long:1:retrace:100"}

	inserted, err := r.RecordAlertHistory(h)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = r.RecordAlertHistory(h)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestAlertRepositoryEnqueueOutboxDedupsByFingerprint(t *testing.T) {
	r := newTestAlertRepository(t)

	inserted, err := r.EnqueueOutbox("chat-1", "hello", "fp-1", 100)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = r.EnqueueOutbox("chat-1", "hello again", "fp-1", 200)
	require.NoError(t, err)
	require.False(t, inserted)
}

// TestAlertRepositoryDrainPendingOrdersByTimestamp exercises property #10's
// delivery-ordering precondition: pending rows come back oldest first.
func TestAlertRepositoryDrainPendingOrdersByTimestamp(t *testing.T) {
	r := newTestAlertRepository(t)

	_, err := r.EnqueueOutbox("chat-1", "second", "fp-2", 200)
	require.NoError(t, err)
	_, err = r.EnqueueOutbox("chat-1", "first", "fp-1", 100)
	require.NoError(t, err)

	rows, err := r.DrainPending(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "fp-1", rows[0].Fingerprint)
	require.Equal(t, "fp-2", rows[1].Fingerprint)
}

func TestAlertRepositoryMarkSentRemovesRowFromPending(t *testing.T) {
	r := newTestAlertRepository(t)
	_, err := r.EnqueueOutbox("chat-1", "hello", "fp-1", 100)
	require.NoError(t, err)

	rows, err := r.DrainPending(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, r.MarkSent(rows[0].OutboxID, 150))

	rows, err = r.DrainPending(10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

// TestAlertRepositoryCleanupOlderThanDryRunDoesNotDelete exercises the
// /database/cleanup preview path: counts match but rows survive.
func TestAlertRepositoryCleanupOlderThanDryRunDoesNotDelete(t *testing.T) {
	r := newTestAlertRepository(t)
	require.NoError(t, insertAlertHistoryAt(r, 100))
	require.NoError(t, insertAlertHistoryAt(r, 5000))

	result, err := r.CleanupOlderThan(1000, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.AlertHistoryRows)

	var count int64
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM alert_history").Scan(&count))
	require.Equal(t, int64(2), count)
}

func TestAlertRepositoryCleanupOlderThanLiveRunDeletes(t *testing.T) {
	r := newTestAlertRepository(t)
	require.NoError(t, insertAlertHistoryAt(r, 100))
	require.NoError(t, insertAlertHistoryAt(r, 5000))

	result, err := r.CleanupOlderThan(1000, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.AlertHistoryRows)

	var count int64
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM alert_history").Scan(&count))
	require.Equal(t, int64(1), count)
}

func TestAlertRepositoryCleanupNeverDeletesPendingOutboxRows(t *testing.T) {
	r := newTestAlertRepository(t)
	_, err := r.EnqueueOutbox("chat-1", "still pending", "fp-old", 100)
	require.NoError(t, err)

	result, err := r.CleanupOlderThan(1000, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.OutboxRows)

	rows, err := r.DrainPending(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func insertAlertHistoryAt(r *AlertRepository, ts int64) error {
	_, err := r.RecordAlertHistory(domain.AlertHistory{
		TsUtc:       ts,
		Kind:        "retrace",
		PayloadJSON: "{}",
		Fingerprint: fmt.Sprintf("fp-%d", ts),
	})
	return err
}
