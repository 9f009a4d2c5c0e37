package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/storage"
)

type stubMarket struct {
	err error
}

func (m stubMarket) Ping(ctx context.Context) error { return m.err }

type stubScheduler struct {
	last time.Time
}

func (s stubScheduler) LastTick() time.Time { return s.last }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := storage.New(storage.Config{Path: dbPath, Profile: storage.ProfileLedger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	alerts := storage.NewAlertRepository(db.Conn())

	return New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		DB:        db,
		Alerts:    alerts,
		Market:    stubMarket{},
		Scheduler: stubScheduler{last: time.Now()},
	})
}

func TestHandleHealthReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.True(t, resp.DatabaseOK)
	require.True(t, resp.MarketDataOK)
	require.False(t, resp.SchedulerStale)
}

func TestHandleHealthDegradesOnMarketDataFailure(t *testing.T) {
	s := newTestServer(t)
	s.market = stubMarket{err: context.DeadlineExceeded}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.False(t, resp.MarketDataOK)
}

func TestHandleHealthReportsStaleScheduler(t *testing.T) {
	s := newTestServer(t)
	s.scheduler = stubScheduler{last: time.Now().Add(-time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.True(t, resp.SchedulerStale)
}

func TestHandleStatusIsMinimalLiveness(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMemoryReturnsBreakdown(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/memory", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.GoAllocBytes)
}

func TestHandleMemoryGCTriggersCollection(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/memory/gc", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDatabaseCleanupDryRunNeedsNoConfirmation(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/database/cleanup", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["dryRun"])
}

func TestHandleDatabaseCleanupLiveRunRejectedWithoutConfirmHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/database/cleanup", jsonBody(t, map[string]any{
		"daysToKeep": 7,
		"dryRun":     false,
	}))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
}

func TestHandleDatabaseCleanupLiveRunSucceedsWithConfirmHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/database/cleanup", jsonBody(t, map[string]any{
		"daysToKeep": 7,
		"dryRun":     false,
	}))
	req.Header.Set(s.confirmHdr, "yes")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
