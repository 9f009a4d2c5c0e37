package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/storage"
)

func newTestHandler(t *testing.T, secret string) (*HeliusHandler, *storage.MintEventRepository, *storage.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := storage.New(storage.Config{Path: dbPath, Profile: storage.ProfileLedger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	events := storage.NewMintEventRepository(db.Conn())
	h, err := NewHeliusHandler(secret, events, zerolog.Nop())
	require.NoError(t, err)
	return h, events, db
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHeliusHandlerRejectsBadSignature(t *testing.T) {
	h, _, _ := newTestHandler(t, "topsecret")
	body, _ := json.Marshal(heliusPayload{Signature: "sig1", Mint: "mintA", Timestamp: 1})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/helius", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeliusHandlerAcceptsValidSignatureAndMarksFirst(t *testing.T) {
	h, events, db := newTestHandler(t, "topsecret")
	body, _ := json.Marshal(heliusPayload{Signature: "sig1", Mint: "mintA", Timestamp: 1})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/helius", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign("topsecret", body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	seen, err := events.HasSeenMint("mintA")
	require.NoError(t, err)
	require.True(t, seen)

	var isFirst int
	require.NoError(t, db.Conn().QueryRow("SELECT is_first FROM mint_event WHERE signature = ?", "sig1").Scan(&isFirst))
	require.Equal(t, 1, isFirst)
}

func TestHeliusHandlerSecondDeliveryForSameMintIsNotFirst(t *testing.T) {
	h, events, db := newTestHandler(t, "")

	body1, _ := json.Marshal(heliusPayload{Signature: "sig1", Mint: "mintB", Timestamp: 1})
	req1 := httptest.NewRequest(http.MethodPost, "/webhooks/helius", bytes.NewReader(body1))
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	// A fresh handler (fresh LRU, same persisted store) simulates a
	// delivery arriving after the dedup cache would have evicted mintB.
	h2, err := NewHeliusHandler("", events, zerolog.Nop())
	require.NoError(t, err)
	body2, _ := json.Marshal(heliusPayload{Signature: "sig2", Mint: "mintB", Timestamp: 2})
	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/helius", bytes.NewReader(body2))
	rec2 := httptest.NewRecorder()
	h2.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	seen, err := events.HasSeenMint("mintB")
	require.NoError(t, err)
	require.True(t, seen)

	var isFirst int
	require.NoError(t, db.Conn().QueryRow("SELECT is_first FROM mint_event WHERE signature = ?", "sig2").Scan(&isFirst))
	require.Equal(t, 0, isFirst)
}

func TestHeliusHandlerRejectsMalformedPayload(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/helius", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
