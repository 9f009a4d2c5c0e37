// Package webhook exposes the Helius mint-event ingest endpoint: verify the
// signature header, extract the mint tuple, dedup by mint in an LRU, and
// persist a MintEvent row with an isFirst heuristic. The mint-report
// generator that consumes these rows is out of scope here.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/storage"
)

// mintDedupCacheSize bounds the LRU used to suppress duplicate webhook
// deliveries for the same mint within a short window, ahead of the
// persistence-layer unique index backstop.
const mintDedupCacheSize = 4096

const signatureHeader = "X-Helius-Signature"

// heliusPayload is the subset of the Helius webhook body this endpoint
// cares about: a signed (signature, mint, timestamp, decimals?) tuple.
type heliusPayload struct {
	Signature string `json:"signature"`
	Mint      string `json:"mint"`
	Timestamp int64  `json:"timestamp"`
	Decimals  *int   `json:"decimals,omitempty"`
}

// HeliusHandler handles POST /webhooks/helius.
type HeliusHandler struct {
	secret string
	events *storage.MintEventRepository
	seen   *lru.Cache[string, struct{}]
	log    zerolog.Logger
}

// NewHeliusHandler constructs a HeliusHandler. secret is HELIUS_WEBHOOK_SECRET;
// an empty secret means signature verification is skipped (local/dev only).
func NewHeliusHandler(secret string, events *storage.MintEventRepository, log zerolog.Logger) (*HeliusHandler, error) {
	cache, err := lru.New[string, struct{}](mintDedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &HeliusHandler{
		secret: secret,
		events: events,
		seen:   cache,
		log:    log.With().Str("component", "helius-webhook").Logger(),
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *HeliusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.secret != "" && !h.verifySignature(r.Header.Get(signatureHeader), body) {
		h.log.Warn().Msg("rejecting webhook delivery with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload heliusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn().Err(err).Msg("malformed webhook payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if payload.Mint == "" || payload.Signature == "" {
		http.Error(w, "missing mint or signature", http.StatusBadRequest)
		return
	}

	if _, recentlySeen := h.seen.Get(payload.Mint); recentlySeen {
		w.WriteHeader(http.StatusOK)
		return
	}

	isFirst, err := h.resolveIsFirst(payload.Mint)
	if err != nil {
		h.log.Error().Err(err).Str("mint", payload.Mint).Msg("failed to check mint history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	inserted, err := h.events.Create(domain.MintEvent{
		Signature: payload.Signature,
		Mint:      payload.Mint,
		TsUtc:     payload.Timestamp,
		Decimals:  payload.Decimals,
		IsFirst:   isFirst,
	})
	if err != nil {
		h.log.Error().Err(err).Str("mint", payload.Mint).Msg("failed to persist mint event")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.seen.Add(payload.Mint, struct{}{})
	if !inserted {
		h.log.Debug().Str("mint", payload.Mint).Msg("duplicate mint event dropped by unique index")
	}
	w.WriteHeader(http.StatusOK)
}

// resolveIsFirst implements the first-mint heuristic: a mint counts as
// "first" observed if no prior mint_event row exists for it.
func (h *HeliusHandler) resolveIsFirst(mint string) (bool, error) {
	seen, err := h.events.HasSeenMint(mint)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

func (h *HeliusHandler) verifySignature(header string, body []byte) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
