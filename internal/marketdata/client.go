// Package marketdata fetches, batches, validates, and rate-limits pricing
// snapshots from the upstream public aggregator.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/reliability"
)

const (
	bucketCapacity   = 300
	bucketWindow     = 60 * time.Second
	requestTimeout   = 10 * time.Second
	baseURL          = "https://api.dexscreener.com/latest/dex/tokens"
	failureThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// TokenRequest identifies one pair to fetch.
type TokenRequest struct {
	Chain        string
	TokenAddress string
}

// Key returns the "chain:tokenAddress" map key used by BatchGetTokens.
func (t TokenRequest) Key() string {
	return t.Chain + ":" + t.TokenAddress
}

// Client fetches current market snapshots, grouped per chain into one HTTP
// call, paced by a shared token bucket plus the minimum inter-request delay
// and fronted by go-retryablehttp for bounded transient-failure retries
// instead of a hand-rolled retry loop.
type Client struct {
	httpClient *retryablehttp.Client
	bucket     *tokenBucket
	minDelay   time.Duration
	log        zerolog.Logger
	breaker    *reliability.CircuitBreaker

	lastRequestMu sync.Mutex
	lastRequest   time.Time
}

// Config configures the MarketDataClient.
type Config struct {
	MinInterRequestDelay time.Duration
}

// New constructs a Client.
func New(cfg Config, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil // zerolog is wired through c.log instead of retryablehttp's own logger

	return &Client{
		httpClient: rc,
		bucket:     newTokenBucket(bucketCapacity, bucketWindow),
		minDelay:   cfg.MinInterRequestDelay,
		log:        log.With().Str("component", "marketdata").Logger(),
		breaker:    reliability.New("marketdata", failureThreshold, breakerOpenFor),
	}
}

// BatchGetTokens fetches snapshots for every requested pair, grouped by
// chain into one HTTP call per chain. The result maps Key() to a PairInfo,
// or to nil if no liquid pair exists or the fetch failed for that chain.
func (c *Client) BatchGetTokens(ctx context.Context, requests []TokenRequest) (map[string]*domain.PairInfo, error) {
	byChain := make(map[string][]string)
	for _, r := range requests {
		byChain[r.Chain] = append(byChain[r.Chain], r.TokenAddress)
	}

	out := make(map[string]*domain.PairInfo, len(requests))
	for chain, addrs := range byChain {
		snapshots, err := c.fetchChain(ctx, chain, addrs)
		if err != nil {
			c.log.Warn().Err(err).Str("chain", chain).Msg("market data fetch failed for chain")
			for _, addr := range addrs {
				out[chain+":"+addr] = nil
			}
			continue
		}
		for _, addr := range addrs {
			out[chain+":"+addr] = snapshots[addr]
		}
	}
	return out, nil
}

// fetchChain issues one rate-limited HTTP call for every address on a chain
// and selects the best pair per token per the liquidity/volume tiebreaker.
func (c *Client) fetchChain(ctx context.Context, chain string, addresses []string) (map[string]*domain.PairInfo, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for market data")
	}

	c.throttle()

	url := fmt.Sprintf("%s/%s", baseURL, strings.Join(addresses, ","))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("request chain %s: %w", chain, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var payload struct {
		Pairs []rawPair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	c.breaker.RecordSuccess()
	return selectBestPairs(chain, payload.Pairs), nil
}

// throttle applies the shared token bucket and the operator-configured
// minimum inter-request delay; both suspend the caller, never drop it.
func (c *Client) throttle() {
	c.bucket.Acquire()

	c.lastRequestMu.Lock()
	defer c.lastRequestMu.Unlock()

	if c.minDelay > 0 {
		if elapsed := time.Since(c.lastRequest); elapsed < c.minDelay {
			time.Sleep(c.minDelay - elapsed)
		}
	}
	c.lastRequest = time.Now()
}

type rawPair struct {
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	MarketCap *float64 `json:"marketCap"`
	FDV       *float64 `json:"fdv"`
	Volume    struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Info map[string]any `json:"info"`
}

// selectBestPairs picks, per base-token address, the pair with the highest
// USD liquidity, tiebroken by higher 24h volume, with a stable sort so the
// choice is deterministic across calls when the underlying data is stable.
func selectBestPairs(chain string, pairs []rawPair) map[string]*domain.PairInfo {
	byToken := make(map[string][]rawPair)
	for _, p := range pairs {
		addr := p.BaseToken.Address
		byToken[addr] = append(byToken[addr], p)
	}

	out := make(map[string]*domain.PairInfo, len(byToken))
	for addr, candidates := range byToken {
		sort.SliceStable(candidates, func(i, j int) bool {
			li, lj := liquidityOf(candidates[i]), liquidityOf(candidates[j])
			if li != lj {
				return li > lj
			}
			return candidates[i].Volume.H24 > candidates[j].Volume.H24
		})

		best := toPairInfo(chain, candidates[0])
		if best != nil {
			out[addr] = best
		}
	}
	return out
}

func liquidityOf(p rawPair) float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

func toPairInfo(chain string, p rawPair) *domain.PairInfo {
	price, err := strconv.ParseFloat(p.PriceUSD, 64)
	if err != nil || price <= 0 {
		return nil
	}

	info := &domain.PairInfo{
		ChainID:        chain,
		BaseTokenAddr:  p.BaseToken.Address,
		Symbol:         p.BaseToken.Symbol,
		Name:           p.BaseToken.Name,
		Price:          price,
		MarketCap:      p.MarketCap,
		Volume24h:      p.Volume.H24,
		PriceChange24h: clampPriceChange(p.PriceChange.H24),
		Metadata:       p.Info,
	}
	if p.Liquidity != nil {
		liq := p.Liquidity.USD
		info.Liquidity = &liq
	}
	return info
}

// clampPriceChange bounds a reported percentage to the validator's sane
// range, so a single wildly malformed field doesn't poison state.
func clampPriceChange(pct float64) float64 {
	const bound = 1000
	if pct > bound {
		return bound
	}
	if pct < -bound {
		return -bound
	}
	return pct
}

// Ping is a lightweight availability check for health probes.
func (c *Client) Ping(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/So11111111111111111111111111111111111111112", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping status %d", resp.StatusCode)
	}
	return nil
}
