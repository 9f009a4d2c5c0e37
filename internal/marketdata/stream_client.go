package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	streamDialTimeout   = 30 * time.Second
	streamBaseReconnect = 5 * time.Second
	streamMaxReconnect  = 5 * time.Minute

	// DefaultStreamURL is the aggregator's real-time pair-update feed, the
	// streaming counterpart to baseURL's polled REST endpoint.
	DefaultStreamURL = "wss://io.dexscreener.com/dex/screener/v5/pairs"
)

// StreamUpdate is one real-time pair update folded opportunistically into
// the rolling window between poll ticks. It never replaces the authoritative
// poll; it only reduces staleness.
type StreamUpdate struct {
	Chain        string
	TokenAddress string
	Price        float64
	Volume24h    float64
	MarketCap    *float64
}

// StreamClient is the optional streaming ingest client, gated behind
// WS_ENABLED: dial, read loop with context cancellation, exponential-backoff
// reconnection.
type StreamClient struct {
	url string
	log zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}

	onUpdate func(StreamUpdate)
}

// NewStreamClient constructs a StreamClient. onUpdate is invoked for every
// decoded update; it must not block.
func NewStreamClient(url string, onUpdate func(StreamUpdate), log zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:      url,
		onUpdate: onUpdate,
		log:      log.With().Str("component", "marketdata-stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start dials the stream and begins the read loop in the background.
func (s *StreamClient) Start() error {
	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("initial stream connect failed, retrying in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readLoop(ctx)
	return nil
}

// Stop closes the connection and halts reconnection.
func (s *StreamClient) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

func (s *StreamClient) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), streamDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true
	return nil
}

func (s *StreamClient) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false
	if err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

func (s *StreamClient) readLoop(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleMessage(data); err != nil {
			s.log.Warn().Err(err).Msg("failed to handle stream message")
		}
	}
}

func (s *StreamClient) handleMessage(data []byte) error {
	var raw struct {
		Chain        string   `json:"chain"`
		TokenAddress string   `json:"tokenAddress"`
		Price        float64  `json:"price"`
		Volume24h    float64  `json:"volume24h"`
		MarketCap    *float64 `json:"marketCap"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode stream message: %w", err)
	}
	if s.onUpdate != nil {
		s.onUpdate(StreamUpdate{
			Chain:        raw.Chain,
			TokenAddress: raw.TokenAddress,
			Price:        raw.Price,
			Volume24h:    raw.Volume24h,
			MarketCap:    raw.MarketCap,
		})
	}
	return nil
}

func (s *StreamClient) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		attempt++
		delay := time.Duration(math.Min(
			float64(streamBaseReconnect)*math.Pow(2, float64(attempt-1)),
			float64(streamMaxReconnect),
		))

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("stream reconnect failed")
			continue
		}

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readLoop(ctx)
		return
	}
}
