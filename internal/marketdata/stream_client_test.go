package marketdata

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamClientHandleMessageInvokesOnUpdate(t *testing.T) {
	var got StreamUpdate
	s := NewStreamClient("wss://example.invalid", func(u StreamUpdate) { got = u }, zerolog.Nop())

	err := s.handleMessage([]byte(`{"chain":"solana","tokenAddress":"addr-1","price":1.5,"volume24h":2000}`))
	require.NoError(t, err)

	assert.Equal(t, "solana", got.Chain)
	assert.Equal(t, "addr-1", got.TokenAddress)
	assert.Equal(t, 1.5, got.Price)
	assert.Equal(t, 2000.0, got.Volume24h)
	assert.Nil(t, got.MarketCap)
}

func TestStreamClientHandleMessageRejectsMalformedJSON(t *testing.T) {
	s := NewStreamClient("wss://example.invalid", func(StreamUpdate) {}, zerolog.Nop())
	err := s.handleMessage([]byte(`not json`))
	require.Error(t, err)
}

func TestStreamClientHandleMessageToleratesNilCallback(t *testing.T) {
	s := NewStreamClient("wss://example.invalid", nil, zerolog.Nop())
	err := s.handleMessage([]byte(`{"chain":"solana","tokenAddress":"addr-1","price":1}`))
	require.NoError(t, err)
}
