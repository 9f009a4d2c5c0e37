package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramSender implements MessageSender over the Telegram bot HTTP API
// using a plain net/http JSON-POST client.
type TelegramSender struct {
	botToken   string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewTelegramSender constructs a TelegramSender for the given bot token.
func NewTelegramSender(botToken string, log zerolog.Logger) *TelegramSender {
	return &TelegramSender{
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "telegram-sender").Logger(),
	}
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send posts text to chatID via the Telegram Bot API's sendMessage method.
// Network errors, 5xx and 429 rate limiting are reported transient; every
// other non-success outcome (other 4xx, or a 200 whose body is not ok) is
// reported permanent.
func (t *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(telegramSendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return &SendError{Permanent: true, Err: fmt.Errorf("marshal telegram request: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramBaseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SendError{Permanent: true, Err: fmt.Errorf("build telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &SendError{Permanent: false, Err: fmt.Errorf("telegram request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusOK {
		var parsed telegramResponse
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.OK {
			return nil
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &SendError{Permanent: false, Err: fmt.Errorf("telegram transient error: status %d, body %s", resp.StatusCode, string(raw))}
	}
	return &SendError{Permanent: true, Err: fmt.Errorf("telegram permanent error: status %d, body %s", resp.StatusCode, string(raw))}
}
