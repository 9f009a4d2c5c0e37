package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/reliability"
	"github.com/aristath/sentry/internal/storage"
)

// MessageSender delivers one chat message within a finite timeout. A
// returned *SendError with Permanent set reports a failure as non-retriable
// (e.g. chat not accessible); any other error is treated as transient
// (rate-limited, network blip).
type MessageSender interface {
	Send(ctx context.Context, chatID, text string) error
}

// SendError distinguishes transient from permanent delivery failures so the
// sender loop knows whether to retry on the next pass or mark the row
// failed.
type SendError struct {
	Permanent bool
	Err       error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// Sender drains the Outbox in (sentOk=false, tsUtc ASC) order and calls
// MessageSender. Callers must not run two drains concurrently against the
// same Sender; DrainOnce assumes exclusive access to the underlying
// outbound channel.
type Sender struct {
	alert     *storage.AlertRepository
	sendFn    MessageSender
	breaker   *reliability.CircuitBreaker
	publisher *Publisher
	log       zerolog.Logger
	batchSize int
}

// NewSender constructs a Sender.
func NewSender(alert *storage.AlertRepository, sendFn MessageSender, publisher *Publisher, log zerolog.Logger) *Sender {
	return &Sender{
		alert:     alert,
		sendFn:    sendFn,
		breaker:   reliability.New("chat-send", 5, 30*time.Second),
		publisher: publisher,
		log:       log.With().Str("component", "outbox-sender").Logger(),
		batchSize: 50,
	}
}

// DrainOnce processes one pass of pending outbox rows.
func (s *Sender) DrainOnce(ctx context.Context) error {
	rows, err := s.alert.DrainPending(s.batchSize)
	if err != nil {
		return fmt.Errorf("drain pending outbox: %w", err)
	}

	for _, row := range rows {
		if !s.breaker.Allow() {
			s.log.Warn().Msg("chat-send circuit breaker open, deferring remaining outbox rows")
			return nil
		}

		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sendFn.Send(sendCtx, row.ChatID, row.Text)
		cancel()

		if err == nil {
			s.breaker.RecordSuccess()
			if err := s.alert.MarkSent(row.OutboxID, time.Now().Unix()); err != nil {
				s.log.Error().Err(err).Int64("outbox_id", row.OutboxID).Msg("failed to mark outbox row sent")
			}
			continue
		}

		s.breaker.RecordFailure()

		var sendErr *SendError
		if asSendError(err, &sendErr) && sendErr.Permanent {
			if markErr := s.alert.MarkFailed(row.OutboxID); markErr != nil {
				s.log.Error().Err(markErr).Int64("outbox_id", row.OutboxID).Msg("failed to mark outbox row failed")
			}
			if s.publisher != nil {
				_ = s.publisher.PublishSystemAlert(time.Now().Unix(), SystemAlertData{
					Code:    "outbox_permanent_failure",
					Message: fmt.Sprintf("outbox row %d permanently failed: %v", row.OutboxID, err),
				})
			}
			continue
		}

		s.log.Warn().Err(err).Int64("outbox_id", row.OutboxID).Msg("transient delivery failure, leaving row for next pass")
	}

	if s.breaker.State() == reliability.StateOpen && s.publisher != nil {
		_ = s.publisher.PublishSystemAlert(time.Now().Unix(), SystemAlertData{
			Code:    "chat_send_circuit_open",
			Message: "chat delivery circuit breaker is open",
		})
	}

	return nil
}

func asSendError(err error, target **SendError) bool {
	return errors.As(err, target)
}
