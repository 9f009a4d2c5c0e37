package alerting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/storage"
)

// Publisher is the evaluators' only entry point into the alert pipeline.
// It writes the immutable AlertHistory row at emission time, independently
// of delivery, then publishes to the Bus so subscribers (the outbox
// enqueuer below) can fan the alert out.
type Publisher struct {
	bus   *Bus
	alert *storage.AlertRepository
	log   zerolog.Logger
}

// NewPublisher constructs a Publisher and wires the default outbox-enqueuing
// subscriber onto bus.
func NewPublisher(bus *Bus, alert *storage.AlertRepository, defaultChatID string, log zerolog.Logger) *Publisher {
	p := &Publisher{bus: bus, alert: alert, log: log.With().Str("component", "alert-publisher").Logger()}
	p.registerOutboxEnqueuer(defaultChatID)
	return p
}

// registerOutboxEnqueuer subscribes to every event type and enqueues an
// Outbox row carrying a minimally formatted message. A fingerprint
// collision on Outbox is "already queued", not an error.
func (p *Publisher) registerOutboxEnqueuer(chatID string) {
	handler := func(event AlertEvent) {
		text := formatEventText(event)
		if _, err := p.alert.EnqueueOutbox(chatID, text, event.Fingerprint, event.Timestamp.Unix()); err != nil {
			p.log.Error().Err(err).Str("fingerprint", event.Fingerprint).Msg("failed to enqueue outbox row")
		}
	}
	p.bus.Subscribe(EventLongTrigger, handler)
	p.bus.Subscribe(EventHotAlert, handler)
	p.bus.Subscribe(EventSystemAlert, handler)
}

// PublishLongTrigger records and publishes a long-trigger alert. The
// AlertHistory write happens first and is the dedup authority; a collision
// there means this is a repeat publish of the same logical alert and the
// bus fan-out (and therefore the outbox enqueue) is skipped entirely.
func (p *Publisher) PublishLongTrigger(coinID int64, tsUtc int64, d LongTriggerData) error {
	fingerprint := LongFingerprint(coinID, d.TriggerType, d.EvaluationTick)
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal long trigger payload: %w", err)
	}

	inserted, err := p.alert.RecordAlertHistory(domain.AlertHistory{
		CoinID:      &coinID,
		TsUtc:       tsUtc,
		Kind:        domain.AlertKind(d.TriggerType),
		PayloadJSON: string(payload),
		Fingerprint: fingerprint,
	})
	if err != nil {
		return fmt.Errorf("record long trigger alert history: %w", err)
	}
	if !inserted {
		return nil
	}

	p.bus.Publish(AlertEvent{
		ID:          fingerprint,
		Timestamp:   time.Unix(tsUtc, 0).UTC(),
		Type:        EventLongTrigger,
		Data:        d,
		Priority:    LongTriggerPriority(d),
		Fingerprint: fingerprint,
	})
	return nil
}

// PublishHotAlert records and publishes a hot-entry alert.
func (p *Publisher) PublishHotAlert(hotID int64, tsUtc int64, d HotAlertData) error {
	fingerprint := HotFingerprint(hotID, d.AlertType, d.Tick)
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal hot alert payload: %w", err)
	}

	kind := domain.AlertKind(d.AlertType)
	if d.AlertType == "hot_pct" {
		kind = domain.AlertHotPct
	} else if d.AlertType == "hot_mcap" {
		kind = domain.AlertHotMcap
	}

	inserted, err := p.alert.RecordAlertHistory(domain.AlertHistory{
		HotID:       &hotID,
		TsUtc:       tsUtc,
		Kind:        kind,
		PayloadJSON: string(payload),
		Fingerprint: fingerprint,
	})
	if err != nil {
		return fmt.Errorf("record hot alert history: %w", err)
	}
	if !inserted {
		return nil
	}

	p.bus.Publish(AlertEvent{
		ID:          fingerprint,
		Timestamp:   time.Unix(tsUtc, 0).UTC(),
		Type:        EventHotAlert,
		Data:        d,
		Priority:    HotAlertPriority(d),
		Fingerprint: fingerprint,
	})
	return nil
}

// PublishSystemAlert records and publishes an operational alert (circuit
// breaker trip, anomaly threshold crossed, permanent delivery failure).
func (p *Publisher) PublishSystemAlert(tsUtc int64, d SystemAlertData) error {
	fingerprint := fmt.Sprintf("system:%s:%d", d.Code, tsUtc)
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal system alert payload: %w", err)
	}

	inserted, err := p.alert.RecordAlertHistory(domain.AlertHistory{
		TsUtc:       tsUtc,
		Kind:        domain.AlertKind("system"),
		PayloadJSON: string(payload),
		Fingerprint: fingerprint,
	})
	if err != nil {
		return fmt.Errorf("record system alert history: %w", err)
	}
	if !inserted {
		return nil
	}

	p.bus.Publish(AlertEvent{
		ID:          fingerprint,
		Timestamp:   time.Unix(tsUtc, 0).UTC(),
		Type:        EventSystemAlert,
		Data:        d,
		Priority:    PriorityCritical,
		Fingerprint: fingerprint,
	})
	return nil
}

func formatEventText(event AlertEvent) string {
	switch d := event.Data.(type) {
	case LongTriggerData:
		if d.TriggerType == "retrace" {
			return fmt.Sprintf("%s: %s retrace %.1f%% from high, price %.6g", d.Symbol, d.TriggerType, d.RetraceFromHigh, d.Price)
		}
		return fmt.Sprintf("%s: %s trigger, price %.6g", d.Symbol, d.TriggerType, d.Price)
	case HotAlertData:
		switch d.AlertType {
		case "failsafe":
			return fmt.Sprintf("%s: FAILSAFE drawdown, price %.6g", d.Symbol, d.Price)
		case "entry_added":
			return fmt.Sprintf("%s: now being monitored", d.Symbol)
		case "hot_pct":
			return fmt.Sprintf("%s: target %.1f%% reached (%.1f%% from anchor)", d.Symbol, d.TargetValue, d.DeltaFromAnchor)
		default:
			return fmt.Sprintf("%s: %s alert, price %.6g", d.Symbol, d.AlertType, d.Price)
		}
	case SystemAlertData:
		return fmt.Sprintf("system [%s]: %s", d.Code, d.Message)
	default:
		return "alert"
	}
}
