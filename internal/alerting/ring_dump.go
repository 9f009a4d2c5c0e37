package alerting

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// ringDumpEvent is the on-disk projection of AlertEvent: EventData is
// flattened to its concrete field set since msgpack cannot round-trip an
// interface value without a registered extension.
type ringDumpEvent struct {
	ID          string         `msgpack:"id"`
	TimestampUX int64          `msgpack:"ts"`
	Type        EventType      `msgpack:"type"`
	Priority    Priority       `msgpack:"priority"`
	Fingerprint string         `msgpack:"fingerprint"`
	Data        map[string]any `msgpack:"data"`
}

// DumpRing serializes the bus's bounded introspection ring to path using
// msgpack, for operator diagnostics without touching the primary database.
func (b *Bus) DumpRing(path string) error {
	events := b.RecentEvents()
	dump := make([]ringDumpEvent, 0, len(events))
	for _, e := range events {
		dump = append(dump, ringDumpEvent{
			ID:          e.ID,
			TimestampUX: e.Timestamp.Unix(),
			Type:        e.Type,
			Priority:    e.Priority,
			Fingerprint: e.Fingerprint,
			Data:        eventDataToMap(e.Data),
		})
	}

	encoded, err := msgpack.Marshal(dump)
	if err != nil {
		return fmt.Errorf("marshal ring dump: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write ring dump %s: %w", path, err)
	}
	return nil
}

func eventDataToMap(data EventData) map[string]any {
	switch d := data.(type) {
	case LongTriggerData:
		return map[string]any{
			"coinId":          d.CoinID,
			"symbol":          d.Symbol,
			"triggerType":     d.TriggerType,
			"evaluationTick":  d.EvaluationTick,
			"price":           d.Price,
			"retraceFromHigh": d.RetraceFromHigh,
			"targetLevel":     d.TargetLevel,
		}
	case HotAlertData:
		return map[string]any{
			"hotId":           d.HotID,
			"symbol":          d.Symbol,
			"alertType":       d.AlertType,
			"tick":            d.Tick,
			"price":           d.Price,
			"deltaFromAnchor": d.DeltaFromAnchor,
			"targetValue":     d.TargetValue,
			"mcapLevel":       d.McapLevel,
		}
	case SystemAlertData:
		return map[string]any{"code": d.Code, "message": d.Message}
	default:
		return nil
	}
}
