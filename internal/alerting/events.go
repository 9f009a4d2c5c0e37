package alerting

import "fmt"

// LongTriggerData carries a long-watch trigger firing (retrace/stall/
// breakout/mcap).
type LongTriggerData struct {
	CoinID          int64
	Symbol          string
	TriggerType     string // retrace|stall|breakout|mcap
	EvaluationTick  int64
	Price           float64
	RetraceFromHigh float64 // retrace only
	TargetLevel     float64 // mcap only
}

// EventType implements EventData.
func (d LongTriggerData) EventType() EventType { return EventLongTrigger }

// HotAlertData carries a hot-entry alert firing (hot_pct/hot_mcap/failsafe/
// entry_added).
type HotAlertData struct {
	HotID           int64
	Symbol          string
	AlertType       string // hot_pct|hot_mcap|failsafe|entry_added
	Tick            int64
	Price           float64
	DeltaFromAnchor float64 // hot_pct only
	TargetValue     float64 // hot_pct only
	McapLevel       float64 // hot_mcap only
}

// EventType implements EventData.
func (d HotAlertData) EventType() EventType { return EventHotAlert }

// SystemAlertData carries an operational alert (circuit breaker trip,
// anomaly threshold, delivery failure).
type SystemAlertData struct {
	Code    string
	Message string
}

// EventType implements EventData.
func (d SystemAlertData) EventType() EventType { return EventSystemAlert }

// LongTriggerPriority maps a long-watch trigger type to a delivery priority.
func LongTriggerPriority(d LongTriggerData) Priority {
	switch d.TriggerType {
	case "retrace":
		if d.RetraceFromHigh > 30 {
			return PriorityHigh
		}
		return PriorityNormal
	case "breakout":
		return PriorityHigh
	case "mcap":
		return PriorityNormal
	case "stall":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// HotAlertPriority maps a hot-entry alert type to a delivery priority.
func HotAlertPriority(d HotAlertData) Priority {
	switch d.AlertType {
	case "failsafe":
		return PriorityCritical
	case "hot_pct":
		delta := d.DeltaFromAnchor
		if delta < 0 {
			delta = -delta
		}
		if delta > 50 {
			return PriorityHigh
		}
		return PriorityNormal
	case "hot_mcap":
		return PriorityNormal
	default:
		return PriorityNormal
	}
}

// LongFingerprint builds the dedup key for a long trigger: identity plus a
// discretized evaluation tick, so repeated publishes of the same logical
// alert collide on the Outbox/AlertHistory unique index.
func LongFingerprint(coinID int64, triggerType string, evaluationTick int64) string {
	return fmt.Sprintf("long:%d:%s:%d", coinID, triggerType, evaluationTick)
}

// HotFingerprint builds the dedup key for a hot alert.
func HotFingerprint(hotID int64, alertType string, tick int64) string {
	return fmt.Sprintf("hot:%d:%s:%d", hotID, alertType, tick)
}
