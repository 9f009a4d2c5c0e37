package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongTriggerPriorityMapping(t *testing.T) {
	assert.Equal(t, PriorityHigh, LongTriggerPriority(LongTriggerData{TriggerType: "retrace", RetraceFromHigh: 40}))
	assert.Equal(t, PriorityNormal, LongTriggerPriority(LongTriggerData{TriggerType: "retrace", RetraceFromHigh: 10}))
	assert.Equal(t, PriorityHigh, LongTriggerPriority(LongTriggerData{TriggerType: "breakout"}))
	assert.Equal(t, PriorityNormal, LongTriggerPriority(LongTriggerData{TriggerType: "mcap"}))
	assert.Equal(t, PriorityLow, LongTriggerPriority(LongTriggerData{TriggerType: "stall"}))
}

func TestHotAlertPriorityMapping(t *testing.T) {
	assert.Equal(t, PriorityCritical, HotAlertPriority(HotAlertData{AlertType: "failsafe"}))
	assert.Equal(t, PriorityHigh, HotAlertPriority(HotAlertData{AlertType: "hot_pct", DeltaFromAnchor: 60}))
	assert.Equal(t, PriorityHigh, HotAlertPriority(HotAlertData{AlertType: "hot_pct", DeltaFromAnchor: -60}))
	assert.Equal(t, PriorityNormal, HotAlertPriority(HotAlertData{AlertType: "hot_pct", DeltaFromAnchor: 20}))
	assert.Equal(t, PriorityNormal, HotAlertPriority(HotAlertData{AlertType: "hot_mcap"}))
}

func TestFingerprintsAreStableAndDistinguishTick(t *testing.T) {
	a := LongFingerprint(1, "retrace", 100)
	b := LongFingerprint(1, "retrace", 100)
	c := LongFingerprint(1, "retrace", 101)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "long:1:retrace:100", a)
	assert.Equal(t, "hot:5:hot_pct:2", HotFingerprint(5, "hot_pct", 2))
}
