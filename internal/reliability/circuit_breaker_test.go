package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerStartsClosedAndAllows(t *testing.T) {
	cb := New("test", 3, time.Minute)
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerTripsOpenAtThreshold(t *testing.T) {
	cb := New("test", 3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "below threshold, must stay closed")
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerRecordSuccessResetsCounterAndState(t *testing.T) {
	cb := New("test", 3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.FailureCount())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.FailureCount())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpensAfterOpenDurationElapses(t *testing.T) {
	cb := New("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow(), "open duration elapsed, must allow a half-open probe")
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreakerHalfOpenProbeFailureReopensImmediately(t *testing.T) {
	cb := New("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow(), "half-open probe failed, must reopen without a second grace period")
}

func TestCircuitBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	cb := New("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}
