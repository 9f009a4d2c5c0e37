// Package reliability provides the explicit policy objects (circuit
// breakers) that guard the agent's two upstreams — market data and chat
// delivery — per the design note calling for configurable, observable
// failure-threshold state machines rather than ad-hoc retry loops.
package reliability

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreaker is a closed/open/half-open failure guard for a single
// upstream dependency. Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	openDuration     time.Duration

	state        State
	failureCount int
	openedAt     time.Time
}

// New constructs a CircuitBreaker. failureThreshold is the number of
// consecutive failures that trips it open; openDuration is how long it stays
// open before allowing one half-open probe.
func New(name string, failureThreshold int, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
		state:            StateClosed,
	}
}

// Allow reports whether a call should be attempted right now. In the open
// state it also handles the open->half-open transition once openDuration has
// elapsed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(c.openedAt) >= c.openDuration {
			c.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets its failure counter.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.state = StateClosed
}

// RecordFailure increments the failure counter and trips the breaker open
// once failureThreshold consecutive failures have been recorded, or
// immediately re-opens it if a half-open probe itself failed.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen {
		c.state = StateOpen
		c.openedAt = time.Now()
		return
	}

	c.failureCount++
	if c.failureCount >= c.failureThreshold {
		c.state = StateOpen
		c.openedAt = time.Now()
	}
}

// State returns the current state, for health reporting.
func (c *CircuitBreaker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailureCount returns the current consecutive-failure counter.
func (c *CircuitBreaker) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}
