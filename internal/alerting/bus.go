// Package alerting implements the in-process AlertEvent bus, fingerprint
// dedup, and the persistent outbox sender. Evaluators never call a chat
// sender directly; they publish to Bus and subscribers fan out from there,
// a Subscribe-to-handler idiom generalized from a job-enqueue bus to a
// typed alert bus.
package alerting

import (
	"sync"
	"time"
)

// EventType tags the three AlertEvent families.
type EventType string

const (
	EventLongTrigger EventType = "long_trigger"
	EventHotAlert    EventType = "hot_alert"
	EventSystemAlert EventType = "system_alert"
)

// Priority is the delivery priority assigned at emission time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EventData is implemented by every typed alert payload.
type EventData interface {
	EventType() EventType
}

// AlertEvent is the tagged-variant event published on the bus.
type AlertEvent struct {
	ID          string
	Timestamp   time.Time
	Type        EventType
	Data        EventData
	Priority    Priority
	Fingerprint string
}

// Handler processes one AlertEvent. Handlers must be idempotent; the bus
// delivers at-least-once in emission order per subscriber.
type Handler func(event AlertEvent)

// Bus is the typed, in-process publish/subscribe dispatcher that replaces
// the distilled system's dynamic string-keyed event emitter (per the design
// note calling for typed channels or a tagged-variant dispatcher). It also
// retains a bounded ring of recent events for introspection.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler

	ringMu sync.Mutex
	ring   []AlertEvent
	ringN  int
}

// RingCapacity bounds the in-memory introspection ring at ≤1000 events.
const RingCapacity = 1000

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Handler)}
}

// Subscribe registers handler for every event of the given type. Subscribers
// register at startup, per the design note replacing dynamic subscription.
func (b *Bus) Subscribe(t EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], handler)
}

// Publish dispatches event to every subscriber of its type, synchronously
// and in subscriber-registration order, then records it in the ring.
func (b *Bus) Publish(event AlertEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	b.recordRing(event)
}

func (b *Bus) recordRing(event AlertEvent) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if len(b.ring) < RingCapacity {
		b.ring = append(b.ring, event)
		return
	}
	b.ring[b.ringN] = event
	b.ringN = (b.ringN + 1) % RingCapacity
}

// RecentEvents returns a snapshot of the bounded introspection ring, oldest
// first.
func (b *Bus) RecentEvents() []AlertEvent {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if len(b.ring) < RingCapacity {
		out := make([]AlertEvent, len(b.ring))
		copy(out, b.ring)
		return out
	}

	out := make([]AlertEvent, 0, RingCapacity)
	out = append(out, b.ring[b.ringN:]...)
	out = append(out, b.ring[:b.ringN]...)
	return out
}
