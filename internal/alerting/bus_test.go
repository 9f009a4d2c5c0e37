package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []string

	bus.Subscribe(EventLongTrigger, func(e AlertEvent) { order = append(order, "first") })
	bus.Subscribe(EventLongTrigger, func(e AlertEvent) { order = append(order, "second") })
	bus.Subscribe(EventHotAlert, func(e AlertEvent) { order = append(order, "hot") })

	bus.Publish(AlertEvent{Type: EventLongTrigger, Timestamp: time.Unix(0, 0)})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBusRecentEventsBoundedRing(t *testing.T) {
	bus := NewBus()
	for i := 0; i < RingCapacity+10; i++ {
		bus.Publish(AlertEvent{ID: string(rune('a' + i%26)), Timestamp: time.Unix(int64(i), 0)})
	}

	events := bus.RecentEvents()
	assert.Len(t, events, RingCapacity)
	// oldest-first: the first 10 events should have been evicted
	assert.Equal(t, int64(10), events[0].Timestamp.Unix())
	assert.Equal(t, int64(RingCapacity+9), events[len(events)-1].Timestamp.Unix())
}

func TestBusRecentEventsBeforeWrap(t *testing.T) {
	bus := NewBus()
	bus.Publish(AlertEvent{ID: "one", Timestamp: time.Unix(1, 0)})
	bus.Publish(AlertEvent{ID: "two", Timestamp: time.Unix(2, 0)})

	events := bus.RecentEvents()
	assert.Len(t, events, 2)
	assert.Equal(t, "one", events[0].ID)
	assert.Equal(t, "two", events[1].ID)
}
