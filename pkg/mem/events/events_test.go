package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+string(e.Operation)) })
	bus.Subscribe(func(e Event) { got = append(got, "second:"+string(e.Operation)) })

	bus.Publish(Event{Dimension: Episodic, Operation: Created, ID: "e1"})

	assert.Equal(t, []string{"first:created", "second:created"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ })
	assert.Equal(t, 1, bus.Len())

	bus.Publish(Event{Dimension: Core, Operation: Updated})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Dimension: Core, Operation: Updated})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Len())
}

func TestPublishStampsTime(t *testing.T) {
	bus := NewBus()
	var seen Event
	bus.Subscribe(func(e Event) { seen = e })

	bus.Publish(Event{Dimension: Resource, Operation: Accessed, ID: "r1"})
	assert.False(t, seen.At.IsZero())
	assert.Equal(t, Resource, seen.Dimension)
}

func TestPublishRecoversListenerPanic(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "before") })
	bus.Subscribe(func(e Event) { panic("listener exploded") })
	bus.Subscribe(func(e Event) { got = append(got, "after") })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Dimension: Semantic, Operation: Created, ID: "c1"})
	})
	assert.Equal(t, []string{"before", "after"}, got)
}
