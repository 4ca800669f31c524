package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeManyAndUnsubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.SubscribeMany([]Event{EventOrderPut, EventOrderFilled}, 4)

	b.Publish(EventOrderPut, OrderEvent{Type: EventOrderPut, OrderID: 1})
	b.Publish(EventOrderFilled, OrderEvent{Type: EventOrderFilled, OrderID: 1})
	b.Publish(EventOrderCancelled, OrderEvent{Type: EventOrderCancelled, OrderID: 1})

	first := (<-ch).(OrderEvent)
	second := (<-ch).(OrderEvent)
	assert.Equal(t, EventOrderPut, first.Type)
	assert.Equal(t, EventOrderFilled, second.Type)

	unsub()
	unsub()
	_, open := <-ch
	require.False(t, open)
	b.Publish(EventOrderPut, OrderEvent{})
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(EventVenueError, 1)
	defer unsub()

	b.Publish(EventVenueError, "a")
	b.Publish(EventVenueError, "b")
	assert.Equal(t, uint64(1), b.Dropped())
}
