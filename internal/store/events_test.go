package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_FansOutToAllSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	hub.Publish(Event{Type: EventListChanged})

	assert.Equal(t, EventListChanged, (<-first).Type)
	assert.Equal(t, EventListChanged, (<-second).Type)
}

func TestHub_SlowConsumerLosesEventsNotDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	slow, cancelSlow := hub.Subscribe()
	defer cancelSlow()

	// Overflow the slow consumer's buffer; Publish must never block.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish(Event{Type: EventUnreadChanged, Unread: i})
	}

	received := 0
	for {
		select {
		case <-slow:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is safe.
	cancel()
}

func TestHub_SubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	hub := NewHub()
	hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	_, open := <-ch
	assert.False(t, open)
}
