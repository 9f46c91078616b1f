package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversInPublishOrder(t *testing.T) {
	b := NewBroker[int](16, DropOldest)
	defer b.Close()

	sub := b.Subscribe()
	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	for want := 1; want <= 5; want++ {
		assert.Equal(t, want, <-sub)
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker[string](4, DropOldest)
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish("hello")
	assert.Equal(t, "hello", <-s1)
	assert.Equal(t, "hello", <-s2)
}

func TestBrokerDropOldest(t *testing.T) {
	b := NewBroker[int](2, DropOldest)
	defer b.Close()

	sub := b.Subscribe()
	b.Publish(1)
	b.Publish(2)
	b.Publish(3) // evicts 1

	assert.Equal(t, 2, <-sub)
	assert.Equal(t, 3, <-sub)
}

func TestBrokerDropNewest(t *testing.T) {
	b := NewBroker[int](2, DropNewest)
	defer b.Close()

	sub := b.Subscribe()
	b.Publish(1)
	b.Publish(2)
	b.Publish(3) // dropped

	assert.Equal(t, 1, <-sub)
	assert.Equal(t, 2, <-sub)
}

func TestBrokerSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker[int](1, DropOldest)
	defer b.Close()

	slow := b.Subscribe()
	fast := b.Subscribe()

	// slow never drains; fast must still observe the newest event.
	for i := 0; i < 10; i++ {
		b.Publish(i)
		assert.Equal(t, i, <-fast)
	}
	assert.Equal(t, 9, <-slow) // only the newest survived the evictions
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker[int](4, DropOldest)
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerCloseTerminatesSubscribers(t *testing.T) {
	b := NewBroker[int](4, DropOldest)
	sub := b.Subscribe()
	b.Close()

	_, open := <-sub
	assert.False(t, open)

	// Publishing and subscribing after close are safe no-ops.
	b.Publish(1)
	late := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
