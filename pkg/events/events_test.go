package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishStampsIDAndTimestampWhenUnset(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()

	b.Publish(&Event{Type: EventNodeJoined})

	select {
	case got := <-sub:
		require.NotEmpty(t, got.ID)
		require.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishPreservesCallerSuppliedIDAndTimestamp(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()

	ts := time.Now().Add(-time.Hour)
	b.Publish(&Event{ID: "fixed-id", Type: EventNodeLeft, Timestamp: ts})

	got := <-sub
	require.Equal(t, "fixed-id", got.ID)
	require.Equal(t, ts, got.Timestamp)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := newTestBroker(t)
	a := b.Subscribe()
	c := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventLeaderChanged})

	for _, sub := range []Subscriber{a, c} {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatal("a subscriber missed the broadcast event")
		}
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	require.False(t, open, "unsubscribe must close the channel")
}
