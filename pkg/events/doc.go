/*
Package events provides an in-memory event broker for cluster pub/sub
messaging.

The broker broadcasts cluster events (leader changes, membership
changes, snapshot compactions, nodes joining or leaving) to any number
of subscribers without coupling the publisher to them. Delivery is
best effort: Publish waits only while the broker's own 100-event queue
is full, and a subscriber whose buffer is full simply misses the event.

# Core Components

Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Buffered publish queue (100 events); Publish waits when it is full
  - Graceful shutdown via stop channel

Event:
  - ID: unique identifier, stamped at publish time if unset
  - Type: event type (leader.changed, node.joined, etc.)
  - Timestamp: when the event occurred, stamped if unset
  - Message: human-readable description
  - Metadata: key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

Event types:
  - leader.changed: this node observed a Raft leadership change
  - membership.changed: the voter/non-voter set was reconfigured
  - snapshot.compacted: a snapshot was captured and the log truncated
  - node.joined, node.left, node.down: discovery-directory churn

# Usage

Creating and starting a broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			if event.Type == events.EventLeaderChanged {
				// react to the new leader
			}
		}
	}()

Publishing:

	broker.Publish(&events.Event{
		Type:    events.EventNodeJoined,
		Message: "node-2 registered in directory",
		Metadata: map[string]string{"node_id": "node-2"},
	})

# Limitations

Events are in-memory only: there is no persistence, no replay, no
guaranteed delivery, and no topic filtering (every subscriber sees
every event and filters by Type itself). Do not rely on event
delivery for correctness — the Raft log, not the broker, is the
source of truth for cluster state.
*/
package events
