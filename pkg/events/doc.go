/*
Package events provides the broadcast broker behind every change stream in
pocket.

A Broker fans events out from one producer to any number of subscribers, each
with its own bounded queue. Delivery order per subscriber always equals
publish order; what happens when a subscriber falls behind is governed by the
OverflowPolicy:

  - DropOldest (default): the oldest queued event is evicted, so a slow
    subscriber sees a gap but never blocks the writer
  - DropNewest: the incoming event is discarded for that subscriber
  - Block: the publisher waits for the subscriber to drain

Document stores publish change events through a Broker; the view manager and
the branch manager publish their lifecycle events the same way.

# Usage Example

	broker := events.NewBroker[types.ChangeEvent](128, events.DropOldest)
	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			handle(ev)
		}
	}()
	broker.Publish(ev)
	broker.Unsubscribe(sub)
*/
package events
