/*
Package dispatch provides the queue that carries work from producers to the
worker pool.

A Queue is multi-producer and multi-consumer. It can be bounded or unbounded:

	q, _ := dispatch.New[Task](0)   // unbounded, memory is the limit
	q, _ := dispatch.New[Task](128) // bounded, producers wait when full

Bounded queues apply a Strategy when full:

	q, _ := dispatch.NewWithConfig[Task](dispatch.Config{
		Capacity: 128,
		Strategy: dispatch.FailFast, // Send returns ErrQueueFull
	})

There are no drop strategies. A value accepted by Send or TrySend is handed
out exactly once, either by Receive/TryReceive or by Drain, so callers can
always account for it. Close stops new sends while consumers keep draining
whatever is still queued.
*/
package dispatch
