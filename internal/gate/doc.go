// Package gate bounds concurrency for upstream assistant API calls.
//
// # Overview
//
// Every call to the upstream provider passes through a Gate. At most
// limit operations run at once; excess callers wait in strict arrival
// order. When the wait queue reaches its configured depth, new callers
// fail fast with ErrQueueFull instead of piling up.
//
// # Usage
//
//	g := gate.New(5, 100, observer)
//	err := g.Do(ctx, func(ctx context.Context) error {
//	    return client.CreateThread(ctx)
//	})
//
// Do returns the operation's error unchanged, ErrQueueFull when the
// queue is at capacity, or ctx.Err() if the caller gives up while
// waiting. A canceled waiter never occupies a slot.
//
// The optional Observer is notified when calls start and fail, which
// feeds the monitor package's counters.
package gate
