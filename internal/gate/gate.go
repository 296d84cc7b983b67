// ABOUTME: Bounded concurrency gate for upstream assistant API calls
// ABOUTME: Admits at most N concurrent operations, queuing the rest in FIFO order

package gate

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by Do when the wait queue has reached its
// configured depth. Callers should surface this as a retryable busy error.
var ErrQueueFull = errors.New("gate: wait queue full")

// Observer receives notifications about upstream call outcomes.
// Implementations must be safe for concurrent use.
type Observer interface {
	CallStarted()
	CallFailed()
}

// waiter is a queued admission request. ready is closed exactly once when
// the waiter is granted a slot; canceled marks waiters that gave up while
// queued so the dispatcher skips them.
type waiter struct {
	ready    chan struct{}
	canceled bool
}

// Gate bounds the number of concurrently executing upstream operations.
// Excess callers block in strict arrival order. The gate only manages
// admission: operation errors pass through to the caller unchanged and
// are never retried here.
type Gate struct {
	mu       sync.Mutex
	limit    int
	maxQueue int // 0 or negative means unbounded
	running  int
	queue    *list.List // of *waiter, oldest at front
	observer Observer
}

// New creates a gate admitting at most limit concurrent operations.
// Waiters beyond maxQueue are rejected with ErrQueueFull; a maxQueue of
// zero or less leaves the queue unbounded. observer may be nil.
func New(limit, maxQueue int, observer Observer) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		limit:    limit,
		maxQueue: maxQueue,
		queue:    list.New(),
		observer: observer,
	}
}

// Do runs op under the concurrency limit, blocking until a slot is free.
// Queued callers are admitted in FIFO order. If ctx is canceled while
// waiting, Do returns ctx.Err() without running op; an op that has already
// started is never retracted.
func (g *Gate) Do(ctx context.Context, op func(context.Context) error) error {
	g.mu.Lock()
	if g.running < g.limit {
		g.running++
		g.mu.Unlock()
		return g.run(ctx, op)
	}

	if g.maxQueue > 0 && g.queue.Len() >= g.maxQueue {
		g.mu.Unlock()
		return ErrQueueFull
	}

	w := &waiter{ready: make(chan struct{})}
	elem := g.queue.PushBack(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return g.run(ctx, op)
	case <-ctx.Done():
		g.mu.Lock()
		if !w.admitted() {
			// Still queued: mark canceled and drop out of line.
			w.canceled = true
			g.queue.Remove(elem)
			g.mu.Unlock()
			return ctx.Err()
		}
		// Admitted concurrently with cancellation: give the slot back
		// without running the operation.
		g.mu.Unlock()
		g.release()
		return ctx.Err()
	}
}

// admitted reports whether ready has been closed. Must be called with mu held
// so it cannot race with dispatchLocked.
func (w *waiter) admitted() bool {
	select {
	case <-w.ready:
		return true
	default:
		return false
	}
}

// run executes op in an already-acquired slot and releases it afterwards.
func (g *Gate) run(ctx context.Context, op func(context.Context) error) error {
	if g.observer != nil {
		g.observer.CallStarted()
	}
	err := op(ctx)
	if err != nil && g.observer != nil {
		g.observer.CallFailed()
	}
	g.release()
	return err
}

// release frees a slot and admits the next live waiter, so capacity is
// never left idle while work is queued.
func (g *Gate) release() {
	g.mu.Lock()
	g.running--
	g.dispatchLocked()
	g.mu.Unlock()
}

// dispatchLocked grants slots to queued waiters while capacity remains.
// Must be called with mu held.
func (g *Gate) dispatchLocked() {
	for g.running < g.limit {
		front := g.queue.Front()
		if front == nil {
			return
		}
		g.queue.Remove(front)
		w := front.Value.(*waiter)
		if w.canceled {
			continue
		}
		g.running++
		close(w.ready)
	}
}

// Stats returns the number of running operations and queued waiters.
func (g *Gate) Stats() (running, queued int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running, g.queue.Len()
}
