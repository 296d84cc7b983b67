// ABOUTME: Tests for the upstream call gate
// ABOUTME: Validates concurrency limits, FIFO admission order, queue caps, and cancellation

package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForQueued polls until the gate reports the wanted queue depth.
func waitForQueued(t *testing.T, g *Gate, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, queued := g.Stats(); queued == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	_, queued := g.Stats()
	t.Fatalf("queue depth = %d, want %d", queued, want)
}

func TestGate_RunsImmediatelyUnderLimit(t *testing.T) {
	g := New(5, 0, nil)

	ran := false
	err := g.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestGate_NeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(limit, 0, nil)

	var current, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt64(&current, 1)
				// Track the high-water mark of concurrent executions
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit),
		"concurrent executions must never exceed the limit")
}

func TestGate_FIFOOrder(t *testing.T) {
	// Scenario: limit 1, op1 holds the slot while op2 and op3 queue.
	// op2 must start before op3.
	g := New(1, 0, nil)

	op1Started := make(chan struct{})
	op1Release := make(chan struct{})
	var order []string
	var orderMu sync.Mutex

	record := func(name string) {
		orderMu.Lock()
		order = append(order, name)
		orderMu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			close(op1Started)
			<-op1Release
			record("op1")
			return nil
		})
	}()
	<-op1Started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			record("op2")
			return nil
		})
	}()
	waitForQueued(t, g, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			record("op3")
			return nil
		})
	}()
	waitForQueued(t, g, 2)

	close(op1Release)
	wg.Wait()

	assert.Equal(t, []string{"op1", "op2", "op3"}, order,
		"queued operations must start in arrival order")
}

func TestGate_ErrorForwarded(t *testing.T) {
	g := New(1, 0, nil)

	opErr := errors.New("upstream exploded")
	err := g.Do(context.Background(), func(context.Context) error {
		return opErr
	})
	assert.ErrorIs(t, err, opErr)

	// A failed operation must free its slot
	err = g.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestGate_QueueFull(t *testing.T) {
	g := New(1, 1, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error { return nil })
	}()
	waitForQueued(t, g, 1)

	// Queue is at capacity: the third caller fails fast
	err := g.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	wg.Wait()
}

func TestGate_CanceledWhileQueued(t *testing.T) {
	g := New(1, 0, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	var ran atomic.Bool
	go func() {
		errCh <- g.Do(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	waitForQueued(t, g, 1)

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load(), "canceled waiter must not run its operation")

	close(release)
	wg.Wait()

	// The canceled waiter must not wedge the gate
	err = g.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

type countingObserver struct {
	started atomic.Int64
	failed  atomic.Int64
}

func (o *countingObserver) CallStarted() { o.started.Add(1) }
func (o *countingObserver) CallFailed()  { o.failed.Add(1) }

func TestGate_ObserverSignals(t *testing.T) {
	obs := &countingObserver{}
	g := New(2, 0, obs)

	_ = g.Do(context.Background(), func(context.Context) error { return nil })
	_ = g.Do(context.Background(), func(context.Context) error { return errors.New("boom") })
	_ = g.Do(context.Background(), func(context.Context) error { return nil })

	assert.Equal(t, int64(3), obs.started.Load())
	assert.Equal(t, int64(1), obs.failed.Load())
}

func TestGate_Stats(t *testing.T) {
	g := New(1, 0, nil)

	running, queued := g.Stats()
	assert.Equal(t, 0, running)
	assert.Equal(t, 0, queued)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	running, _ = g.Stats()
	assert.Equal(t, 1, running)

	close(release)
	wg.Wait()
}
