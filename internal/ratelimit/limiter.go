// ABOUTME: Sliding-window per-IP request limiter for the HTTP front end
// ABOUTME: Tracks recent request timestamps per address and prunes them in the background

package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most burst requests per client address within the
// sliding window. Stale addresses are pruned by a background goroutine.
type Limiter struct {
	mu     sync.Mutex
	burst  int
	window time.Duration
	byAddr map[string][]time.Time
	done   chan struct{}
	closed bool
}

// New creates a limiter allowing burst requests per window for each address.
func New(burst int, window time.Duration) *Limiter {
	l := &Limiter{
		burst:  burst,
		window: window,
		byAddr: make(map[string][]time.Time),
		done:   make(chan struct{}),
	}
	go l.pruneLoop()
	return l
}

// Allow reports whether a request from addr is within the limit, and
// records it if so.
func (l *Limiter) Allow(addr string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := trimExpired(l.byAddr[addr], now, l.window)
	if len(recent) >= l.burst {
		l.byAddr[addr] = recent
		return false
	}
	l.byAddr[addr] = append(recent, now)
	return true
}

// trimExpired drops timestamps older than the window.
func trimExpired(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}

// pruneLoop periodically drops addresses with no recent requests so the
// map does not grow with every client ever seen.
func (l *Limiter) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune(time.Now())
		case <-l.done:
			return
		}
	}
}

// prune removes fully expired address entries.
func (l *Limiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, stamps := range l.byAddr {
		recent := trimExpired(stamps, now, l.window)
		if len(recent) == 0 {
			delete(l.byAddr, addr)
		} else {
			l.byAddr[addr] = recent
		}
	}
}

// Close stops the background pruner. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
