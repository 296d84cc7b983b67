// ABOUTME: Per-session mutual exclusion for the orchestrator
// ABOUTME: Serializes concurrent messages for one session id without blocking other sessions

package conversation

import "sync"

// sessionLocks hands out one mutex per live session id. Entries are
// reference counted and removed when the last holder releases, so the map
// does not grow with every session ever seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the lock for id is held and returns the release
// function. Operations on different ids never contend.
func (l *sessionLocks) acquire(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
