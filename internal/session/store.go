// ABOUTME: Bounded in-memory session table mapping session ids to assistant threads
// ABOUTME: Evicts least-recently-active sessions and reaps idle ones in the background

package session

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStoreFull is returned when the table is at capacity and holds nothing
// evictable. With a positive capacity this only happens in degenerate
// configurations, but callers should treat it as "server busy".
var ErrStoreFull = errors.New("session: store full")

// Session binds a client-chosen session id to one assistant-side thread
// plus activity metadata. Values returned from the store are copies; the
// store owns the canonical records.
type Session struct {
	ID           string
	ThreadID     string
	LastActivity time.Time
}

// entry pairs a session with its position in the recency list.
type entry struct {
	session Session
	element *list.Element
}

// Store is a thread-safe session table bounded to a maximum entry count.
// Insertion beyond capacity evicts the session with the oldest activity.
// A background goroutine reaps sessions idle longer than the configured
// threshold. The recency list keeps eviction O(1).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	order    *list.List // session ids, least recently active at front
	max      int
	idle     time.Duration
	onCount  func(n int)
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// New creates a session store holding at most max sessions. Sessions idle
// longer than idleThreshold are removed every reapInterval. onCount, if
// non-nil, is invoked with the live session count after every structural
// change.
func New(max int, idleThreshold, reapInterval time.Duration, onCount func(int), logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*entry),
		order:    list.New(),
		max:      max,
		idle:     idleThreshold,
		onCount:  onCount,
		logger:   logger.With("component", "session-store"),
		done:     make(chan struct{}),
	}
	go s.reapLoop(reapInterval)
	return s
}

// Get returns the session for id, if present. It does not refresh activity;
// use Touch for that.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// EnsureCapacity makes room for one new session, evicting the least
// recently active session if the table is full. It returns ErrStoreFull
// when the table is full yet has nothing to evict.
func (s *Store) EnsureCapacity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) < s.max {
		return nil
	}
	if !s.evictOldestLocked() {
		return ErrStoreFull
	}
	s.notifyLocked()
	return nil
}

// Put inserts or replaces the session for id with the given thread handle,
// stamping activity to now. If the table is somehow full it evicts first,
// so the capacity bound holds at every insertion.
func (s *Store) Put(id, threadID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.sessions[id]; ok {
		e.session.ThreadID = threadID
		e.session.LastActivity = now
		s.order.MoveToBack(e.element)
		return e.session
	}

	for len(s.sessions) >= s.max {
		if !s.evictOldestLocked() {
			break
		}
	}

	elem := s.order.PushBack(id)
	e := &entry{
		session: Session{ID: id, ThreadID: threadID, LastActivity: now},
		element: elem,
	}
	s.sessions[id] = e
	s.notifyLocked()
	return e.session
}

// Touch refreshes the session's activity timestamp. Touching a session
// that no longer exists is a no-op.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return
	}
	e.session.LastActivity = time.Now()
	s.order.MoveToBack(e.element)
}

// Remove deletes the session for id, reporting whether one was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	s.order.Remove(e.element)
	delete(s.sessions, id)
	s.notifyLocked()
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// evictOldestLocked removes the least recently active session.
// Must be called with mu held. Returns false when the table is empty.
func (s *Store) evictOldestLocked() bool {
	front := s.order.Front()
	if front == nil {
		return false
	}
	id, _ := front.Value.(string)
	s.order.Remove(front)
	if e, ok := s.sessions[id]; ok {
		s.logger.Info("evicting session", "session_id", id, "thread_id", e.session.ThreadID)
		delete(s.sessions, id)
	}
	return true
}

// notifyLocked reports the live count to the monitoring hook.
// Must be called with mu held.
func (s *Store) notifyLocked() {
	if s.onCount != nil {
		s.onCount(len(s.sessions))
	}
}

// reapLoop runs in a background goroutine, removing idle sessions on a
// fixed interval until Close.
func (s *Store) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reapIdle(time.Now())
		case <-s.done:
			return
		}
	}
}

// reapIdle removes every session whose idle time strictly exceeds the
// threshold at the given instant.
func (s *Store) reapIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped int
	for id, e := range s.sessions {
		if now.Sub(e.session.LastActivity) > s.idle {
			s.logger.Info("reaping idle session", "session_id", id, "thread_id", e.session.ThreadID)
			s.order.Remove(e.element)
			delete(s.sessions, id)
			reaped++
		}
	}
	if reaped > 0 {
		s.notifyLocked()
	}
}

// Close stops the background reaper. It is safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
