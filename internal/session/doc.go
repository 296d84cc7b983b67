// Package session maps browser session ids to upstream thread handles.
//
// # Overview
//
// The Store is a bounded in-memory table. When full, creating a new
// session evicts the entry with the oldest activity timestamp. A
// background reaper removes sessions idle past the configured threshold,
// so abandoned browsers do not pin table capacity.
//
// # Usage
//
//	store := session.New(100, time.Hour, 15*time.Minute, onCount, logger)
//	defer store.Close()
//
//	store.Put("sess-1", "thread_abc")
//	sess, ok := store.Get("sess-1")
//	store.Touch("sess-1")
//
// Touch advances the activity timestamp on every handled message, which
// is what keeps active sessions out of the eviction order. All methods
// are safe for concurrent use.
package session
