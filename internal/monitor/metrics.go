// ABOUTME: In-process counters for requests, upstream calls, and live sessions
// ABOUTME: Snapshots feed the /api/status endpoint; hooks plug into the gate and session store

package monitor

import (
	"sync"
	"time"
)

// responseTimeWindow bounds the rolling latency sample.
const responseTimeWindow = 100

// Metrics tracks relay activity. All methods are safe for concurrent use.
// It implements the gate's Observer and the session store's count hook.
type Metrics struct {
	mu sync.Mutex

	startedAt time.Time

	requestsTotal   int64
	requestsSuccess int64
	requestsError   int64

	apiCalls  int64
	apiErrors int64

	activeSessions int

	concurrentRequests    int
	maxConcurrentRequests int

	responseTimes []time.Duration
}

// New creates an empty metrics set with the uptime clock started.
func New() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// RequestStarted records an inbound HTTP request and returns its start time.
func (m *Metrics) RequestStarted() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestsTotal++
	m.concurrentRequests++
	if m.concurrentRequests > m.maxConcurrentRequests {
		m.maxConcurrentRequests = m.concurrentRequests
	}
	return time.Now()
}

// RequestFinished records a completed request and its latency.
func (m *Metrics) RequestFinished(start time.Time, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.requestsError++
	} else {
		m.requestsSuccess++
	}
	if m.concurrentRequests > 0 {
		m.concurrentRequests--
	}

	m.responseTimes = append(m.responseTimes, time.Since(start))
	if len(m.responseTimes) > responseTimeWindow {
		m.responseTimes = m.responseTimes[1:]
	}
}

// CallStarted counts an upstream assistant API call.
func (m *Metrics) CallStarted() {
	m.mu.Lock()
	m.apiCalls++
	m.mu.Unlock()
}

// CallFailed counts a failed upstream assistant API call.
func (m *Metrics) CallFailed() {
	m.mu.Lock()
	m.apiErrors++
	m.mu.Unlock()
}

// SetActiveSessions records the live session count reported by the store.
func (m *Metrics) SetActiveSessions(n int) {
	m.mu.Lock()
	m.activeSessions = n
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of the metrics for the status endpoint.
type Snapshot struct {
	UptimeSeconds         float64 `json:"uptime_seconds"`
	RequestsTotal         int64   `json:"requests_total"`
	RequestsSuccess       int64   `json:"requests_success"`
	RequestsError         int64   `json:"requests_error"`
	APICalls              int64   `json:"api_calls"`
	APIErrors             int64   `json:"api_errors"`
	ActiveSessions        int     `json:"active_sessions"`
	ConcurrentRequests    int     `json:"concurrent_requests"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	AvgResponseMillis     float64 `json:"avg_response_ms"`
}

// Snapshot returns the current metric values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg float64
	if len(m.responseTimes) > 0 {
		var total time.Duration
		for _, d := range m.responseTimes {
			total += d
		}
		avg = float64(total.Milliseconds()) / float64(len(m.responseTimes))
	}

	return Snapshot{
		UptimeSeconds:         time.Since(m.startedAt).Seconds(),
		RequestsTotal:         m.requestsTotal,
		RequestsSuccess:       m.requestsSuccess,
		RequestsError:         m.requestsError,
		APICalls:              m.apiCalls,
		APIErrors:             m.apiErrors,
		ActiveSessions:        m.activeSessions,
		ConcurrentRequests:    m.concurrentRequests,
		MaxConcurrentRequests: m.maxConcurrentRequests,
		AvgResponseMillis:     avg,
	}
}
