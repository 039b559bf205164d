// Package service contains application services: the scan orchestrator and
// the metrics collector.
package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// defaultLatencyBufferSize bounds the rolling latency sample buffer.
const defaultLatencyBufferSize = 1000

// defaultMaxSessions bounds the per-session activity map.
const defaultMaxSessions = 10000

// sessionEvictFraction is the share of oldest sessions evicted in bulk
// when the activity map is full.
const sessionEvictFraction = 0.1

// sessionActivity tracks one session's scan history.
type sessionActivity struct {
	turns     int64
	blocked   int64
	firstSeen time.Time
}

// SessionActivity is the exported snapshot of one session's activity.
type SessionActivity struct {
	SessionID string    `json:"session_id"`
	Turns     int64     `json:"turns"`
	Blocked   int64     `json:"blocked"`
	FirstSeen time.Time `json:"first_seen"`
}

// MetricsService tracks scan statistics: lock-free counters for the hot
// totals, mutex-protected maps for by-mode/by-dialect/error breakdowns, a
// bounded ring buffer of recent latencies with cached sorted percentiles,
// and a bounded per-session activity map. All operations are safe for
// concurrent use. All state is in-memory and resettable for tests.
type MetricsService struct {
	total   atomic.Int64
	allowed atomic.Int64
	blocked atomic.Int64
	warned  atomic.Int64
	errors  atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	mu         sync.Mutex
	byMode     map[string]int64
	byDialect  map[string]int64
	errorKinds map[string]int64

	// Latency ring buffer in milliseconds. sorted is a cached sorted copy,
	// invalidated on every write.
	latencies   []float64
	latencyNext int
	latencyLen  int
	sorted      []float64
	sortedValid bool

	sessions     map[string]*sessionActivity
	sessionOrder []string // insertion order, for bulk oldest-first eviction
	maxSessions  int

	now func() time.Time
}

// NewMetricsService creates a MetricsService. Non-positive sizes use defaults.
func NewMetricsService(latencyBufferSize, maxSessions int) *MetricsService {
	if latencyBufferSize <= 0 {
		latencyBufferSize = defaultLatencyBufferSize
	}
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &MetricsService{
		byMode:      make(map[string]int64),
		byDialect:   make(map[string]int64),
		errorKinds:  make(map[string]int64),
		latencies:   make([]float64, latencyBufferSize),
		sessions:    make(map[string]*sessionActivity),
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// RecordScan records one completed evaluation. decision is the canonical
// verdict, errKind the failure category ("" for clean scans), latency the
// backend call duration (zero for cache hits and fallbacks).
func (m *MetricsService) RecordScan(decision, mode, dialect string, latency time.Duration, errKind string) {
	m.total.Add(1)
	switch decision {
	case "BLOCK":
		m.blocked.Add(1)
	case "WARN":
		m.warned.Add(1)
	default:
		m.allowed.Add(1)
	}
	if errKind != "" {
		m.errors.Add(1)
	}

	m.mu.Lock()
	if mode != "" {
		m.byMode[mode]++
	}
	if dialect != "" {
		m.byDialect[dialect]++
	}
	if errKind != "" {
		m.errorKinds[errKind]++
	}
	if latency > 0 {
		m.latencies[m.latencyNext] = float64(latency.Microseconds()) / 1000.0
		m.latencyNext = (m.latencyNext + 1) % len(m.latencies)
		if m.latencyLen < len(m.latencies) {
			m.latencyLen++
		}
		m.sortedValid = false
	}
	m.mu.Unlock()
}

// RecordCacheHit counts one fingerprint cache hit.
func (m *MetricsService) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss counts one fingerprint cache miss.
func (m *MetricsService) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordSession updates per-session activity. When the session map is full,
// the oldest ~10% of sessions are evicted in bulk to amortize the cost.
func (m *MetricsService) RecordSession(sessionID string, blocked bool) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.sessions[sessionID]
	if !ok {
		if len(m.sessions) >= m.maxSessions {
			m.evictOldestSessionsLocked()
		}
		sa = &sessionActivity{firstSeen: m.now()}
		m.sessions[sessionID] = sa
		m.sessionOrder = append(m.sessionOrder, sessionID)
	}
	sa.turns++
	if blocked {
		sa.blocked++
	}
}

// evictOldestSessionsLocked removes the oldest-inserted ~10% of sessions.
// Must be called with lock held.
func (m *MetricsService) evictOldestSessionsLocked() {
	n := int(float64(m.maxSessions) * sessionEvictFraction)
	if n < 1 {
		n = 1
	}
	if n > len(m.sessionOrder) {
		n = len(m.sessionOrder)
	}
	for _, sid := range m.sessionOrder[:n] {
		delete(m.sessions, sid)
	}
	m.sessionOrder = m.sessionOrder[n:]
}

// LatencyPercentile returns the p-th percentile (0-100) of the buffered
// latencies in milliseconds, using the nearest-rank method over a cached
// sorted copy. Returns 0 when no samples are buffered.
func (m *MetricsService) LatencyPercentile(p float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latencyPercentileLocked(p)
}

// latencyPercentileLocked computes a percentile, rebuilding the sorted
// cache if a write invalidated it. Must be called with lock held.
func (m *MetricsService) latencyPercentileLocked(p float64) float64 {
	if m.latencyLen == 0 {
		return 0
	}
	if !m.sortedValid {
		m.sorted = make([]float64, m.latencyLen)
		if m.latencyLen < len(m.latencies) {
			copy(m.sorted, m.latencies[:m.latencyLen])
		} else {
			copy(m.sorted, m.latencies)
		}
		sort.Float64s(m.sorted)
		m.sortedValid = true
	}

	if p <= 0 {
		return m.sorted[0]
	}
	if p >= 100 {
		return m.sorted[len(m.sorted)-1]
	}
	rank := int(float64(len(m.sorted)) * p / 100.0)
	if rank >= len(m.sorted) {
		rank = len(m.sorted) - 1
	}
	return m.sorted[rank]
}

// Stats is a point-in-time snapshot of all collected metrics.
type Stats struct {
	Total       int64            `json:"total"`
	Allowed     int64            `json:"allowed"`
	Blocked     int64            `json:"blocked"`
	Warned      int64            `json:"warned"`
	Errors      int64            `json:"errors"`
	CacheHits   int64            `json:"cache_hits"`
	CacheMisses int64            `json:"cache_misses"`
	ByMode      map[string]int64 `json:"by_mode"`
	ByDialect   map[string]int64 `json:"by_dialect"`
	ErrorKinds  map[string]int64 `json:"error_kinds"`
	LatencyP50  float64          `json:"latency_p50_ms"`
	LatencyP95  float64          `json:"latency_p95_ms"`
	LatencyP99  float64          `json:"latency_p99_ms"`
	Sessions    int              `json:"sessions"`
}

// Snapshot returns a snapshot of all counters. Consistent per counter but
// not atomically across counters.
func (m *MetricsService) Snapshot() Stats {
	m.mu.Lock()
	byMode := make(map[string]int64, len(m.byMode))
	for k, v := range m.byMode {
		byMode[k] = v
	}
	byDialect := make(map[string]int64, len(m.byDialect))
	for k, v := range m.byDialect {
		byDialect[k] = v
	}
	errorKinds := make(map[string]int64, len(m.errorKinds))
	for k, v := range m.errorKinds {
		errorKinds[k] = v
	}
	p50 := m.latencyPercentileLocked(50)
	p95 := m.latencyPercentileLocked(95)
	p99 := m.latencyPercentileLocked(99)
	sessions := len(m.sessions)
	m.mu.Unlock()

	return Stats{
		Total:       m.total.Load(),
		Allowed:     m.allowed.Load(),
		Blocked:     m.blocked.Load(),
		Warned:      m.warned.Load(),
		Errors:      m.errors.Load(),
		CacheHits:   m.cacheHits.Load(),
		CacheMisses: m.cacheMisses.Load(),
		ByMode:      byMode,
		ByDialect:   byDialect,
		ErrorKinds:  errorKinds,
		LatencyP50:  p50,
		LatencyP95:  p95,
		LatencyP99:  p99,
		Sessions:    sessions,
	}
}

// SessionSnapshot returns the tracked activity for one session.
func (m *MetricsService) SessionSnapshot(sessionID string) (SessionActivity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.sessions[sessionID]
	if !ok {
		return SessionActivity{}, false
	}
	return SessionActivity{
		SessionID: sessionID,
		Turns:     sa.turns,
		Blocked:   sa.blocked,
		FirstSeen: sa.firstSeen,
	}, true
}

// Reset sets all counters and buffers to zero.
func (m *MetricsService) Reset() {
	m.total.Store(0)
	m.allowed.Store(0)
	m.blocked.Store(0)
	m.warned.Store(0)
	m.errors.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)

	m.mu.Lock()
	m.byMode = make(map[string]int64)
	m.byDialect = make(map[string]int64)
	m.errorKinds = make(map[string]int64)
	m.latencyNext = 0
	m.latencyLen = 0
	m.sortedValid = false
	m.sessions = make(map[string]*sessionActivity)
	m.sessionOrder = nil
	m.mu.Unlock()
}
