// Package scangroup correlates an input scan's scan-group token with the
// later output scan of the same conversation turn.
package scangroup

import (
	"sync"
	"time"
)

// DefaultTTL is how long a scan-group mapping stays valid.
const DefaultTTL = 5 * time.Minute

type entry struct {
	groupID string
	at      time.Time
}

// Tracker is a short-TTL map from session ID to the scan-group token the
// backend assigned to that session's most recent input scan. Thread-safe.
//
// Concurrent turns on the same session interleave unpredictably: Track
// overwrites unconditionally, so the last writer wins.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration

	now func() time.Time
}

// New creates a Tracker with the given TTL. Zero or negative means DefaultTTL.
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Track stores or overwrites the session's scan-group mapping and
// opportunistically sweeps expired entries.
func (t *Tracker) Track(sessionID, scanGroupID string) {
	if sessionID == "" || scanGroupID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.entries[sessionID] = entry{groupID: scanGroupID, at: now}

	cutoff := now.Add(-t.ttl)
	for sid, e := range t.entries {
		if e.at.Before(cutoff) {
			delete(t.entries, sid)
		}
	}
}

// Lookup returns the session's scan-group token, if one is tracked and
// unexpired. Expired entries are deleted as a side effect.
func (t *Tracker) Lookup(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[sessionID]
	if !ok {
		return "", false
	}
	if t.now().Sub(e.at) >= t.ttl {
		delete(t.entries, sessionID)
		return "", false
	}
	return e.groupID, true
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
