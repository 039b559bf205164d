// Package cache provides the bounded, TTL-based fingerprint cache for scan results.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
)

// defaultTenant keys cache entries for callers that did not supply a tenant.
const defaultTenant = "_default_"

// GenerateKey builds the deterministic fingerprint for a scan request.
// The digest covers (tenant, mode, session, text) with NUL separators so
// identical text from different tenants or sessions never collides and
// tenant isolation cannot be bypassed by crafting text.
func GenerateKey(tenantID string, mode scan.Mode, sessionID, text string) string {
	if tenantID == "" {
		tenantID = defaultTenant
	}

	h := sha256.New()
	_, _ = h.Write([]byte(tenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(mode))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// lruEntry is a doubly-linked list node holding one cached result.
type lruEntry struct {
	key       string
	value     scan.Result
	expiresAt time.Time
	prev      *lruEntry
	next      *lruEntry
}

// FingerprintCache is a bounded, TTL-based, approximately-LRU cache from
// request fingerprints to scan results. Thread-safe with a Mutex (both Get
// and Set mutate recency order). Expired entries are removed lazily on Get
// or in bulk via Prune.
type FingerprintCache struct {
	mu      sync.Mutex
	entries map[string]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used / oldest inserted
	maxSize int
	ttl     time.Duration

	now func() time.Time
}

// New creates a FingerprintCache with the given capacity and entry TTL.
func New(maxSize int, ttl time.Duration) *FingerprintCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &FingerprintCache{
		entries: make(map[string]*lruEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached result for key, if present and unexpired.
// An expired entry is deleted and reported as a miss. A hit refreshes
// recency so the entry survives capacity eviction longer.
func (c *FingerprintCache) Get(key string) (scan.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return scan.Result{}, false
	}
	if c.now().After(e.expiresAt) {
		c.unlinkLocked(e)
		delete(c.entries, key)
		return scan.Result{}, false
	}

	c.moveToHeadLocked(e)
	return e.value, true
}

// Set stores a result under key with expiry now+ttl. At capacity the single
// oldest entry (the recency-list tail) is evicted first.
func (c *FingerprintCache) Set(key string, value scan.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Prune removes all expired entries and returns how many were removed.
// Intended for periodic maintenance, not the hot path.
func (c *FingerprintCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.unlinkLocked(e)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries, expired or not.
func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear empties the cache.
func (c *FingerprintCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *FingerprintCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *FingerprintCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *FingerprintCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *FingerprintCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
