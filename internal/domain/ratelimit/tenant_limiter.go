// Package ratelimit provides the per-tenant backoff gate that throttles
// scanner calls after the backend signals rate limiting.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds tenant limiter tuning.
type Config struct {
	// InitialBackoff is the floor (and starting value) of a tenant's backoff window.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff window.
	MaxBackoff time.Duration
	// MaxTenants bounds the tenant-state map. When full, the oldest-inserted
	// tenant entry is evicted to admit a new one.
	MaxTenants int
}

// DefaultConfig returns the standard limiter tuning.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		MaxTenants:     10000,
	}
}

// tenantState tracks one tenant's backoff window.
type tenantState struct {
	backoff           time.Duration
	lastRateLimitedAt time.Time
}

// TenantLimiter is a per-tenant exponential backoff gate. Doubling on each
// rate-limit signal and halving on each success gives TCP-like behavior:
// sustained throttling backs a tenant off quickly, recovery is gradual.
// Tenants are fully isolated; one throttled tenant never affects another.
// Thread-safe.
//
// Capacity eviction uses insertion order, not access recency. Under
// sustained tenant churn an evicted tenant's backoff state silently resets;
// the eviction is logged at Warn when the victim was still inside its
// backoff window.
type TenantLimiter struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tenants map[string]*tenantState
	order   []string // insertion order, for oldest-first eviction

	now func() time.Time
}

// New creates a TenantLimiter with the given config.
func New(cfg Config, logger *slog.Logger) *TenantLimiter {
	d := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.MaxTenants <= 0 {
		cfg.MaxTenants = d.MaxTenants
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantLimiter{
		cfg:     cfg,
		logger:  logger,
		tenants: make(map[string]*tenantState),
		now:     time.Now,
	}
}

// ShouldBackoff reports whether the tenant is still inside its backoff
// window. Unknown tenants are never backed off.
func (l *TenantLimiter) ShouldBackoff(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, ok := l.tenants[tenantID]
	if !ok || ts.lastRateLimitedAt.IsZero() {
		return false
	}
	return l.now().Sub(ts.lastRateLimitedAt) < ts.backoff
}

// RecordRateLimit marks the tenant as throttled now and doubles its backoff
// window, capped at MaxBackoff.
func (l *TenantLimiter) RecordRateLimit(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.getOrCreateLocked(tenantID)
	ts.lastRateLimitedAt = l.now()
	ts.backoff *= 2
	if ts.backoff > l.cfg.MaxBackoff {
		ts.backoff = l.cfg.MaxBackoff
	}
}

// RecordSuccess halves the tenant's backoff window, floored at InitialBackoff.
func (l *TenantLimiter) RecordSuccess(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.getOrCreateLocked(tenantID)
	ts.backoff /= 2
	if ts.backoff < l.cfg.InitialBackoff {
		ts.backoff = l.cfg.InitialBackoff
	}
}

// Size returns the number of tracked tenants. Useful for tests and monitoring.
func (l *TenantLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tenants)
}

// getOrCreateLocked returns the tenant's state, creating it lazily on first
// contact and evicting the oldest-inserted tenant when the map is full.
// Must be called with lock held.
func (l *TenantLimiter) getOrCreateLocked(tenantID string) *tenantState {
	if ts, ok := l.tenants[tenantID]; ok {
		return ts
	}

	if len(l.tenants) >= l.cfg.MaxTenants && len(l.order) > 0 {
		victim := l.order[0]
		l.order = l.order[1:]
		if vs, ok := l.tenants[victim]; ok {
			if l.now().Sub(vs.lastRateLimitedAt) < vs.backoff {
				l.logger.Warn("evicting tenant with active backoff",
					"tenant_id", victim,
					"backoff", vs.backoff)
			}
			delete(l.tenants, victim)
		}
	}

	ts := &tenantState{backoff: l.cfg.InitialBackoff}
	l.tenants[tenantID] = ts
	l.order = append(l.order, tenantID)
	return ts
}
