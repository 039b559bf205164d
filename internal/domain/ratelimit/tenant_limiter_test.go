package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*TenantLimiter, *time.Time) {
	l := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func backoffOf(l *TenantLimiter, tenantID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.tenants[tenantID]
	if !ok {
		return 0
	}
	return ts.backoff
}

func TestLimiter_RecordRateLimitDoublesUpToCap(t *testing.T) {
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 8 * time.Second, MaxTenants: 10})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		l.RecordRateLimit("acme")
		if got := backoffOf(l, "acme"); got != w {
			t.Errorf("backoff after %d rate limits = %v, want %v", i+1, got, w)
		}
	}
}

func TestLimiter_RecordSuccessHalvesDownToFloor(t *testing.T) {
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 10})

	for i := 0; i < 3; i++ {
		l.RecordRateLimit("acme") // 2s, 4s, 8s
	}

	want := []time.Duration{4 * time.Second, 2 * time.Second, time.Second, time.Second}
	for i, w := range want {
		l.RecordSuccess("acme")
		if got := backoffOf(l, "acme"); got != w {
			t.Errorf("backoff after %d successes = %v, want %v", i+1, got, w)
		}
	}
}

func TestLimiter_ShouldBackoffWithinWindow(t *testing.T) {
	l, now := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 10})

	l.RecordRateLimit("acme") // backoff now 2s

	if !l.ShouldBackoff("acme") {
		t.Error("ShouldBackoff = false immediately after rate limit, want true")
	}

	*now = now.Add(3 * time.Second)
	if l.ShouldBackoff("acme") {
		t.Error("ShouldBackoff = true after window elapsed, want false")
	}
}

func TestLimiter_TenantIsolation(t *testing.T) {
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 10})

	l.RecordRateLimit("acme")

	if l.ShouldBackoff("other") {
		t.Error("rate-limiting acme backed off tenant other")
	}
	if got := backoffOf(l, "other"); got != 0 {
		t.Errorf("tenant other has backoff state %v, want none", got)
	}
}

func TestLimiter_UnknownTenantNeverBacksOff(t *testing.T) {
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 10})

	if l.ShouldBackoff("never-seen") {
		t.Error("ShouldBackoff = true for unknown tenant, want false")
	}
	if l.Size() != 0 {
		t.Errorf("ShouldBackoff created state: size = %d, want 0", l.Size())
	}
}

func TestLimiter_EvictsOldestInsertedAtCapacity(t *testing.T) {
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 3})

	for i := 0; i < 3; i++ {
		l.RecordSuccess(fmt.Sprintf("t%d", i))
	}
	l.RecordRateLimit("t3") // evicts t0

	if l.Size() != 3 {
		t.Fatalf("size = %d, want 3", l.Size())
	}
	l.mu.Lock()
	_, hasT0 := l.tenants["t0"]
	_, hasT3 := l.tenants["t3"]
	l.mu.Unlock()
	if hasT0 {
		t.Error("oldest tenant t0 survived eviction")
	}
	if !hasT3 {
		t.Error("new tenant t3 was not admitted")
	}
}

func TestLimiter_EvictionResetsBackoffState(t *testing.T) {
	// Known approximation: an evicted tenant loses its backoff window.
	l, _ := newTestLimiter(Config{InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxTenants: 2})

	l.RecordRateLimit("victim")
	l.RecordSuccess("filler")
	l.RecordSuccess("new") // evicts victim

	if l.ShouldBackoff("victim") {
		t.Error("evicted tenant still reports backoff")
	}
}
