package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	b := New(cfg, quietLogger())
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func failN(t *testing.T, b *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errBackend })
		if !errors.Is(err, errBackend) {
			t.Fatalf("failure %d: err = %v, want backend error", i+1, err)
		}
	}
}

func TestBreaker_OpensAtExactThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})

	failN(t, b, 4)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 4 failures = %s, want closed", got)
	}

	failN(t, b, 1)
	if got := b.State(); got != StateOpen {
		t.Errorf("state after 5 failures = %s, want open", got)
	}
}

func TestBreaker_OpenRejectsWithoutInvokingOperation(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})
	failN(t, b, 2)

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("operation was invoked while breaker open")
	}
}

func TestBreaker_LazyHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})
	failN(t, b, 1)

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	*now = now.Add(31 * time.Second)

	// State reports half-open lazily even though no Execute has run.
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("state after reset timeout = %s, want half-open", got)
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})
	failN(t, b, 1)
	*now = now.Add(31 * time.Second)

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("trial call err = %v, want nil", err)
	}

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("consecutive failures = %d, want 0", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})
	failN(t, b, 1)
	*now = now.Add(31 * time.Second)

	failN(t, b, 1)

	if got := b.State(); got != StateOpen {
		t.Errorf("state = %s, want open after failed trial", got)
	}
}

func TestBreaker_HalfOpenTrialBudgetExhausted(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 2})
	failN(t, b, 1)
	*now = now.Add(31 * time.Second)

	// Simulate an episode whose trial budget is already spent: a sync
	// operation always closes or reopens the breaker, so set the attempt
	// counter directly.
	b.mu.Lock()
	b.state = StateHalfOpen
	b.halfOpenAttempts = 2
	b.mu.Unlock()

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrTrialsExhausted) {
		t.Errorf("err = %v, want ErrTrialsExhausted", err)
	}
	if called {
		t.Error("operation invoked after trial budget exhausted")
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %s, want open after exhaustion", got)
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 3})
	failN(t, b, 2)

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}

	// Two more failures must not open the breaker: the streak restarted.
	failN(t, b, 2)
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}
