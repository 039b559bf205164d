// Package breaker provides the failure-tracking circuit breaker guarding
// calls to the remote scanner backend.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = "closed"
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen permits a bounded number of trial calls.
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned when the breaker rejects a call because it is open.
var ErrOpen = errors.New("circuit breaker is open")

// ErrTrialsExhausted is returned when a half-open breaker has already used
// all its trial attempts for the current episode.
var ErrTrialsExhausted = errors.New("circuit breaker trial attempts exhausted")

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing trials.
	ResetTimeout time.Duration
	// HalfOpenMaxAttempts bounds trial calls within one half-open episode.
	HalfOpenMaxAttempts int
}

// DefaultConfig returns the standard breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// CircuitBreaker tracks consecutive backend failures and short-circuits
// calls during an outage. One instance guards one backend for the lifetime
// of the process. Thread-safe.
//
// The open->half-open transition is lazy: State reports half-open as soon
// as the reset timeout has elapsed, but the stored state only changes on
// the next Execute call.
type CircuitBreaker struct {
	cfg    Config
	logger *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	halfOpenAttempts    int

	now func() time.Time
}

// New creates a closed CircuitBreaker with the given config.
func New(cfg Config, logger *slog.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = DefaultConfig().HalfOpenMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
}

// State returns the effective state without side effects. It may report
// half-open while the stored state still says open, once the reset timeout
// has elapsed. Callers use this to short-circuit (e.g. prefer cache) before
// attempting a call.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveStateLocked()
}

// effectiveStateLocked computes the lazily-recomputed state over the stored
// fields. Must be called with lock held.
func (b *CircuitBreaker) effectiveStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs op unless the breaker is open. In half-open it counts the
// attempt first and refuses with ErrTrialsExhausted once the trial budget
// for the episode is spent, flipping back to open. Any error from op counts
// as a failure and may open the breaker.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()

	switch b.effectiveStateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.state == StateOpen {
			// Materialize the lazy open->half-open transition.
			b.state = StateHalfOpen
			b.halfOpenAttempts = 0
			b.logger.Debug("circuit breaker entering half-open", "reset_timeout", b.cfg.ResetTimeout)
		}
		b.halfOpenAttempts++
		if b.halfOpenAttempts > b.cfg.HalfOpenMaxAttempts {
			b.state = StateOpen
			b.lastFailureAt = b.now()
			b.mu.Unlock()
			return ErrTrialsExhausted
		}
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailureLocked()
		return err
	}

	if b.state != StateClosed {
		b.logger.Info("circuit breaker closed after successful trial")
	}
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	return nil
}

// recordFailureLocked updates failure tracking after op returned an error.
// Must be called with lock held.
func (b *CircuitBreaker) recordFailureLocked() {
	b.consecutiveFailures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit breaker reopened after failed trial",
			"consecutive_failures", b.consecutiveFailures)
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn("circuit breaker opened",
				"consecutive_failures", b.consecutiveFailures,
				"threshold", b.cfg.FailureThreshold)
		}
	}
}

// ConsecutiveFailures returns the current failure streak. For monitoring.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset returns the breaker to the closed state with all counters cleared.
// Intended for tests.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.lastFailureAt = time.Time{}
}
