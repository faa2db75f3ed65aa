// Package resilience provides the circuit breaker protecting tool executors
// and the per-tool-name registry the dispatcher consults.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open). Unlike a generic breaker it is built for the
// dispatcher's admission pattern: the dispatcher asks for admission before
// the external call and reports the outcome afterwards, so in-flight
// accounting survives retries and cancellation. The half-open state admits
// exactly one trial call at a time.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Allow] when the breaker is in
// the open state and the cooldown has not yet elapsed, or when a half-open
// trial is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are admitted.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected
	// immediately with [ErrCircuitOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. Exactly
	// one trial call is admitted; its outcome decides the next state.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [CircuitBreaker].
type Config struct {
	// Name is a human-readable label used in log messages, normally the tool
	// name the breaker guards.
	Name string

	// FailureThreshold is the number of failures within FailureWindow that
	// trips the breaker from closed to open. Default: 5.
	FailureThreshold int

	// FailureWindow is the rolling window over which failures are counted.
	// Default: 60s.
	FailureWindow time.Duration

	// Cooldown is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	Cooldown time.Duration
}

// CircuitBreaker implements the three-state circuit breaker pattern with a
// rolling failure window and a single-trial half-open state.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	failureWindow    time.Duration
	cooldown         time.Duration

	// now is swappable for tests.
	now func() time.Time

	mu           sync.Mutex
	state        State
	failures     []time.Time // recent failure timestamps within the window
	openedAt     time.Time
	trialPending bool // a half-open trial call is in flight
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		failureWindow:    cfg.FailureWindow,
		cooldown:         cfg.Cooldown,
		now:              time.Now,
		state:            StateClosed,
	}
}

// Allow asks for admission of one call. It returns nil if the call may
// proceed and [ErrCircuitOpen] otherwise. Every admitted call must be
// followed by exactly one RecordSuccess, RecordFailure, or Release.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trialPending = true
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
		return nil

	case StateHalfOpen:
		if cb.trialPending {
			return ErrCircuitOpen
		}
		cb.trialPending = true
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess reports that an admitted call succeeded. In half-open it
// closes the breaker and clears the failure history; in closed it prunes the
// failure window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.failures = cb.failures[:0]
		cb.trialPending = false
		slog.Info("circuit breaker closed after successful trial", "name", cb.name)
		return
	}
	cb.pruneLocked()
}

// RecordFailure reports that an admitted call failed terminally. A half-open
// trial failure re-opens immediately with a fresh cooldown; in closed state
// the failure is added to the rolling window and the breaker opens once the
// threshold is crossed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = now
		cb.trialPending = false
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
		return
	}

	cb.failures = append(cb.failures, now)
	cb.pruneLocked()
	if cb.state == StateClosed && len(cb.failures) >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = now
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"failures_in_window", len(cb.failures))
	}
}

// Release returns an admission without recording an outcome. Used when an
// admitted call is cancelled before producing a verdict — cancellation says
// nothing about tool health.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trialPending = false
	}
}

// Execute runs fn under the breaker: Allow, then RecordSuccess or
// RecordFailure depending on fn's error. A convenience for callers that do
// not need the split admission API.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cooldown has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Allow] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = cb.failures[:0]
	cb.trialPending = false
	slog.Info("circuit breaker manually reset", "name", cb.name)
}

// pruneLocked drops failure timestamps older than the window.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) pruneLocked() {
	cutoff := cb.now().Add(-cb.failureWindow)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append(cb.failures[:0], cb.failures[i:]...)
	}
}
