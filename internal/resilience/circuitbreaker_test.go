package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock lets tests advance breaker time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                 { return &fakeClock{t: time.Unix(1000, 0)} }
func withClock(cb *CircuitBreaker, c *fakeClock) { cb.now = c.now }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test"})
	if cb.failureThreshold != 5 {
		t.Errorf("failureThreshold = %d, want 5", cb.failureThreshold)
	}
	if cb.failureWindow != 60*time.Second {
		t.Errorf("failureWindow = %v, want 60s", cb.failureWindow)
	}
	if cb.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cb.cooldown)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 3})
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errTest })
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	// Next admission should be rejected without invoking anything.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn was called while open")
	}
}

func TestCircuitBreaker_RollingWindowPrunesOldFailures(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(Config{
		Name:             "test",
		FailureThreshold: 3,
		FailureWindow:    10 * time.Second,
	})
	withClock(cb, clock)

	cb.RecordFailure()
	cb.RecordFailure()

	// Old failures age out of the window; a third failure later must not trip.
	clock.advance(11 * time.Second)
	cb.RecordFailure()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (old failures pruned)", got)
	}
}

func TestCircuitBreaker_CooldownAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(Config{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
	})
	withClock(cb, clock)

	cb.RecordFailure() // trips immediately
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// Before cooldown: rejected.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow before cooldown = %v, want ErrCircuitOpen", err)
	}

	// After cooldown: exactly one trial admitted.
	clock.advance(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after cooldown = %v, want nil", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent trial = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 1, Cooldown: time.Second})
	withClock(cb, clock)

	cb.RecordFailure()
	clock.advance(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	cb.RecordSuccess()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after trial success", got)
	}
	// Breaker is fully reset; a single new failure must not trip a
	// threshold-2 breaker.
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after close = %v, want nil", err)
	}
	cb.RecordSuccess()
}

func TestCircuitBreaker_HalfOpenFailureReopensWithFreshCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 1, Cooldown: 10 * time.Second})
	withClock(cb, clock)

	cb.RecordFailure()
	clock.advance(11 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after trial failure", cb.State())
	}

	// The cooldown restarted at the trial failure, so 5s later it is still open.
	clock.advance(5 * time.Second)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow during restarted cooldown = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ReleaseReturnsTrialSlot(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 1, Cooldown: time.Second})
	withClock(cb, clock)

	cb.RecordFailure()
	clock.advance(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	// Cancelled mid-flight: no verdict.
	cb.Release()

	// The trial slot is free again.
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after Release = %v, want nil", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 1})
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state after Reset = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
