package resilience

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_GetCreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2})

	cb := r.Get("weather")
	if cb == nil {
		t.Fatal("Get returned nil")
	}
	if cb.State() != StateClosed {
		t.Fatalf("new breaker state = %v, want closed", cb.State())
	}
	if got := r.Get("weather"); got != cb {
		t.Fatal("Get returned a different breaker for the same tool")
	}
}

func TestRegistry_ToolsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Hour})

	r.Get("weather").RecordFailure()

	if got := r.Get("weather").State(); got != StateOpen {
		t.Fatalf("weather state = %v, want open", got)
	}
	if got := r.Get("search").State(); got != StateClosed {
		t.Fatalf("search state = %v, want closed — tools must be isolated", got)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry(Config{})

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 32)
	for i := range breakers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = r.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(breakers); i++ {
		if breakers[i] != breakers[0] {
			t.Fatal("concurrent Get returned distinct breakers for one tool")
		}
	}
}

func TestRegistry_States(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Hour})
	r.Get("a")
	r.Get("b").RecordFailure()

	states := r.States()
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states["a"] != StateClosed {
		t.Errorf("states[a] = %v, want closed", states["a"])
	}
	if states["b"] != StateOpen {
		t.Errorf("states[b] = %v, want open", states["b"])
	}
}
