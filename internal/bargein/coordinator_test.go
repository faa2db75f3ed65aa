package bargein

import (
	"sync"
	"testing"
	"time"
)

// recordingActions records the interruption sequence call order.
type recordingActions struct {
	mu    sync.Mutex
	order []string
	seed  string
}

func (r *recordingActions) actions() Actions {
	return Actions{
		CancelGeneration: func() { r.append("cancel") },
		FlushOutput:      func() { r.append("flush") },
		Interrupt: func(seed string) {
			r.append("interrupt")
			r.mu.Lock()
			r.seed = seed
			r.mu.Unlock()
		},
	}
}

func (r *recordingActions) append(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, step)
}

func (r *recordingActions) snapshot() ([]string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...), r.seed
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCoordinator_RealSpeechInterruptsInOrder(t *testing.T) {
	rec := &recordingActions{}
	c := New(Config{GraceWindow: time.Second, Backchannels: []string{"yeah"}}, rec.actions(), nil)

	c.Arm()
	if got := c.OnPartial("wait, that is wrong"); got != OutcomeInterrupted {
		t.Fatalf("outcome = %v, want interrupted", got)
	}

	order, seed := rec.snapshot()
	want := []string{"cancel", "flush", "interrupt"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("call order = %v, want %v", order, want)
	}
	if seed != "wait, that is wrong" {
		t.Errorf("seed = %q, want the triggering partial", seed)
	}
}

func TestCoordinator_BackchannelSuppresses(t *testing.T) {
	rec := &recordingActions{}
	var results []bool
	c := New(
		Config{GraceWindow: time.Second, Backchannels: []string{"yeah", "uh-huh", "right"}},
		rec.actions(),
		func(suppressed bool, _ time.Duration) { results = append(results, suppressed) },
	)

	c.Arm()
	if got := c.OnPartial("Uh-huh."); got != OutcomeSuppressed {
		t.Fatalf("outcome = %v, want suppressed", got)
	}

	order, _ := rec.snapshot()
	if len(order) != 0 {
		t.Errorf("actions ran for a backchannel: %v", order)
	}
	if len(results) != 1 || !results[0] {
		t.Errorf("onResult = %v, want one suppressed result", results)
	}

	// The filter is fuzzy: a slightly mangled transcription still matches.
	c.Arm()
	if got := c.OnPartial("yeh"); got != OutcomeSuppressed {
		t.Errorf("outcome for fuzzy match = %v, want suppressed", got)
	}
}

func TestCoordinator_GraceExpiryInterruptsWithEmptySeed(t *testing.T) {
	rec := &recordingActions{}
	c := New(Config{GraceWindow: 30 * time.Millisecond}, rec.actions(), nil)

	c.Arm()
	waitFor(t, time.Second, func() bool {
		order, _ := rec.snapshot()
		return len(order) == 3
	})
	_, seed := rec.snapshot()
	if seed != "" {
		t.Errorf("seed = %q, want empty for a grace-window expiry", seed)
	}
}

func TestCoordinator_DisarmStopsPendingInterrupt(t *testing.T) {
	rec := &recordingActions{}
	c := New(Config{GraceWindow: 30 * time.Millisecond}, rec.actions(), nil)

	c.Arm()
	c.Disarm()
	time.Sleep(80 * time.Millisecond)

	if order, _ := rec.snapshot(); len(order) != 0 {
		t.Errorf("actions ran after Disarm: %v", order)
	}
	if got := c.OnPartial("hello"); got != OutcomeIgnored {
		t.Errorf("outcome after Disarm = %v, want ignored", got)
	}
}

func TestCoordinator_MixedSpeechIsNotBackchannel(t *testing.T) {
	rec := &recordingActions{}
	c := New(Config{GraceWindow: time.Second, Backchannels: []string{"yeah"}}, rec.actions(), nil)

	c.Arm()
	if got := c.OnPartial("yeah but wait"); got != OutcomeInterrupted {
		t.Fatalf("outcome = %v, want interrupted — backchannel followed by content must interrupt", got)
	}
}

func TestBackchannelFilter(t *testing.T) {
	f := newBackchannelFilter([]string{"yeah", "okay", "right", "mhm"})
	tests := []struct {
		text string
		want bool
	}{
		{"yeah", true},
		{"Yeah!", true},
		{"okay okay", true},
		{"rite", true}, // phonetic match
		{"", false},
		{"no stop", false},
		{"okay so about that", false},
	}
	for _, tt := range tests {
		if got := f.IsBackchannel(tt.text); got != tt.want {
			t.Errorf("IsBackchannel(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCoordinator_RecoveryExcludesGraceWindow(t *testing.T) {
	rec := &recordingActions{}
	var (
		mu         sync.Mutex
		recoveries []time.Duration
	)
	c := New(
		Config{GraceWindow: 60 * time.Millisecond},
		rec.actions(),
		func(_ bool, recovery time.Duration) {
			mu.Lock()
			recoveries = append(recoveries, recovery)
			mu.Unlock()
		},
	)

	c.Arm()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recoveries) == 1
	})

	// The grace window spent waiting for a partial is deliberation, not
	// teardown: recovery covers only the cancel/flush/interrupt sequence.
	mu.Lock()
	got := recoveries[0]
	mu.Unlock()
	if got >= 60*time.Millisecond {
		t.Errorf("recovery = %v, want well under the 60ms grace window", got)
	}
}
