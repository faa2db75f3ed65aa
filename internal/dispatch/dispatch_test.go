package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/pkg/types"
)

// scriptedExecutor returns pre-scripted responses per attempt.
type scriptedExecutor struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	calls   int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ types.ToolCall) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	var out string
	var err error
	if i < len(e.outputs) {
		out = e.outputs[i]
	}
	if i < len(e.errs) {
		err = e.errs[i]
	}
	return out, err
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// mapCatalog is a test Catalog backed by a map.
type mapCatalog map[string]struct {
	def  types.ToolDefinition
	exec Executor
}

func (c mapCatalog) Lookup(name string) (types.ToolDefinition, Executor, bool) {
	entry, ok := c[name]
	return entry.def, entry.exec, ok
}

// sliceSink collects audit events.
type sliceSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *sliceSink) Record(ev AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sliceSink) all() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func weatherDef(retryable bool) types.ToolDefinition {
	return types.ToolDefinition{
		Name:      "weather",
		Retryable: retryable,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city":  map[string]any{"type": "string"},
				"units": map[string]any{"type": "string", "enum": []any{"metric", "imperial"}},
			},
			"required": []any{"city"},
		},
	}
}

func newTestDispatcher(t *testing.T, catalog Catalog, cfg Config, sink AuditSink) (*Dispatcher, *resilience.Registry) {
	t.Helper()
	reg := resilience.NewRegistry(resilience.Config{FailureThreshold: 2, FailureWindow: time.Minute, Cooldown: time.Minute})
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	return New(catalog, reg, cfg, sink), reg
}

func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	exec := &scriptedExecutor{
		outputs: []string{"", "12°C and clear"},
		errs:    []error{Errorf(OutcomeTransient, "upstream 503"), nil},
	}
	catalog := mapCatalog{"weather": {def: weatherDef(true), exec: exec}}
	d, _ := newTestDispatcher(t, catalog, Config{MaxAttempts: 3}, nil)

	res := d.Dispatch(context.Background(), types.ToolCall{ID: "c1", Name: "weather", Arguments: `{"city":"Oslo"}`})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success (err: %v)", res.Outcome, res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	if res.Content != "12°C and clear" {
		t.Errorf("content = %q, want tool output", res.Content)
	}
}

func TestDispatch_NonRetryableToolGetsOneAttempt(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{Errorf(OutcomeTransient, "flaky")}}
	catalog := mapCatalog{"weather": {def: weatherDef(false), exec: exec}}
	d, _ := newTestDispatcher(t, catalog, Config{MaxAttempts: 3}, nil)

	res := d.Dispatch(context.Background(), types.ToolCall{Name: "weather", Arguments: `{"city":"Oslo"}`})

	if res.Outcome != OutcomeTransient {
		t.Fatalf("outcome = %s, want transient", res.Outcome)
	}
	if exec.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1", exec.callCount())
	}
}

func TestDispatch_ValidationFailsFastWithoutBreakerImpact(t *testing.T) {
	exec := &scriptedExecutor{}
	catalog := mapCatalog{"weather": {def: weatherDef(true), exec: exec}}
	d, reg := newTestDispatcher(t, catalog, Config{}, nil)

	// Breaker threshold is 2; five validation failures must not open it.
	for i := 0; i < 5; i++ {
		res := d.Dispatch(context.Background(), types.ToolCall{Name: "weather", Arguments: `{"units":"metric"}`})
		if res.Outcome != OutcomeValidation {
			t.Fatalf("outcome = %s, want validation", res.Outcome)
		}
		if res.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", res.Attempts)
		}
	}
	if exec.callCount() != 0 {
		t.Errorf("executor calls = %d, want 0", exec.callCount())
	}
	if got := reg.Get("weather").State(); got != resilience.StateClosed {
		t.Errorf("breaker state = %s, want closed", got)
	}
}

func TestDispatch_UnknownToolIsValidation(t *testing.T) {
	d, _ := newTestDispatcher(t, mapCatalog{}, Config{}, nil)
	res := d.Dispatch(context.Background(), types.ToolCall{Name: "nope"})
	if res.Outcome != OutcomeValidation {
		t.Fatalf("outcome = %s, want validation", res.Outcome)
	}
}

func TestDispatch_OpenBreakerRejectsUnavailable(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{
		Errorf(OutcomeFatal, "boom"),
		Errorf(OutcomeFatal, "boom"),
	}}
	catalog := mapCatalog{"weather": {def: weatherDef(false), exec: exec}}
	d, _ := newTestDispatcher(t, catalog, Config{}, nil)

	call := types.ToolCall{Name: "weather", Arguments: `{"city":"Oslo"}`}
	d.Dispatch(context.Background(), call)
	d.Dispatch(context.Background(), call) // second failure trips the breaker

	res := d.Dispatch(context.Background(), call)
	if res.Outcome != OutcomeUnavailable {
		t.Fatalf("outcome = %s, want unavailable", res.Outcome)
	}
	if exec.callCount() != 2 {
		t.Errorf("executor calls = %d, want 2 (third call must not reach the executor)", exec.callCount())
	}
}

func TestDispatch_CancelledContextShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{errs: []error{Errorf(OutcomeTransient, "slow")}}
	catalog := mapCatalog{"weather": {def: weatherDef(true), exec: exec}}
	d, _ := newTestDispatcher(t, catalog, Config{MaxAttempts: 3}, nil)

	cancel()
	res := d.Dispatch(ctx, types.ToolCall{Name: "weather", Arguments: `{"city":"Oslo"}`})

	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s, want cancelled", res.Outcome)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 — cancellation must stop the retry loop", res.Attempts)
	}
}

func TestDispatch_SensitiveToolRequiresConfirmation(t *testing.T) {
	def := weatherDef(false)
	def.Sensitive = true
	exec := &scriptedExecutor{outputs: []string{"done"}}
	catalog := mapCatalog{"weather": {def: def, exec: exec}}
	d, _ := newTestDispatcher(t, catalog, Config{RequireConfirmSensitive: true}, nil)

	call := types.ToolCall{Name: "weather", Arguments: `{"city":"Oslo"}`}

	res := d.Dispatch(context.Background(), call)
	if res.Outcome != OutcomeConfirmationRequired {
		t.Fatalf("outcome = %s, want confirmation-required", res.Outcome)
	}
	if exec.callCount() != 0 {
		t.Fatalf("executor ran before confirmation")
	}

	d.Confirm("weather")
	res = d.Dispatch(context.Background(), call)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome after confirm = %s, want success", res.Outcome)
	}

	// The grant is one-shot.
	res = d.Dispatch(context.Background(), call)
	if res.Outcome != OutcomeConfirmationRequired {
		t.Errorf("outcome after consumed grant = %s, want confirmation-required", res.Outcome)
	}
}

func TestDispatch_AuditRedactsConfiguredKeys(t *testing.T) {
	def := types.ToolDefinition{
		Name: "login",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user":     map[string]any{"type": "string"},
				"password": map[string]any{"type": "string"},
			},
		},
	}
	exec := &scriptedExecutor{outputs: []string{"ok"}}
	catalog := mapCatalog{"login": {def: def, exec: exec}}
	sink := &sliceSink{}
	d, _ := newTestDispatcher(t, catalog, Config{RedactKeys: []string{"password"}}, sink)

	d.Dispatch(context.Background(), types.ToolCall{Name: "login", Arguments: `{"user":"kim","password":"hunter2"}`})

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if got := events[0].Args["password"]; got != "[REDACTED]" {
		t.Errorf("password in audit = %v, want [REDACTED]", got)
	}
	if got := events[0].Args["user"]; got != "kim" {
		t.Errorf("user in audit = %v, want kim", got)
	}
	for _, ev := range events {
		if strings.Contains(ev.Error, "hunter2") {
			t.Error("audit error text leaks the redacted value")
		}
	}
}

func TestValidateArgs(t *testing.T) {
	def := weatherDef(true)
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"valid", `{"city":"Oslo","units":"metric"}`, ""},
		{"missing required", `{"units":"metric"}`, "missing required"},
		{"wrong type", `{"city":7}`, "expected string"},
		{"bad enum", `{"city":"Oslo","units":"kelvin"}`, "not in enum"},
		{"unknown key", `{"city":"Oslo","zip":"0150"}`, "unknown argument"},
		{"not an object", `[1,2]`, "not a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateArgs(def, tt.raw)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateArgs: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
