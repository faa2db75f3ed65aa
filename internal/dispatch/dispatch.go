// Package dispatch executes tool calls requested by the reasoning backend.
//
// The [Dispatcher] wraps every call in the full safety policy: argument
// validation against the tool's schema, the sensitive-tool confirmation gate,
// per-tool circuit breaking, bounded retries with exponential backoff, and
// audit logging with argument redaction. The caller receives a [Result]
// whose [Outcome] is a closed enum — callers branch on the kind, never on
// error strings.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/pkg/types"
)

// Outcome classifies how a tool call ended.
type Outcome string

const (
	// OutcomeSuccess means the executor returned a result.
	OutcomeSuccess Outcome = "success"

	// OutcomeValidation means the call never reached the executor: unknown
	// tool or arguments that fail the tool's schema. Never retried and never
	// counted against the circuit breaker.
	OutcomeValidation Outcome = "validation"

	// OutcomeTransient means the executor failed in a way that may succeed on
	// retry (timeouts, 5xx, connection resets) and all permitted attempts
	// were exhausted.
	OutcomeTransient Outcome = "transient"

	// OutcomeUnavailable means the tool's circuit breaker rejected the call.
	OutcomeUnavailable Outcome = "unavailable"

	// OutcomeFatal means the executor failed in a way retries cannot fix.
	OutcomeFatal Outcome = "backend-fatal"

	// OutcomeCancelled means the surrounding turn was cancelled while the
	// call was pending. Says nothing about tool health.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeConfirmationRequired means the tool is marked sensitive and no
	// confirmation has been given; the result content carries the prompt to
	// speak to the user.
	OutcomeConfirmationRequired Outcome = "confirmation-required"
)

// Error is a kind-carrying error returned by tool executors so the dispatcher
// can decide whether to retry.
type Error struct {
	Kind Outcome
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an [*Error] of the given kind.
func Errorf(kind Outcome, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the [Outcome] kind from an executor error. Deadline
// overruns are transient; unclassified errors default to transient so a
// flaky executor that forgets to classify still gets its retries.
func KindOf(err error) Outcome {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeCancelled
	}
	return OutcomeTransient
}

// Executor runs one tool call attempt and returns the tool's output as text
// for the reasoning backend.
type Executor interface {
	Execute(ctx context.Context, call types.ToolCall) (string, error)
}

// Catalog resolves tool names to their definition and executor.
type Catalog interface {
	// Lookup returns the definition and executor for name, or ok=false if the
	// tool is not registered.
	Lookup(name string) (types.ToolDefinition, Executor, bool)
}

// Result is the terminal record of one dispatched tool call.
type Result struct {
	// CallID echoes the tool call identifier.
	CallID string

	// Tool is the tool name.
	Tool string

	// Outcome classifies how the call ended.
	Outcome Outcome

	// Content is the executor output on success, or the message to hand back
	// to the reasoning backend on failure (error brief, confirmation prompt).
	Content string

	// Err is the terminal error for non-success outcomes.
	Err error

	// Attempts is the recorded attempt count. Validation failures count as
	// one attempt even though the executor is never invoked.
	Attempts int

	// Latency is the total dispatch time including backoff.
	Latency time.Duration
}

// Config holds dispatcher tuning knobs.
type Config struct {
	// AttemptTimeout caps one executor attempt when the tool definition does
	// not declare its own maximum. Default: 10s.
	AttemptTimeout time.Duration

	// MaxAttempts bounds attempts per call for retryable tools, first attempt
	// included. Default: 3.
	MaxAttempts int

	// BackoffBase is the backoff before the second attempt; it doubles per
	// attempt and carries ±25% jitter. Default: 250ms.
	BackoffBase time.Duration

	// RequireConfirmSensitive enables the confirmation gate for tools marked
	// sensitive.
	RequireConfirmSensitive bool

	// RedactKeys lists argument keys masked in audit events.
	RedactKeys []string
}

// Dispatcher executes tool calls under the full dispatch policy.
// Safe for concurrent use; the turn controller fans calls out in parallel.
type Dispatcher struct {
	catalog  Catalog
	breakers *resilience.Registry
	cfg      Config
	audit    AuditSink

	mu       sync.Mutex
	approved map[string]int // one-shot confirmations per tool name
}

// New creates a Dispatcher. sink may be nil to disable auditing beyond logs.
func New(catalog Catalog, breakers *resilience.Registry, cfg Config, sink AuditSink) *Dispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	return &Dispatcher{
		catalog:  catalog,
		breakers: breakers,
		cfg:      cfg,
		audit:    sink,
		approved: make(map[string]int),
	}
}

// Confirm grants one execution of the named sensitive tool. The next
// Dispatch for that tool consumes the grant and proceeds.
func (d *Dispatcher) Confirm(tool string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.approved[tool]++
}

// Dispatch runs one tool call to a terminal [Result]. It never returns an
// error: every failure mode is a Result with the matching outcome, so the
// controller always has something to hand back to the reasoning backend.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCall) Result {
	start := time.Now()

	def, exec, ok := d.catalog.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("dispatch: unknown tool %q", call.Name)
		return d.finish(call, Result{
			Outcome:  OutcomeValidation,
			Content:  fmt.Sprintf("Tool %q does not exist.", call.Name),
			Err:      err,
			Attempts: 1,
			Latency:  time.Since(start),
		}, 0)
	}

	args, err := ValidateArgs(def, call.Arguments)
	if err != nil {
		return d.finish(call, Result{
			Outcome:  OutcomeValidation,
			Content:  fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err),
			Err:      fmt.Errorf("dispatch: validate %s: %w", call.Name, err),
			Attempts: 1,
			Latency:  time.Since(start),
		}, 0)
	}

	if def.Sensitive && d.cfg.RequireConfirmSensitive && !d.consumeApproval(call.Name) {
		res := Result{
			Outcome: OutcomeConfirmationRequired,
			Content: fmt.Sprintf("The %s action needs the user's spoken confirmation before it runs. Ask for confirmation and try again once given.", call.Name),
			Err:     fmt.Errorf("dispatch: %s requires confirmation", call.Name),
			Latency: time.Since(start),
		}
		d.emitAudit(call, args, 0, res)
		return d.withIdentity(call, res)
	}

	breaker := d.breakers.Get(call.Name)
	if err := breaker.Allow(); err != nil {
		return d.finish(call, Result{
			Outcome:  OutcomeUnavailable,
			Content:  fmt.Sprintf("The %s tool is temporarily unavailable.", call.Name),
			Err:      fmt.Errorf("dispatch: %s: %w", call.Name, err),
			Attempts: 0,
			Latency:  time.Since(start),
		}, 0)
	}

	res := d.attemptLoop(ctx, def, exec, call, args)
	res.Latency = time.Since(start)

	switch res.Outcome {
	case OutcomeSuccess:
		breaker.RecordSuccess()
	case OutcomeCancelled:
		breaker.Release()
	default:
		breaker.RecordFailure()
	}
	return d.withIdentity(call, res)
}

// attemptLoop runs executor attempts with per-attempt timeouts and backoff.
func (d *Dispatcher) attemptLoop(ctx context.Context, def types.ToolDefinition, exec Executor, call types.ToolCall, args map[string]any) Result {
	maxAttempts := d.cfg.MaxAttempts
	if !def.Retryable {
		maxAttempts = 1
	}
	attemptCap := d.cfg.AttemptTimeout
	if def.MaxAttemptTimeout > 0 && def.MaxAttemptTimeout < attemptCap {
		attemptCap = def.MaxAttemptTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptCap)
		out, err := exec.Execute(attemptCtx, call)
		cancel()

		if err == nil {
			res := Result{Outcome: OutcomeSuccess, Content: out, Attempts: attempt}
			d.emitAudit(call, args, attempt, res)
			return res
		}
		lastErr = err

		// The turn being cancelled ends the call regardless of how the
		// executor dressed up the error.
		if ctx.Err() != nil {
			res := Result{
				Outcome:  OutcomeCancelled,
				Content:  "The call was cancelled.",
				Err:      fmt.Errorf("dispatch: %s cancelled: %w", call.Name, ctx.Err()),
				Attempts: attempt,
			}
			d.emitAudit(call, args, attempt, res)
			return res
		}

		kind := KindOf(err)
		res := Result{Outcome: kind, Err: err, Attempts: attempt}
		d.emitAudit(call, args, attempt, res)

		if kind != OutcomeTransient {
			res.Content = fmt.Sprintf("The %s call failed: %v", call.Name, err)
			res.Err = fmt.Errorf("dispatch: %s: %w", call.Name, err)
			return res
		}

		slog.Debug("tool attempt failed, retrying",
			"tool", call.Name,
			"attempt", attempt,
			"error", err,
		)
		if attempt < maxAttempts {
			if err := sleepBackoff(ctx, d.cfg.BackoffBase, attempt); err != nil {
				return Result{
					Outcome:  OutcomeCancelled,
					Content:  "The call was cancelled.",
					Err:      fmt.Errorf("dispatch: %s cancelled during backoff: %w", call.Name, err),
					Attempts: attempt,
				}
			}
		}
	}

	return Result{
		Outcome:  OutcomeTransient,
		Content:  fmt.Sprintf("The %s call kept failing and was given up on.", call.Name),
		Err:      fmt.Errorf("dispatch: %s exhausted %d attempts: %w", call.Name, maxAttempts, lastErr),
		Attempts: maxAttempts,
	}
}

// sleepBackoff waits base*2^(attempt-1) with ±25% jitter, or returns early
// when ctx is done.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	backoff := base << (attempt - 1)
	jitter := time.Duration(rand.Int64N(int64(backoff)/2+1)) - backoff/4
	t := time.NewTimer(backoff + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) consumeApproval(tool string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.approved[tool] <= 0 {
		return false
	}
	d.approved[tool]--
	return true
}

// finish audits a pre-loop terminal result and attaches call identity.
func (d *Dispatcher) finish(call types.ToolCall, res Result, attempt int) Result {
	d.emitAudit(call, nil, attempt, res)
	return d.withIdentity(call, res)
}

func (d *Dispatcher) withIdentity(call types.ToolCall, res Result) Result {
	res.CallID = call.ID
	res.Tool = call.Name
	return res
}
