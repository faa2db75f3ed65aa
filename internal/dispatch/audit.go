package dispatch

import (
	"log/slog"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// redactedPlaceholder replaces values of redacted argument keys in audit
// events.
const redactedPlaceholder = "[REDACTED]"

// AuditEvent records one dispatch attempt for the audit trail. Argument
// values under configured keys are masked before the event leaves the
// dispatcher.
type AuditEvent struct {
	Time    time.Time
	CallID  string
	Tool    string
	Args    map[string]any
	Attempt int
	Outcome Outcome
	Error   string
	Latency time.Duration
}

// AuditSink receives audit events. Implementations must not block; the
// dispatcher calls Record on the dispatching goroutine.
type AuditSink interface {
	Record(AuditEvent)
}

// emitAudit logs the attempt and forwards it to the sink if one is set.
func (d *Dispatcher) emitAudit(call types.ToolCall, args map[string]any, attempt int, res Result) {
	ev := AuditEvent{
		Time:    time.Now(),
		CallID:  call.ID,
		Tool:    call.Name,
		Args:    redactArgs(args, d.cfg.RedactKeys),
		Attempt: attempt,
		Outcome: res.Outcome,
		Latency: res.Latency,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}

	slog.Info("tool call audited",
		"tool", ev.Tool,
		"call_id", ev.CallID,
		"attempt", ev.Attempt,
		"outcome", string(ev.Outcome),
		"args", ev.Args,
		"error", ev.Error,
	)
	if d.audit != nil {
		d.audit.Record(ev)
	}
}

// redactArgs deep-copies args, masking values whose key matches the redact
// list case-insensitively. Nested objects are masked recursively.
func redactArgs(args map[string]any, keys []string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if matchesKey(k, keys) {
			out[k] = redactedPlaceholder
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redactArgs(nested, keys)
			continue
		}
		out[k] = v
	}
	return out
}

func matchesKey(k string, keys []string) bool {
	for _, want := range keys {
		if strings.EqualFold(k, want) {
			return true
		}
	}
	return false
}
