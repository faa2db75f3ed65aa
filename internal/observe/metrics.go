// Package observe provides Parley's observability primitives: OpenTelemetry
// metric instruments for the turn pipeline and a bounded per-turn span
// recorder that backs the exported metrics record.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parley-ai/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn phase ---

	// EndpointDelay tracks time from last speech to endpoint confirmation.
	EndpointDelay metric.Float64Histogram

	// FirstOutputDelay tracks time from dispatch to the first output chunk.
	FirstOutputDelay metric.Float64Histogram

	// TurnDuration tracks total turn duration from speech-start to terminal.
	TurnDuration metric.Float64Histogram

	// ToolDuration tracks tool dispatch latency. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolDuration metric.Float64Histogram

	// BargeinRecovery tracks detection-to-output-stop latency for barge-ins.
	BargeinRecovery metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", "completed"|"interrupted"|"failed")
	Turns metric.Int64Counter

	// ToolCalls counts dispatch attempts. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Bargeins counts barge-in events. Use with attribute:
	//   attribute.Bool("suppressed", ...)
	Bargeins metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks the number of non-terminal turns (0 or 1 per
	// conversation, summed across conversations).
	ActiveTurns metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EndpointDelay, err = m.Float64Histogram("parley.turn.endpoint_delay",
		metric.WithDescription("Time from last detected speech to endpoint confirmation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstOutputDelay, err = m.Float64Histogram("parley.turn.first_output_delay",
		metric.WithDescription("Time from generation dispatch to the first output chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Total turn duration from speech-start to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("parley.tool.duration",
		metric.WithDescription("Latency of tool dispatch, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeinRecovery, err = m.Float64Histogram("parley.bargein.recovery",
		metric.WithDescription("Time from barge-in decision to output stream stop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("parley.turn.total",
		metric.WithDescription("Completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Tool dispatch attempts by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.Bargeins, err = m.Int64Counter("parley.bargein.total",
		metric.WithDescription("Barge-in events, including suppressed backchannels."),
	); err != nil {
		return nil, err
	}

	if met.ActiveTurns, err = m.Int64UpDownCounter("parley.turns.active",
		metric.WithDescription("Number of currently active (non-terminal) turns."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordToolCall records one dispatch outcome on both the counter and the
// latency histogram.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, attrs)
}

// RecordTurn records a terminal turn outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, seconds)
}

// RecordBargein records a barge-in decision and, for executed barge-ins, the
// recovery latency.
func (m *Metrics) RecordBargein(ctx context.Context, suppressed bool, recoverySeconds float64) {
	m.Bargeins.Add(ctx, 1, metric.WithAttributes(attribute.Bool("suppressed", suppressed)))
	if !suppressed {
		m.BargeinRecovery.Record(ctx, recoverySeconds)
	}
}
