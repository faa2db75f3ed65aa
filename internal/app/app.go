// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the audio ingest and turn-taking loops, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithToolRegistry, WithAuditSink, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/bargein"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/dispatch"
	"github.com/parley-ai/parley/internal/endpoint"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/internal/tools"
	"github.com/parley-ai/parley/internal/turn"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/provider/llm"
	"github.com/parley-ai/parley/pkg/provider/stt"
	"github.com/parley-ai/parley/pkg/provider/vad"
	"github.com/parley-ai/parley/pkg/types"
)

// Audio format for the ingest path. The media room delivers 16 kHz mono PCM;
// both the VAD session and the STT stream are opened to match.
const (
	ingestSampleRate = 16000
	ingestFrameMs    = 20

	vadSpeechThreshold  = 0.5
	vadSilenceThreshold = 0.35
)

// Providers holds one interface value per provider slot. Populated by main.go
// from the config. Input and Output connect the app to the media room; nil
// Input disables the ingest loop (useful for tests driving the detector
// channels directly).
type Providers struct {
	LLM    llm.Provider
	STT    stt.Provider
	VAD    vad.Engine
	Input  audio.InputSource
	Output audio.OutputStream
}

// App owns all subsystem lifetimes and orchestrates the Parley dialogue
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	meterProvider metric.MeterProvider
	metrics       *observe.Metrics
	recorder      *observe.Recorder
	registry      *tools.Registry
	connector     *tools.MCPConnector
	breakers      *resilience.Registry
	dispatcher    *dispatch.Dispatcher
	auditSink     dispatch.AuditSink
	detector      *endpoint.Detector
	coordinator   *bargein.Coordinator
	controller    *turn.Controller
	httpSrv       *http.Server

	// Ingest channels feeding the endpointing detector.
	vadEvents   chan types.VADEvent
	transcripts chan types.Transcript

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithToolRegistry injects a tool registry instead of building one from the
// tools config.
func WithToolRegistry(r *tools.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithAuditSink injects an audit sink for tool-call events. Without it,
// audits go to the structured log only.
func WithAuditSink(s dispatch.AuditSink) Option {
	return func(a *App) { a.auditSink = s }
}

// WithMeterProvider injects a meter provider instead of using the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.meterProvider = mp }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: metrics instruments, tool
// registration (builtins + MCP servers), dispatcher and breaker assembly,
// detector, coordinator, controller, and the HTTP probe server.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}
	if providers.Output == nil {
		providers.Output = audio.Discard
	}

	a := &App{
		cfg:         cfg,
		providers:   providers,
		vadEvents:   make(chan types.VADEvent, 64),
		transcripts: make(chan types.Transcript, 64),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if err := a.initObservability(); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 2. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 3. Dispatcher ────────────────────────────────────────────────────
	a.initDispatcher()

	// ── 4. Detector + coordinator + controller ───────────────────────────
	a.initPipeline()

	// ── 5. HTTP probes + metrics endpoint ────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObservability creates the metric instruments and the in-memory turn
// recorder.
func (a *App) initObservability() error {
	if a.meterProvider == nil {
		a.meterProvider = otel.GetMeterProvider()
	}
	met, err := observe.NewMetrics(a.meterProvider)
	if err != nil {
		return err
	}
	a.metrics = met
	a.recorder = observe.NewRecorder(a.cfg.Turn.HistorySize)
	return nil
}

// initTools builds the tool registry: builtins by name, then the catalogues
// of every configured MCP server, then sensitivity marks.
func (a *App) initTools(ctx context.Context) error {
	if a.registry == nil {
		a.registry = tools.NewRegistry()
	}

	if err := tools.RegisterBuiltins(a.registry, a.cfg.Tools.Builtin, nil); err != nil {
		return err
	}

	if len(a.cfg.Tools.MCP) > 0 {
		a.connector = tools.NewMCPConnector(a.registry)
		a.closers = append(a.closers, a.connector.Close)

		for _, srv := range a.cfg.Tools.MCP {
			err := a.connector.Connect(ctx, tools.MCPServerConfig{
				Name:    srv.Name,
				Command: srv.Command,
				URL:     srv.URL,
				Env:     srv.Env,
			})
			if err != nil {
				return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
			}
			slog.Info("connected MCP server", "name", srv.Name)
		}
	}

	a.registry.MarkSensitive(a.cfg.Tools.Sensitive...)
	return nil
}

// initDispatcher assembles the breaker registry and the dispatcher on top of
// the tool registry.
func (a *App) initDispatcher() {
	a.breakers = resilience.NewRegistry(resilience.Config{
		FailureThreshold: a.cfg.Dispatch.BreakerThreshold,
		FailureWindow:    a.cfg.Dispatch.BreakerWindow,
		Cooldown:         a.cfg.Dispatch.BreakerCooldown,
	})
	a.dispatcher = dispatch.New(a.registry, a.breakers, dispatch.Config{
		AttemptTimeout:          a.cfg.Dispatch.AttemptTimeout,
		MaxAttempts:             a.cfg.Dispatch.MaxAttempts,
		BackoffBase:             a.cfg.Dispatch.BackoffBase,
		RequireConfirmSensitive: a.cfg.Dispatch.RequireConfirmSensitive,
		RedactKeys:              a.cfg.Dispatch.RedactKeys,
	}, a.auditSink)
}

// initPipeline wires the endpointing detector, the barge-in coordinator, and
// the turn controller. The coordinator's actions close over the App because
// the controller does not exist yet when the coordinator is built; the
// coordinator only fires after the controller has armed it, so the pointer is
// always set by then.
func (a *App) initPipeline() {
	a.detector = endpoint.New(endpoint.Config{
		BaseSilence:         a.cfg.Endpoint.BaseSilence,
		MinSilence:          a.cfg.Endpoint.MinSilence,
		MaxSilence:          a.cfg.Endpoint.MaxSilence,
		ShortUtteranceWords: a.cfg.Endpoint.ShortUtteranceWords,
	}, a.vadEvents, a.transcripts)

	a.coordinator = bargein.New(
		bargein.Config{
			GraceWindow:  a.cfg.Bargein.GraceWindow,
			Backchannels: a.cfg.Bargein.Backchannels,
		},
		bargein.Actions{
			CancelGeneration: func() { a.controller.CancelActive() },
			FlushOutput: func() {
				if err := a.providers.Output.Flush(); err != nil {
					slog.Warn("output flush failed", "err", err)
				}
			},
			Interrupt: func(seed string) { a.controller.Interrupt(seed) },
		},
		func(suppressed bool, recovery time.Duration) {
			a.metrics.RecordBargein(context.Background(), suppressed, recovery.Seconds())
		},
	)

	a.controller = turn.NewController(
		turn.Config{
			AnswerBudget: a.cfg.Turn.AnswerBudget,
			SystemPrompt: a.cfg.Turn.SystemPrompt,
			Greeting:     a.cfg.Turn.Greeting,
			FailureReply: a.cfg.Turn.FailureReply,
		},
		turn.Deps{
			Provider: a.providers.LLM,
			Dispatch: a.dispatcher,
			Tools:    a.registry,
			Output:   a.providers.Output,
			Gate:     a.coordinator,
			Recorder: a.recorder,
			Metrics:  a.metrics,
			History:  turn.NewHistory(a.cfg.Turn.HistorySize, a.cfg.Turn.HistoryMaxAge),
		},
		a.detector.Events(),
	)
}

// initHTTP builds the probe mux: health endpoints plus the Prometheus scrape
// endpoint backed by the OTel prometheus exporter.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(health.BreakerChecker(a.breakers)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:         a.cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the dialogue pipeline and blocks until ctx is cancelled or a
// subsystem fails. It runs the endpointing detector, the turn controller, the
// audio ingest loop, and the HTTP probe server.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.detector.Run(gctx) })
	g.Go(func() error { return a.controller.Run(gctx) })

	if a.providers.Input != nil {
		g.Go(func() error { return a.runIngest(gctx) })
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutCtx)
	})

	slog.Info("parley running", "tools", len(a.registry.Definitions()))
	return g.Wait()
}

// runIngest reads captured frames from the media room, classifies each with
// the VAD session, and forwards the raw audio to the streaming transcription
// session. VAD events and transcripts feed the endpointing detector.
func (a *App) runIngest(ctx context.Context) error {
	if a.providers.STT == nil || a.providers.VAD == nil {
		return fmt.Errorf("app: ingest requires STT and VAD providers")
	}

	sttSess, err := a.providers.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: ingestSampleRate,
		Channels:   1,
		Language:   "en-US",
	})
	if err != nil {
		return fmt.Errorf("app: start stt stream: %w", err)
	}
	defer sttSess.Close()

	vadSess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:       ingestSampleRate,
		FrameSizeMs:      ingestFrameMs,
		SpeechThreshold:  vadSpeechThreshold,
		SilenceThreshold: vadSilenceThreshold,
	})
	if err != nil {
		return fmt.Errorf("app: start vad session: %w", err)
	}
	defer vadSess.Close()

	// Partials and finals merge onto one detector channel; the detector
	// tells them apart by Transcript.IsFinal.
	go a.forwardTranscripts(ctx, sttSess)

	frames := a.providers.Input.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				slog.Info("audio input disconnected")
				return nil
			}
			ev, err := vadSess.ProcessFrame(frame.Data)
			if err != nil {
				slog.Warn("vad error", "err", err)
				continue
			}
			select {
			case a.vadEvents <- ev:
			default:
				slog.Warn("vad event dropped, detector backlogged")
			}
			if err := sttSess.SendAudio(frame.Data); err != nil {
				slog.Warn("stt send error", "err", err)
			}
		}
	}
}

// forwardTranscripts merges the session's partial and final streams into the
// detector's transcript channel.
func (a *App) forwardTranscripts(ctx context.Context, sess stt.SessionHandle) {
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			a.pushTranscript(ctx, t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			a.pushTranscript(ctx, t)
		}
	}
}

func (a *App) pushTranscript(ctx context.Context, t types.Transcript) {
	select {
	case a.transcripts <- t:
	case <-ctx.Done():
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.controller.CancelActive()
		if a.providers.Input != nil {
			if err := a.providers.Input.Close(); err != nil {
				slog.Warn("input close error", "err", err)
			}
		}
		if a.providers.Output != nil {
			if err := a.providers.Output.Close(); err != nil {
				slog.Warn("output close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Controller exposes the turn controller for introspection and tests.
func (a *App) Controller() *turn.Controller { return a.controller }

// Dispatcher exposes the tool dispatcher, e.g. to confirm sensitive tools.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Recorder exposes the in-memory turn recorder.
func (a *App) Recorder() *observe.Recorder { return a.recorder }
