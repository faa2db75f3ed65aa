package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/bargein"
	"github.com/parley-ai/parley/internal/dispatch"
	"github.com/parley-ai/parley/internal/endpoint"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/provider/llm"
	"github.com/parley-ai/parley/pkg/types"
)

// Dispatcher is the tool-dispatch dependency of the controller.
type Dispatcher interface {
	Dispatch(ctx context.Context, call types.ToolCall) dispatch.Result
}

// ToolSource supplies the tool definitions offered to the reasoning backend.
type ToolSource interface {
	Definitions() []types.ToolDefinition
}

// BargeinGate is the barge-in coordinator surface the controller drives.
type BargeinGate interface {
	Arm()
	OnPartial(text string) bargein.Outcome
	Disarm()
}

// noGate is used when no coordinator is wired (barge-in disabled).
type noGate struct{}

func (noGate) Arm() {}

func (noGate) OnPartial(string) bargein.Outcome { return bargein.OutcomeIgnored }

func (noGate) Disarm() {}

// Config holds controller tuning.
type Config struct {
	// AnswerBudget bounds one turn's generation including tool calls.
	AnswerBudget time.Duration

	// SystemPrompt is injected into every generation session.
	SystemPrompt string

	// Greeting, when non-empty, drives a self-initiated turn at startup.
	Greeting string

	// FailureReply is archived as the assistant's reply when a turn fails,
	// so the conversation never ends on silence.
	FailureReply string
}

// Deps are the controller's collaborators. Recorder and Metrics may be nil.
type Deps struct {
	Provider llm.Provider
	Dispatch Dispatcher
	Tools    ToolSource
	Output   audio.OutputStream
	Gate     BargeinGate
	Recorder *observe.Recorder
	Metrics  *observe.Metrics
	History  *History
}

// toolBatch carries one generation step's dispatched results back to the
// controller goroutine.
type toolBatch struct {
	turnID  string
	results []types.Message
	stamps  []observe.ToolStamp
}

// Controller runs the turn state machine. All state below the mutex line is
// owned exclusively by the Run goroutine.
type Controller struct {
	cfg    Config
	deps   Deps
	events <-chan endpoint.Event

	interrupts  chan string
	toolResults chan toolBatch

	// sessMu guards the active session pointer for CancelActive, which is
	// called from the coordinator's goroutine.
	sessMu    sync.Mutex
	sess      *session.Session
	genCancel context.CancelFunc

	// Run-goroutine state.
	state         State
	current       *Turn
	sessEvents    <-chan session.Event
	genCtx        context.Context
	turnSeq       int
	thinkStart    time.Time
	outputStarted bool
	lastPartialAt time.Time
}

// NewController creates a Controller consuming endpointing events.
func NewController(cfg Config, deps Deps, events <-chan endpoint.Event) *Controller {
	if cfg.AnswerBudget <= 0 {
		cfg.AnswerBudget = 30 * time.Second
	}
	if deps.Gate == nil {
		deps.Gate = noGate{}
	}
	if deps.History == nil {
		deps.History = NewHistory(0, 0)
	}
	return &Controller{
		cfg:         cfg,
		deps:        deps,
		events:      events,
		interrupts:  make(chan string, 4),
		toolResults: make(chan toolBatch, 4),
		state:       StateIdle,
	}
}

// State returns the controller's current state. Only meaningful in tests and
// introspection; the Run goroutine is the sole writer.
func (c *Controller) State() State {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.state
}

// CancelActive cancels the in-flight generation, if any. Safe to call from
// any goroutine; wired as the coordinator's CancelGeneration action.
func (c *Controller) CancelActive() {
	c.sessMu.Lock()
	sess := c.sess
	cancel := c.genCancel
	c.sessMu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// Interrupt hands the controller a barge-in with the partial transcript that
// triggered it. Safe to call from any goroutine; wired as the coordinator's
// Interrupt action.
func (c *Controller) Interrupt(seed string) {
	select {
	case c.interrupts <- seed:
	default:
		slog.Warn("interrupt dropped, queue full")
	}
}

// Run processes inputs until ctx is cancelled. It must be the only goroutine
// mutating turn state.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.Greeting != "" {
		c.startGreeting(ctx)
	}

	events := c.events
	for {
		select {
		case <-ctx.Done():
			c.CancelActive()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.onDetector(ctx, ev)

		case ev, ok := <-c.sessEvents:
			if !ok {
				c.sessEvents = nil
				continue
			}
			c.onSession(ctx, ev)

		case seed := <-c.interrupts:
			c.onInterrupt(ctx, seed)

		case batch := <-c.toolResults:
			c.onToolResults(ctx, batch)
		}
	}
}

// --- detector input ---

func (c *Controller) onDetector(ctx context.Context, ev endpoint.Event) {
	switch ev.Type {
	case endpoint.SpeechStart:
		switch c.state {
		case StateIdle:
			c.beginTurn(ctx, "")
		case StateSpeaking:
			c.deps.Gate.Arm()
		default:
			// Speech during Thinking or teardown: the detector keeps
			// accumulating; nothing to do until its transcript arrives.
		}

	case endpoint.PartialTranscript:
		c.lastPartialAt = ev.At
		switch c.state {
		case StateSpeaking:
			c.deps.Gate.OnPartial(ev.Text)
		case StateListeningPartial:
			applied := c.current.addFragment(Fragment{
				Text:       ev.Text,
				Confidence: ev.Confidence,
				Sequence:   ev.Sequence,
			})
			if applied {
				c.current.UserText = ev.Text
			}
		}

	case endpoint.SpeechEnd:
		if c.state != StateListeningPartial {
			return
		}
		if ev.Text == "" {
			// Noise without words: abandon silently.
			c.abandonTurn(ctx)
			return
		}
		c.current.UserText = ev.Text
		c.current.SpeechEndedAt = ev.At
		c.setState(ctx, StateListeningFinal)
		if c.deps.Metrics != nil && !c.lastPartialAt.IsZero() {
			c.deps.Metrics.EndpointDelay.Record(ctx, ev.At.Sub(c.lastPartialAt).Seconds())
		}
		c.startGeneration(ctx, ev.Text)
	}
}

// --- session input ---

func (c *Controller) onSession(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventText:
		c.markSpeaking(ctx)
		c.current.AssistantText += ev.Text

	case session.EventAudio:
		c.markSpeaking(ctx)
		frame := types.AudioFrame{Data: ev.Audio}
		if err := c.deps.Output.Write(ctx, frame); err != nil {
			slog.Warn("output write failed", "error", err)
		}

	case session.EventToolCalls:
		c.recorderPhase("tool_dispatch")
		// A tool call mid-reply suspends output: back to Thinking until the
		// resumed session speaks again.
		if c.state == StateSpeaking {
			c.setState(ctx, StateThinking)
		}
		c.fanOutTools(ctx, ev.ToolCalls)

	case session.EventDone:
		c.finishTurn(ctx, "completed")

	case session.EventErr:
		slog.Error("generation failed", "turn", c.current.ID, "error", ev.Err)
		c.current.Failed = true
		c.current.AssistantText = c.cfg.FailureReply
		c.finishTurn(ctx, "failed")
	}
}

// markSpeaking transitions Thinking → Speaking on output. The first-output
// latency is stamped once per turn; later transitions (output resuming after
// a mid-reply tool step) only change state.
func (c *Controller) markSpeaking(ctx context.Context) {
	if c.state != StateThinking {
		return
	}
	c.setState(ctx, StateSpeaking)
	if c.outputStarted {
		return
	}
	c.outputStarted = true
	if c.deps.Metrics != nil {
		c.deps.Metrics.FirstOutputDelay.Record(ctx, time.Since(c.thinkStart).Seconds())
	}
}

// --- tool fan-out ---

// fanOutTools dispatches one generation step's tool calls in parallel and
// posts the batch back once every call has resolved — the session resumes
// only when the full step is in.
func (c *Controller) fanOutTools(ctx context.Context, calls []types.ToolCall) {
	turnID := c.current.ID
	genCtx := c.genCtx

	go func() {
		g, gctx := errgroup.WithContext(genCtx)
		results := make([]types.Message, len(calls))
		stamps := make([]observe.ToolStamp, len(calls))
		for i, call := range calls {
			g.Go(func() error {
				res := c.deps.Dispatch.Dispatch(gctx, call)
				results[i] = types.Message{
					Role:       "tool",
					ToolCallID: res.CallID,
					Content:    res.Content,
				}
				stamps[i] = observe.ToolStamp{
					CallID:   res.CallID,
					Tool:     res.Tool,
					Outcome:  string(res.Outcome),
					Attempts: res.Attempts,
					Latency:  res.Latency,
				}
				return nil
			})
		}
		_ = g.Wait()

		select {
		case c.toolResults <- toolBatch{turnID: turnID, results: results, stamps: stamps}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onToolResults(ctx context.Context, batch toolBatch) {
	if c.current == nil || c.current.ID != batch.turnID {
		return // results for a turn already torn down
	}
	for _, stamp := range batch.stamps {
		if c.deps.Recorder != nil {
			c.deps.Recorder.Tool(batch.turnID, stamp)
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordToolCall(ctx, stamp.Tool, stamp.Outcome, stamp.Latency.Seconds())
		}
	}

	c.sessMu.Lock()
	sess := c.sess
	c.sessMu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Resume(c.genCtx, batch.results); err != nil {
		slog.Debug("resume skipped", "turn", batch.turnID, "reason", err)
	}
}

// --- barge-in ---

func (c *Controller) onInterrupt(ctx context.Context, seed string) {
	if c.state != StateSpeaking && c.state != StateThinking {
		return
	}
	c.setState(ctx, StateInterrupted)
	c.current.Interrupted = true
	c.finishTurn(ctx, "interrupted")

	// The user is mid-sentence: open the next turn seeded with whatever has
	// already been heard. If the speech never produces words, the empty
	// speech-end abandons it.
	c.beginTurn(ctx, seed)
}

// --- turn lifecycle ---

func (c *Controller) beginTurn(ctx context.Context, seed string) {
	c.turnSeq++
	c.current = &Turn{
		ID:        fmt.Sprintf("turn-%d", c.turnSeq),
		UserText:  seed,
		StartedAt: time.Now(),
	}
	c.lastPartialAt = time.Time{}
	if c.deps.Recorder != nil {
		c.deps.Recorder.Begin(c.current.ID)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveTurns.Add(ctx, 1)
	}
	c.setState(ctx, StateListeningPartial)
	slog.Info("turn started", "turn", c.current.ID, "seed", seed)
}

func (c *Controller) startGreeting(ctx context.Context) {
	c.turnSeq++
	c.current = &Turn{
		ID:        fmt.Sprintf("turn-%d", c.turnSeq),
		UserText:  c.cfg.Greeting,
		StartedAt: time.Now(),
	}
	if c.deps.Recorder != nil {
		c.deps.Recorder.Begin(c.current.ID)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveTurns.Add(ctx, 1)
	}
	slog.Info("greeting turn started", "turn", c.current.ID)
	c.startGeneration(ctx, c.cfg.Greeting)
}

func (c *Controller) startGeneration(ctx context.Context, userText string) {
	genCtx, cancel := context.WithTimeout(ctx, c.cfg.AnswerBudget)

	messages := append(c.deps.History.Messages(), types.Message{Role: "user", Content: userText})
	var tools []types.ToolDefinition
	if c.deps.Tools != nil {
		tools = c.deps.Tools.Definitions()
	}

	sess := session.New(genCtx, c.deps.Provider, llm.CompletionRequest{
		Messages:     messages,
		Tools:        tools,
		SystemPrompt: c.cfg.SystemPrompt,
	})

	c.sessMu.Lock()
	c.sess = sess
	c.genCancel = cancel
	c.sessMu.Unlock()

	c.genCtx = genCtx
	c.sessEvents = sess.Events()
	c.thinkStart = time.Now()
	c.outputStarted = false
	c.setState(ctx, StateThinking)
}

func (c *Controller) finishTurn(ctx context.Context, outcome string) {
	c.deps.Gate.Disarm()
	c.clearSession()

	t := c.current
	if c.deps.Recorder != nil {
		c.deps.Recorder.End(t.ID, t.Interrupted, t.Failed)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordTurn(ctx, outcome, time.Since(t.StartedAt).Seconds())
		c.deps.Metrics.ActiveTurns.Add(ctx, -1)
	}
	c.deps.History.Add(*t)
	slog.Info("turn finished", "turn", t.ID, "outcome", outcome)

	c.current = nil
	c.setState(ctx, StateIdle)
}

// abandonTurn drops a turn that never produced words.
func (c *Controller) abandonTurn(ctx context.Context) {
	if c.deps.Recorder != nil {
		c.deps.Recorder.End(c.current.ID, false, false)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveTurns.Add(ctx, -1)
	}
	slog.Debug("turn abandoned without speech", "turn", c.current.ID)
	c.current = nil
	c.setState(ctx, StateIdle)
}

func (c *Controller) clearSession() {
	c.sessMu.Lock()
	sess := c.sess
	cancel := c.genCancel
	c.sess = nil
	c.genCancel = nil
	c.sessMu.Unlock()

	if sess != nil {
		sess.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	c.sessEvents = nil
	c.genCtx = nil
}

func (c *Controller) setState(_ context.Context, s State) {
	c.sessMu.Lock()
	prev := c.state
	c.state = s
	c.sessMu.Unlock()

	if c.current != nil && c.deps.Recorder != nil && s != StateIdle {
		c.deps.Recorder.Phase(c.current.ID, s.String())
	}
	slog.Debug("state transition", "from", prev.String(), "to", s.String())
}

func (c *Controller) recorderPhase(phase string) {
	if c.current != nil && c.deps.Recorder != nil {
		c.deps.Recorder.Phase(c.current.ID, phase)
	}
}
