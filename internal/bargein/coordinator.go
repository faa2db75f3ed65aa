// Package bargein coordinates user interruptions of in-progress playback.
//
// When the user starts speaking while the assistant is talking, the
// [Coordinator] holds the event for a short grace window. If the first
// partial transcript turns out to be a pure backchannel ("uh-huh", "right"),
// playback continues untouched. Anything else — a real utterance, or the
// grace window expiring with no transcript at all — triggers the interruption
// sequence in strict order: cancel the generation session, flush queued
// output audio, hand the controller the interrupt with whatever words have
// been heard so far.
package bargein

import (
	"log/slog"
	"sync"
	"time"
)

// Actions are the three interruption steps, supplied by the application
// wiring. They are invoked in declaration order and must be safe to call from
// the coordinator's timer goroutine.
type Actions struct {
	// CancelGeneration stops the active generation session.
	CancelGeneration func()

	// FlushOutput drops all queued but unplayed output audio.
	FlushOutput func()

	// Interrupt tells the turn controller to abandon the current turn. seed
	// carries the partial transcript that triggered the barge-in, so the next
	// turn starts with the words already heard.
	Interrupt func(seed string)
}

// Config tunes the coordinator.
type Config struct {
	// GraceWindow is how long a speech-start is held awaiting a first
	// partial. Zero means interrupt immediately on speech-start. Default is
	// no grace (0) — the app wiring normally passes 300ms from config.
	GraceWindow time.Duration

	// Backchannels lists acknowledgement words that never interrupt.
	Backchannels []string
}

// Outcome reports what the coordinator did with a speech event.
type Outcome int

const (
	// OutcomeIgnored means the coordinator was not armed.
	OutcomeIgnored Outcome = iota

	// OutcomeSuppressed means the speech was a backchannel; playback
	// continues.
	OutcomeSuppressed

	// OutcomeInterrupted means the interruption sequence ran.
	OutcomeInterrupted
)

// Coordinator holds barge-in state for one conversation. The controller arms
// it on entering Speaking and disarms it when playback ends naturally.
// Safe for concurrent use.
type Coordinator struct {
	cfg     Config
	filter  *backchannelFilter
	actions Actions

	// onResult is invoked after every armed decision with the recovery
	// latency (zero for suppressions). Used for metrics stamping.
	onResult func(suppressed bool, recovery time.Duration)

	mu      sync.Mutex
	armed   bool
	graceT  *time.Timer
	armedAt time.Time
}

// New creates a Coordinator. onResult may be nil.
func New(cfg Config, actions Actions, onResult func(suppressed bool, recovery time.Duration)) *Coordinator {
	if onResult == nil {
		onResult = func(bool, time.Duration) {}
	}
	return &Coordinator{
		cfg:      cfg,
		filter:   newBackchannelFilter(cfg.Backchannels),
		actions:  actions,
		onResult: onResult,
	}
}

// Arm starts watching for an interruption. Called by the controller when
// speech starts during Speaking. If no partial transcript arrives within the
// grace window, the interruption runs with an empty seed.
func (c *Coordinator) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed {
		return
	}
	c.armed = true
	c.armedAt = time.Now()

	if c.cfg.GraceWindow <= 0 {
		go c.trigger("")
		return
	}
	c.graceT = time.AfterFunc(c.cfg.GraceWindow, func() {
		c.trigger("")
	})
}

// OnPartial feeds the first partial transcript heard after Arm. Backchannels
// suppress the pending interruption; anything else triggers it with the
// partial as seed.
func (c *Coordinator) OnPartial(text string) Outcome {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return OutcomeIgnored
	}
	if c.filter.IsBackchannel(text) {
		c.disarmLocked()
		c.mu.Unlock()
		slog.Debug("barge-in suppressed as backchannel", "text", text)
		c.onResult(true, 0)
		return OutcomeSuppressed
	}
	c.mu.Unlock()

	c.trigger(text)
	return OutcomeInterrupted
}

// Disarm cancels any pending interruption watch. Called when playback ends
// naturally.
func (c *Coordinator) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

// trigger runs the interruption sequence once. Order matters: the session is
// cancelled before the output queue is flushed, so no late chunk can slip
// into a freshly emptied queue.
func (c *Coordinator) trigger(seed string) {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}
	heardAt := c.armedAt
	c.disarmLocked()
	c.mu.Unlock()

	// Recovery is measured from the decision to interrupt; the grace window
	// spent waiting for a partial is deliberation, not teardown.
	decidedAt := time.Now()
	c.actions.CancelGeneration()
	c.actions.FlushOutput()
	c.actions.Interrupt(seed)

	recovery := time.Since(decidedAt)
	slog.Info("barge-in executed",
		"seed", seed,
		"recovery", recovery.Round(time.Millisecond),
		"since_speech", time.Since(heardAt).Round(time.Millisecond),
	)
	c.onResult(false, recovery)
}

func (c *Coordinator) disarmLocked() {
	c.armed = false
	if c.graceT != nil {
		c.graceT.Stop()
		c.graceT = nil
	}
}
