// Package endpoint decides when the user has finished speaking.
//
// The [Detector] fuses two live inputs — voice-activity events from the VAD
// session and partial/final transcripts from the STT session — into a single
// ordered event stream: speech-start, partial-transcript, speech-end. One
// detector serves a whole conversation; its event stream spans every turn.
//
// The speech-end decision is adaptive. Silence must exceed a threshold that
// starts at a configured base, drops toward a floor when the transcript
// already reads as a finished thought, and rises after very short utterances
// (which are usually false starts). A hard ceiling bounds the wait: once
// silence reaches it, speech-end fires no matter what the words look like.
package endpoint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// EventType discriminates detector events.
type EventType int

const (
	// SpeechStart means the user began speaking.
	SpeechStart EventType = iota

	// PartialTranscript carries an interim transcript of in-progress speech.
	PartialTranscript

	// SpeechEnd means the utterance is complete. Text carries the final
	// transcript.
	SpeechEnd
)

// Event is one detector output.
type Event struct {
	Type EventType

	// Text is the transcript: interim for PartialTranscript, final for
	// SpeechEnd.
	Text string

	// Confidence is the provider's score for the transcript behind this
	// event; for SpeechEnd it is the last applied hypothesis's score.
	Confidence float64

	// Sequence is the transcript sequence number for PartialTranscript events.
	Sequence uint64

	// At is when the event was decided.
	At time.Time
}

// Config tunes the speech-end decision.
type Config struct {
	// BaseSilence is the starting silence threshold. Default: 700ms.
	BaseSilence time.Duration

	// MinSilence is the floor the threshold never drops below. Default: 200ms.
	MinSilence time.Duration

	// MaxSilence is the unconditional ceiling. Default: 2.5s.
	MaxSilence time.Duration

	// ShortUtteranceWords marks utterances below this word count as short,
	// raising the next threshold. Default: 3.
	ShortUtteranceWords int
}

func (c *Config) applyDefaults() {
	if c.BaseSilence <= 0 {
		c.BaseSilence = 700 * time.Millisecond
	}
	if c.MinSilence <= 0 {
		c.MinSilence = 200 * time.Millisecond
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = 2500 * time.Millisecond
	}
	if c.ShortUtteranceWords <= 0 {
		c.ShortUtteranceWords = 3
	}
}

// Detector fuses VAD and STT streams into turn-taking events.
// Create with [New], then call [Detector.Run] on its own goroutine.
type Detector struct {
	cfg         Config
	vad         <-chan types.VADEvent
	transcripts <-chan types.Transcript
	events      chan Event

	// Utterance state, owned by the Run goroutine.
	inSpeech   bool
	lastSeq    uint64
	partial    string
	finals     []string
	confidence float64
	lastShort  bool
	silenceAt  time.Time
	checkTimer *time.Timer
}

// New creates a Detector reading VAD events and transcripts from the given
// channels. Both partial and final transcripts arrive on transcripts,
// distinguished by [types.Transcript.IsFinal].
func New(cfg Config, vad <-chan types.VADEvent, transcripts <-chan types.Transcript) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:         cfg,
		vad:         vad,
		transcripts: transcripts,
		events:      make(chan Event, 16),
	}
}

// Events returns the detector's output stream. It stays open across turns and
// closes when Run returns.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Run processes inputs until ctx is cancelled or both input channels close.
func (d *Detector) Run(ctx context.Context) error {
	defer close(d.events)
	defer d.stopTimer()

	vad := d.vad
	transcripts := d.transcripts
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-vad:
			if !ok {
				vad = nil
				if transcripts == nil {
					return nil
				}
				continue
			}
			d.onVAD(ctx, ev)

		case t, ok := <-transcripts:
			if !ok {
				transcripts = nil
				if vad == nil {
					return nil
				}
				continue
			}
			d.onTranscript(ctx, t)

		case <-d.timerC():
			d.checkTimer = nil
			d.onSilenceCheck(ctx)
		}
	}
}

func (d *Detector) onVAD(ctx context.Context, ev types.VADEvent) {
	switch ev.Type {
	case types.VADSpeechStart:
		if !d.inSpeech {
			d.beginUtterance(ctx)
		}
		d.clearSilence()

	case types.VADSpeechContinue:
		if d.inSpeech {
			d.clearSilence()
		}

	case types.VADSpeechEnd, types.VADSilence:
		if d.inSpeech && d.silenceAt.IsZero() {
			d.silenceAt = time.Now()
			d.armTimer(d.threshold())
		}
	}
}

func (d *Detector) onTranscript(ctx context.Context, t types.Transcript) {
	// An utterance can reach us through STT before the VAD catches up.
	if !d.inSpeech {
		d.beginUtterance(ctx)
	}

	// Transcript sequence numbers only move forward within an utterance;
	// re-ordered or duplicate partials from the provider are dropped.
	if t.Sequence <= d.lastSeq {
		slog.Debug("dropping out-of-order transcript",
			"sequence", t.Sequence,
			"last_applied", d.lastSeq,
		)
		return
	}
	d.lastSeq = t.Sequence
	d.confidence = t.Confidence

	if t.IsFinal {
		if t.Text != "" {
			d.finals = append(d.finals, t.Text)
		}
		d.partial = ""
	} else {
		d.partial = t.Text
	}

	if !t.IsFinal && t.Text != "" {
		d.emit(ctx, Event{
			Type:       PartialTranscript,
			Text:       t.Text,
			Confidence: t.Confidence,
			Sequence:   t.Sequence,
			At:         time.Now(),
		})
	}

	// New words restart the completeness clock at the adapted threshold.
	if !d.silenceAt.IsZero() {
		d.armTimer(d.threshold() - time.Since(d.silenceAt))
	}
}

// onSilenceCheck fires when accumulated silence reaches the current
// threshold or the ceiling.
func (d *Detector) onSilenceCheck(ctx context.Context) {
	if !d.inSpeech || d.silenceAt.IsZero() {
		return
	}
	silence := time.Since(d.silenceAt)

	if silence >= d.cfg.MaxSilence {
		d.endUtterance(ctx, "ceiling")
		return
	}
	if silence >= d.threshold() && SemanticallyComplete(d.text()) {
		d.endUtterance(ctx, "semantic")
		return
	}

	// Not complete yet: wait for more words or the ceiling.
	d.armTimer(d.cfg.MaxSilence - silence)
}

// threshold returns the adaptive silence threshold for the current utterance.
func (d *Detector) threshold() time.Duration {
	th := d.cfg.BaseSilence
	if SemanticallyComplete(d.text()) {
		// The words already read as finished; cut the wait, but never below
		// the floor.
		th = th / 2
		if th < d.cfg.MinSilence {
			th = d.cfg.MinSilence
		}
	}
	if d.lastShort {
		th += d.cfg.BaseSilence / 2
		if th > d.cfg.MaxSilence {
			th = d.cfg.MaxSilence
		}
	}
	return th
}

func (d *Detector) beginUtterance(ctx context.Context) {
	d.inSpeech = true
	d.lastSeq = 0
	d.partial = ""
	d.finals = d.finals[:0]
	d.confidence = 0
	d.clearSilence()
	d.emit(ctx, Event{Type: SpeechStart, At: time.Now()})
}

func (d *Detector) endUtterance(ctx context.Context, cause string) {
	text := d.text()
	words := len(strings.Fields(text))
	d.lastShort = words > 0 && words < d.cfg.ShortUtteranceWords

	slog.Debug("speech end",
		"cause", cause,
		"words", words,
		"silence", time.Since(d.silenceAt).Round(time.Millisecond),
	)

	d.inSpeech = false
	d.clearSilence()
	d.emit(ctx, Event{Type: SpeechEnd, Text: text, Confidence: d.confidence, At: time.Now()})
}

// text returns the best transcript so far: confirmed finals plus the live
// partial tail.
func (d *Detector) text() string {
	parts := append([]string(nil), d.finals...)
	if d.partial != "" {
		parts = append(parts, d.partial)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (d *Detector) emit(ctx context.Context, ev Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

func (d *Detector) armTimer(in time.Duration) {
	d.stopTimer()
	if in < 0 {
		in = 0
	}
	d.checkTimer = time.NewTimer(in)
}

func (d *Detector) stopTimer() {
	if d.checkTimer != nil {
		d.checkTimer.Stop()
		d.checkTimer = nil
	}
}

func (d *Detector) clearSilence() {
	d.silenceAt = time.Time{}
	d.stopTimer()
}

func (d *Detector) timerC() <-chan time.Time {
	if d.checkTimer == nil {
		return nil
	}
	return d.checkTimer.C
}
