package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

func testConfig() Config {
	return Config{
		BaseSilence:         80 * time.Millisecond,
		MinSilence:          20 * time.Millisecond,
		MaxSilence:          300 * time.Millisecond,
		ShortUtteranceWords: 3,
	}
}

type harness struct {
	vad         chan types.VADEvent
	transcripts chan types.Transcript
	detector    *Detector
	cancel      context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		vad:         make(chan types.VADEvent, 16),
		transcripts: make(chan types.Transcript, 16),
	}
	h.detector = New(cfg, h.vad, h.transcripts)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.detector.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// next reads one event or fails after timeout.
func (h *harness) next(t *testing.T, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-h.detector.Events():
		if !ok {
			t.Fatal("detector events channel closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for detector event")
		return Event{}
	}
}

func TestDetector_CompleteUtteranceEndsAtAdaptedThreshold(t *testing.T) {
	h := newHarness(t, testConfig())

	h.vad <- types.VADEvent{Type: types.VADSpeechStart}
	if ev := h.next(t, time.Second); ev.Type != SpeechStart {
		t.Fatalf("first event = %v, want SpeechStart", ev.Type)
	}

	h.transcripts <- types.Transcript{Text: "what is the weather in oslo?", Sequence: 1}
	if ev := h.next(t, time.Second); ev.Type != PartialTranscript {
		t.Fatalf("second event = %v, want PartialTranscript", ev.Type)
	}

	start := time.Now()
	h.vad <- types.VADEvent{Type: types.VADSpeechEnd}

	ev := h.next(t, time.Second)
	if ev.Type != SpeechEnd {
		t.Fatalf("event = %v, want SpeechEnd", ev.Type)
	}
	if ev.Text != "what is the weather in oslo?" {
		t.Errorf("final text = %q", ev.Text)
	}
	// A complete-sounding utterance ends before the unadapted base would
	// allow the ceiling to come anywhere near.
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Errorf("speech end took %v, want well under the ceiling", elapsed)
	}
}

func TestDetector_CeilingFiresWithoutSemanticSignal(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	h.vad <- types.VADEvent{Type: types.VADSpeechStart}
	h.next(t, time.Second) // SpeechStart

	// Trailing conjunction: never reads as complete.
	h.transcripts <- types.Transcript{Text: "i was wondering about the thing and", Sequence: 1}
	h.next(t, time.Second) // PartialTranscript

	start := time.Now()
	h.vad <- types.VADEvent{Type: types.VADSpeechEnd}

	ev := h.next(t, 2*time.Second)
	if ev.Type != SpeechEnd {
		t.Fatalf("event = %v, want SpeechEnd", ev.Type)
	}
	elapsed := time.Since(start)
	if elapsed < cfg.MaxSilence {
		t.Errorf("speech end after %v, want ≥ ceiling %v for an incomplete utterance", elapsed, cfg.MaxSilence)
	}
}

func TestDetector_DropsOutOfOrderPartials(t *testing.T) {
	h := newHarness(t, testConfig())

	h.vad <- types.VADEvent{Type: types.VADSpeechStart}
	h.next(t, time.Second) // SpeechStart

	h.transcripts <- types.Transcript{Text: "turn on", Sequence: 1}
	h.transcripts <- types.Transcript{Text: "turn on the lights", Sequence: 3}
	h.transcripts <- types.Transcript{Text: "turn on the", Sequence: 2} // stale, must be dropped
	h.transcripts <- types.Transcript{Text: "turn on the lights", Sequence: 3, IsFinal: true}

	var partials []Event
	for i := 0; i < 2; i++ {
		ev := h.next(t, time.Second)
		if ev.Type != PartialTranscript {
			t.Fatalf("event %d = %v, want PartialTranscript", i, ev.Type)
		}
		partials = append(partials, ev)
	}
	if partials[0].Sequence != 1 || partials[1].Sequence != 3 {
		t.Errorf("partial sequences = [%d %d], want [1 3]", partials[0].Sequence, partials[1].Sequence)
	}

	// The stale seq-2 partial must not surface.
	select {
	case ev := <-h.detector.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Note: the duplicate seq-3 final above is also dropped (sequence did
	// not advance), so the utterance text comes from the applied partial.
	h.vad <- types.VADEvent{Type: types.VADSpeechEnd}
	ev := h.next(t, 2*time.Second)
	if ev.Type != SpeechEnd {
		t.Fatalf("event = %v, want SpeechEnd", ev.Type)
	}
	if ev.Text != "turn on the lights" {
		t.Errorf("final text = %q, want %q", ev.Text, "turn on the lights")
	}
}

func TestDetector_SpeechResumeCancelsPendingEnd(t *testing.T) {
	h := newHarness(t, testConfig())

	h.vad <- types.VADEvent{Type: types.VADSpeechStart}
	h.next(t, time.Second)
	h.transcripts <- types.Transcript{Text: "tell me about go.", Sequence: 1}
	h.next(t, time.Second)

	h.vad <- types.VADEvent{Type: types.VADSpeechEnd}
	// Speech resumes immediately; the pending silence deadline must be
	// abandoned.
	h.vad <- types.VADEvent{Type: types.VADSpeechStart}

	select {
	case ev := <-h.detector.Events():
		t.Fatalf("unexpected event after speech resumed: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDetector_EventStreamSpansTurns(t *testing.T) {
	h := newHarness(t, testConfig())

	for turn := 0; turn < 2; turn++ {
		h.vad <- types.VADEvent{Type: types.VADSpeechStart}
		if ev := h.next(t, time.Second); ev.Type != SpeechStart {
			t.Fatalf("turn %d: event = %v, want SpeechStart", turn, ev.Type)
		}
		h.transcripts <- types.Transcript{Text: "stop the music.", Sequence: 1, IsFinal: true}
		h.vad <- types.VADEvent{Type: types.VADSpeechEnd}
		if ev := h.next(t, 2*time.Second); ev.Type != SpeechEnd {
			t.Fatalf("turn %d: event = %v, want SpeechEnd", turn, ev.Type)
		}
	}
}

func TestSemanticallyComplete(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"what is the weather in oslo?", true},
		{"turn off the lights.", true},
		{"tell me a story", true},              // imperative shape
		{"where is the nearest station", true}, // question shape, no punctuation
		{"i was thinking about and", false},
		{"so i wanted to", false},
		{"the weather is nice but", false},
		{"um", false},
		{"play some jazz!", true},
	}
	for _, tt := range tests {
		if got := SemanticallyComplete(tt.text); got != tt.want {
			t.Errorf("SemanticallyComplete(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDetector_EventsCarryConfidence(t *testing.T) {
	h := newHarness(t, testConfig())

	h.vad <- types.VADEvent{Type: types.VADSpeechStart}
	if ev := h.next(t, time.Second); ev.Type != SpeechStart {
		t.Fatalf("first event = %v, want SpeechStart", ev.Type)
	}

	h.transcripts <- types.Transcript{Text: "set a", Confidence: 0.41, Sequence: 1}
	ev := h.next(t, time.Second)
	if ev.Type != PartialTranscript || ev.Confidence != 0.41 {
		t.Fatalf("event = %+v, want partial with confidence 0.41", ev)
	}

	h.transcripts <- types.Transcript{Text: "set a timer.", Confidence: 0.93, Sequence: 2, IsFinal: true}
	h.vad <- types.VADEvent{Type: types.VADSpeechEnd}

	ev = h.next(t, time.Second)
	if ev.Type != SpeechEnd {
		t.Fatalf("event = %v, want SpeechEnd", ev.Type)
	}
	// Speech-end carries the score of the last applied hypothesis.
	if ev.Confidence != 0.93 {
		t.Errorf("speech-end confidence = %v, want 0.93", ev.Confidence)
	}
}
