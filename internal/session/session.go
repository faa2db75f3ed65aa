// Package session runs one cancellable generation against the reasoning
// backend.
//
// A [Session] owns the conversation state of a single answer: it streams the
// provider's output as [Event] values, suspends itself when the model
// requests tool calls, and resumes once the dispatcher delivers results. Its
// defining property is cancellation: after [Session.Cancel] returns, no
// further event is emitted and no pending tool-call request surfaces, no
// matter how many provider chunks are still in flight. The barge-in
// coordinator depends on that guarantee.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/parley-ai/parley/pkg/provider/llm"
	"github.com/parley-ai/parley/pkg/types"
)

// ErrCancelled is returned by [Session.Resume] after the session was
// cancelled.
var ErrCancelled = errors.New("session: cancelled")

// EventType discriminates the [Event] union.
type EventType int

const (
	// EventText carries an incremental text fragment.
	EventText EventType = iota

	// EventAudio carries synthesized speech bytes from speech-native models.
	EventAudio

	// EventToolCalls means the model suspended itself waiting for tool
	// results. The session emits nothing further until [Session.Resume].
	EventToolCalls

	// EventDone means generation completed naturally. Terminal.
	EventDone

	// EventErr means the backend failed fatally. Terminal.
	EventErr
)

// Event is one output of a generation session.
type Event struct {
	Type      EventType
	Text      string
	Audio     []byte
	ToolCalls []types.ToolCall
	Err       error
}

// Session is a single cancellable generation. Create with [New]; it starts
// streaming immediately.
type Session struct {
	provider llm.Provider
	events   chan Event

	cancelled atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	messages  []types.Message
	tools     []types.ToolDefinition
	sysPrompt string
	cancels   []context.CancelFunc
}

// New starts a generation session for req. Events are delivered on
// [Session.Events] until a terminal event or cancellation.
func New(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) *Session {
	s := &Session{
		provider:  provider,
		events:    make(chan Event, 64),
		messages:  append([]types.Message(nil), req.Messages...),
		tools:     req.Tools,
		sysPrompt: req.SystemPrompt,
	}
	s.start(ctx)
	return s
}

// Events returns the session's output channel. It is closed after a terminal
// event. After Cancel the channel goes permanently silent; it is not
// guaranteed to close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Cancel stops the session. Idempotent: only the first call has effect. After
// Cancel returns no event will be emitted, including for provider chunks
// already in flight.
func (s *Session) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	slog.Debug("generation session cancelled")
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Resume continues a session suspended on tool calls by appending the tool
// results to the conversation and starting the next provider stream. It is a
// silent no-op (returning [ErrCancelled]) after Cancel — late tool results
// must never revive a cancelled answer.
func (s *Session) Resume(ctx context.Context, results []types.Message) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	s.mu.Lock()
	s.messages = append(s.messages, results...)
	s.mu.Unlock()

	// A cancel that raced the append above is caught by the emit checks in
	// the new stream.
	s.start(ctx)
	return nil
}

// start launches one provider stream over the current conversation.
func (s *Session) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	messages := append([]types.Message(nil), s.messages...)
	s.mu.Unlock()

	if s.cancelled.Load() {
		cancel()
		return
	}

	go s.run(runCtx, cancel, messages)
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, messages []types.Message) {
	defer cancel()

	stream, err := s.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		Tools:        s.tools,
		SystemPrompt: s.sysPrompt,
	})
	if err != nil {
		s.emit(ctx, Event{Type: EventErr, Err: fmt.Errorf("session: start stream: %w", err)})
		s.closeEvents()
		return
	}

	var text strings.Builder
	for chunk := range stream {
		// Checked before every emission: a cancelled session must swallow
		// in-flight chunks rather than forward them.
		if s.cancelled.Load() {
			drain(stream)
			return
		}

		if chunk.Text != "" && chunk.FinishReason != llm.FinishError {
			text.WriteString(chunk.Text)
			if !s.emit(ctx, Event{Type: EventText, Text: chunk.Text}) {
				drain(stream)
				return
			}
		}
		if len(chunk.Audio) > 0 {
			if !s.emit(ctx, Event{Type: EventAudio, Audio: chunk.Audio}) {
				drain(stream)
				return
			}
		}

		switch chunk.FinishReason {
		case "":
			continue

		case "tool_calls":
			s.appendAssistant(text.String(), chunk.ToolCalls)
			if !s.emit(ctx, Event{Type: EventToolCalls, ToolCalls: chunk.ToolCalls}) {
				drain(stream)
				return
			}
			// Suspended: the channel stays open for Resume.
			drain(stream)
			return

		case llm.FinishError:
			s.emit(ctx, Event{Type: EventErr, Err: fmt.Errorf("session: backend: %s", chunk.Text)})
			s.closeEvents()
			drain(stream)
			return

		default: // "stop", "length"
			s.appendAssistant(text.String(), nil)
			s.emit(ctx, Event{Type: EventDone})
			s.closeEvents()
			drain(stream)
			return
		}
	}

	// Stream closed without a finish reason (context cancellation path).
	if !s.cancelled.Load() {
		s.emit(ctx, Event{Type: EventDone})
		s.closeEvents()
	}
}

// emit delivers ev unless the session is cancelled. Reports whether the event
// was sent.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	if s.cancelled.Load() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) appendAssistant(text string, calls []types.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, types.Message{
		Role:      "assistant",
		Content:   text,
		ToolCalls: calls,
	})
}

// Messages returns a copy of the conversation accumulated so far, including
// the assistant turns this session produced. Used by the controller to
// archive the turn.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.messages...)
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

func drain(stream <-chan llm.Chunk) {
	for range stream {
	}
}
