// Package llm defines the Provider interface for reasoning backends.
//
// A provider wraps a remote or local model API and exposes a uniform
// streaming interface: one call yields an ordered channel of chunks carrying
// text, synthesized audio (for speech-native models), and tool-call requests.
// The generation session layers cancellation and suspend/resume semantics on
// top; the provider only has to honour context cancellation promptly and
// close its channel when the stream ends.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/parley-ai/parley/pkg/types"
)

// FinishError is the FinishReason carried by the terminal chunk when the
// backend failed mid-stream. The chunk's Text holds the error message.
const FinishError = "error"

// CompletionRequest carries everything the reasoning backend needs to produce
// a response. At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, audio, a finish signal, tool calls, or any combination.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// Audio is synthesized speech bytes for speech-native backends. Nil for
	// text-only models.
	Audio []byte

	// FinishReason is set on the final chunk and indicates why generation
	// stopped: "stop" (natural end), "length" (MaxTokens reached),
	// "tool_calls" (model wants tools run), [FinishError] (backend failure),
	// or "" (non-final chunk).
	FinishReason string

	// ToolCalls contains any tool invocations the model is requesting,
	// fully accumulated — implementations must assemble streamed fragments
	// before emitting them here.
	ToolCalls []types.ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the
	// model responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []types.ToolCall
}

// Provider is the abstraction over any reasoning backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible — the barge-in recovery budget depends on it.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason [FinishError]; the initial error return is non-nil only
	// for failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It is
	// a convenience wrapper for callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
