// Package stt defines the Provider interface for streaming transcription
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw PCM audio and emits two streams of Transcript
// values — low-latency partials that drive endpointing and authoritative
// finals that seed the generation prompt.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction. Every emitted
// Transcript carries a monotonically increasing Sequence number; consumers
// rely on it to reject out-of-order or duplicated hypotheses.
package stt

import (
	"context"

	"github.com/parley-ai/parley/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000, 48000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open streaming transcription session.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the StreamConfig audio format.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. These drive the endpointing detector but must not be
	// treated as authoritative. The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result.
	// The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any streaming transcription backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns the
	// handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
