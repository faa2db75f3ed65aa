// Package audio defines the contracts between Parley and the external media
// transport. The core treats audio as opaque byte streams: frames arrive from
// the room on a channel, synthesized output is pushed to an [OutputStream].
//
// The media room itself (codecs, network framing, participant management) is
// an external collaborator — Parley only requires start/stop/flush control
// over the output side so that barge-in can halt playback mid-utterance.
package audio

import (
	"context"

	"github.com/parley-ai/parley/pkg/types"
)

// InputSource delivers captured audio frames from the media room. Frames are
// pushed asynchronously; the core must never block the producer.
type InputSource interface {
	// Frames returns the channel on which captured frames arrive. The channel
	// is closed when the source disconnects.
	Frames() <-chan types.AudioFrame

	// Close disconnects from the media room. Safe to call more than once.
	Close() error
}

// OutputStream accepts synthesized audio for playback in the media room.
//
// Implementations must be safe for concurrent use: the generation session
// writes frames while the barge-in coordinator may call Flush from another
// goroutine.
type OutputStream interface {
	// Write queues a frame for playback. It returns promptly; implementations
	// buffer internally. Returns an error if the stream is closed.
	Write(ctx context.Context, frame types.AudioFrame) error

	// Flush discards all queued, not-yet-played audio. Used by the barge-in
	// coordinator to stop the assistant's voice within the recovery budget.
	// Flush must take effect without waiting for queued frames to play out.
	Flush() error

	// Close ends the stream. Queued audio is dropped. Safe to call more than
	// once; subsequent calls return nil.
	Close() error
}

// Discard is an OutputStream that drops every frame. Used when the daemon
// runs without a media room attached.
var Discard OutputStream = discard{}

type discard struct{}

func (discard) Write(context.Context, types.AudioFrame) error { return nil }

func (discard) Flush() error { return nil }

func (discard) Close() error { return nil }
