// Package turn owns the conversation's turn-taking state machine.
//
// A [Turn] is one round of the conversation: the user speaks, the assistant
// thinks (possibly calling tools), the assistant speaks, and the turn ends —
// completed, interrupted, or failed. The [Controller] is the sole mutator of
// turn state; every input (endpointing events, generation events, tool
// results, barge-in signals) arrives on a channel and is applied by its
// single goroutine, so no lock ever guards a state transition.
package turn

import (
	"time"
)

// State is the turn state machine position.
type State int

const (
	// StateIdle means no turn is in progress.
	StateIdle State = iota

	// StateListeningPartial means the user is speaking and interim
	// transcripts are arriving.
	StateListeningPartial

	// StateListeningFinal means speech has ended and the final transcript is
	// being settled.
	StateListeningFinal

	// StateThinking means the generation session is running but no output
	// has been produced yet (tool calls may be in flight).
	StateThinking

	// StateSpeaking means output is streaming to the user.
	StateSpeaking

	// StateInterrupted means the user barged in; the turn is being torn down.
	StateInterrupted
)

// String returns the snake_case name used in logs and phase stamps.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListeningPartial:
		return "listening_partial"
	case StateListeningFinal:
		return "listening_final"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Fragment is one interim transcript hypothesis applied to a turn.
type Fragment struct {
	// Text is the hypothesis at this point of the utterance.
	Text string

	// Confidence is the provider's score for the hypothesis.
	Confidence float64

	// Sequence is the hypothesis sequence number. Fragments within a turn
	// are ordered by it and never regress.
	Sequence uint64
}

// Turn is one conversation round.
type Turn struct {
	// ID is unique within the process ("turn-7").
	ID string

	// UserText is the user's utterance. For interrupted-turn successors it
	// starts seeded with the partial transcript that triggered the barge-in.
	UserText string

	// Fragments are the interim hypotheses applied while listening, in
	// sequence order.
	Fragments []Fragment

	// AssistantText accumulates the generated reply.
	AssistantText string

	// StartedAt is when the turn opened (speech start).
	StartedAt time.Time

	// SpeechEndedAt is when endpointing confirmed the utterance.
	SpeechEndedAt time.Time

	// Interrupted marks a turn torn down by a barge-in.
	Interrupted bool

	// Failed marks a turn ended by a fatal backend error.
	Failed bool
}

// addFragment appends f to the turn's hypothesis record. A fragment whose
// sequence does not advance past the last applied one is dropped; the report
// says whether f was applied.
func (t *Turn) addFragment(f Fragment) bool {
	if n := len(t.Fragments); n > 0 && f.Sequence <= t.Fragments[n-1].Sequence {
		return false
	}
	t.Fragments = append(t.Fragments, f)
	return true
}
