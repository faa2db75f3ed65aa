package turn

import (
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// History archives completed turns, bounded by both count and age. It feeds
// the conversation context of subsequent generation sessions.
// Safe for concurrent use.
type History struct {
	max    int
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries []Turn // oldest first
}

// NewHistory creates a History keeping at most max turns, each for at most
// maxAge. Non-positive values mean 64 turns / 30 minutes.
func NewHistory(max int, maxAge time.Duration) *History {
	if max <= 0 {
		max = 64
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &History{max: max, maxAge: maxAge, now: time.Now}
}

// Add archives a finished turn and evicts anything over the bounds.
func (h *History) Add(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, t)
	h.evictLocked()
}

// Recent returns the archived turns, oldest first, after age eviction.
func (h *History) Recent() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.evictLocked()
	out := make([]Turn, len(h.entries))
	copy(out, h.entries)
	return out
}

// Messages renders the archive as a conversation transcript for the
// reasoning backend. Interrupted turns keep whatever the assistant managed
// to say; failed turns are skipped entirely.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.evictLocked()
	msgs := make([]types.Message, 0, 2*len(h.entries))
	for _, t := range h.entries {
		if t.Failed {
			continue
		}
		if t.UserText != "" {
			msgs = append(msgs, types.Message{Role: "user", Content: t.UserText})
		}
		if t.AssistantText != "" {
			msgs = append(msgs, types.Message{Role: "assistant", Content: t.AssistantText})
		}
	}
	return msgs
}

// evictLocked drops entries beyond the count bound or older than maxAge.
// Surviving entries move to a fresh backing array so evicted turns do not pin
// memory. Must be called with h.mu held.
func (h *History) evictLocked() {
	cutoff := h.now().Add(-h.maxAge)
	first := 0
	for first < len(h.entries) && h.entries[first].StartedAt.Before(cutoff) {
		first++
	}
	if over := (len(h.entries) - first) - h.max; over > 0 {
		first += over
	}
	if first > 0 {
		trimmed := make([]Turn, len(h.entries)-first)
		copy(trimmed, h.entries[first:])
		h.entries = trimmed
	}
}
