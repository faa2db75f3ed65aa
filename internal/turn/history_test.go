package turn

import (
	"fmt"
	"testing"
	"time"
)

func TestHistory_CountBound(t *testing.T) {
	h := NewHistory(3, time.Hour)
	now := time.Now()
	for i := 0; i < 5; i++ {
		h.Add(Turn{ID: fmt.Sprintf("turn-%d", i), StartedAt: now})
	}

	got := h.Recent()
	if len(got) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(got))
	}
	if got[0].ID != "turn-2" || got[2].ID != "turn-4" {
		t.Errorf("retained = [%s..%s], want [turn-2..turn-4]", got[0].ID, got[2].ID)
	}
}

func TestHistory_AgeEviction(t *testing.T) {
	h := NewHistory(10, time.Minute)
	base := time.Now()
	h.now = func() time.Time { return base }

	h.Add(Turn{ID: "old", StartedAt: base.Add(-2 * time.Minute)})
	h.Add(Turn{ID: "fresh", StartedAt: base.Add(-10 * time.Second)})

	got := h.Recent()
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("entries = %+v, want only the fresh turn", got)
	}
}

func TestHistory_MessagesTranscript(t *testing.T) {
	h := NewHistory(10, time.Hour)
	now := time.Now()
	h.Add(Turn{ID: "a", UserText: "hi", AssistantText: "hello!", StartedAt: now})
	h.Add(Turn{ID: "b", UserText: "broken", Failed: true, StartedAt: now})
	h.Add(Turn{ID: "c", UserText: "weather?", AssistantText: "it is", Interrupted: true, StartedAt: now})

	msgs := h.Messages()
	// Failed turn skipped; interrupted turn keeps its partial reply.
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[3].Role != "assistant" || msgs[3].Content != "it is" {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}
}
