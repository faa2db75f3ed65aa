package observe

import (
	"sync"
	"time"
)

// defaultRecorderCapacity bounds how many finished turn records are retained.
const defaultRecorderCapacity = 256

// PhaseStamp records one turn state transition.
type PhaseStamp struct {
	// Phase is the state entered (e.g., "listening_partial", "thinking").
	Phase string

	// At is when the transition happened.
	At time.Time
}

// ToolStamp records the outcome of one tool call within a turn.
type ToolStamp struct {
	// CallID is the tool call identifier assigned by the generation session.
	CallID string

	// Tool is the tool name.
	Tool string

	// Outcome is the terminal status: "success", "validation",
	// "transient", "unavailable", "cancelled", or "confirmation-required".
	Outcome string

	// Attempts is how many executor attempts were made.
	Attempts int

	// Latency is the total dispatch latency including retries.
	Latency time.Duration
}

// TurnRecord is the per-turn metrics record exposed to external
// collaborators: phase timestamps for each state transition, tool-call
// latencies and outcomes, and the interrupted flag.
type TurnRecord struct {
	TurnID      string
	Phases      []PhaseStamp
	ToolCalls   []ToolStamp
	Interrupted bool
	Failed      bool
}

// Recorder timestamps turn phase transitions and tool-call outcomes into
// bounded in-memory records. Finished records are retained in a ring of
// fixed capacity; the oldest record is evicted when the ring is full.
//
// All methods are safe for concurrent use.
type Recorder struct {
	capacity int

	mu       sync.Mutex
	active   map[string]*TurnRecord
	finished []TurnRecord // oldest first
}

// NewRecorder creates a Recorder retaining at most capacity finished
// records. capacity ≤ 0 means the default (256).
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{
		capacity: capacity,
		active:   make(map[string]*TurnRecord),
	}
}

// Begin opens a record for turnID. Calling Begin twice for the same id is a
// no-op; the original record survives.
func (r *Recorder) Begin(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[turnID]; ok {
		return
	}
	r.active[turnID] = &TurnRecord{TurnID: turnID}
}

// Phase stamps a state transition on the active record for turnID.
// Unknown turn ids are ignored.
func (r *Recorder) Phase(turnID, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[turnID]
	if !ok {
		return
	}
	rec.Phases = append(rec.Phases, PhaseStamp{Phase: phase, At: time.Now()})
}

// Tool appends a tool-call outcome to the active record for turnID.
// Unknown turn ids are ignored.
func (r *Recorder) Tool(turnID string, stamp ToolStamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[turnID]
	if !ok {
		return
	}
	rec.ToolCalls = append(rec.ToolCalls, stamp)
}

// End finalises the record for turnID and moves it into the bounded ring.
// Unknown turn ids are ignored.
func (r *Recorder) End(turnID string, interrupted, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[turnID]
	if !ok {
		return
	}
	delete(r.active, turnID)
	rec.Interrupted = interrupted
	rec.Failed = failed

	r.finished = append(r.finished, *rec)
	if len(r.finished) > r.capacity {
		// Copy to a fresh backing array so evicted records do not pin memory.
		trimmed := make([]TurnRecord, r.capacity)
		copy(trimmed, r.finished[len(r.finished)-r.capacity:])
		r.finished = trimmed
	}
}

// Snapshot returns a copy of all finished records, oldest first.
func (r *Recorder) Snapshot() []TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TurnRecord, len(r.finished))
	copy(out, r.finished)
	return out
}
