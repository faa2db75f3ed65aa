// Package mock provides in-memory mock implementations of the
// [audio.InputSource] and [audio.OutputStream] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and timing — in particular
// [OutputStream.FlushedAt] lets barge-in tests measure recovery latency.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/types"
)

// ErrClosed is returned by [OutputStream.Write] after Close.
var ErrClosed = errors.New("mock: output stream closed")

// InputSource is a mock implementation of [audio.InputSource]. Push frames
// into Ch from the test; close it to simulate disconnection.
type InputSource struct {
	// Ch is the channel returned by Frames. Created by NewInputSource.
	Ch chan types.AudioFrame

	mu     sync.Mutex
	closed bool
}

// NewInputSource creates an InputSource with a buffered frame channel.
func NewInputSource(buf int) *InputSource {
	return &InputSource{Ch: make(chan types.AudioFrame, buf)}
}

// Frames implements [audio.InputSource].
func (s *InputSource) Frames() <-chan types.AudioFrame { return s.Ch }

// Close implements [audio.InputSource]. The first call closes Ch.
func (s *InputSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
	return nil
}

// OutputStream is a mock implementation of [audio.OutputStream].
// Inspect the exported fields after the code under test has run.
type OutputStream struct {
	mu sync.Mutex

	// Written holds every frame passed to Write, in order.
	Written []types.AudioFrame

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// FlushedAt records the wall-clock time of each Flush call.
	FlushedAt []time.Time

	// WriteError, when non-nil, is returned by every Write call.
	WriteError error

	closed bool
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(_ context.Context, frame types.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.WriteError != nil {
		return s.WriteError
	}
	s.Written = append(s.Written, frame)
	return nil
}

// Flush implements [audio.OutputStream]. It drops recorded frames and stamps
// the call time.
func (s *OutputStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	s.FlushedAt = append(s.FlushedAt, time.Now())
	s.Written = nil
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// WrittenCount returns the number of frames currently recorded. Safe to call
// concurrently with Write.
func (s *OutputStream) WrittenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Written)
}

// Compile-time interface checks.
var (
	_ audio.InputSource  = (*InputSource)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
)
