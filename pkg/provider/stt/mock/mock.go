// Package mock provides channel-driven mock implementations of the
// [stt.Provider] and [stt.SessionHandle] interfaces for unit tests.
//
// Tests push transcripts through [Session.EmitPartial] and
// [Session.EmitFinal]; sequence numbers are stamped automatically so tests
// exercise the same ordering contract as real providers. Out-of-order
// delivery can be simulated by setting Sequence explicitly before emitting.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/stt"
	"github.com/parley-ai/parley/pkg/types"
)

// Provider is a mock [stt.Provider] returning a pre-constructed session.
type Provider struct {
	// Session is returned by StartStream. If nil, a fresh session is created.
	Session *Session

	// StartStreamError, when non-nil, is returned by StartStream.
	StartStreamError error

	mu              sync.Mutex
	startStreamCfgs []stt.StreamConfig
}

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.startStreamCfgs = append(p.startStreamCfgs, cfg)
	p.mu.Unlock()

	if p.StartStreamError != nil {
		return nil, p.StartStreamError
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// StartStreamCalls returns the configs passed to StartStream, in order.
func (p *Provider) StartStreamCalls() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.StreamConfig, len(p.startStreamCfgs))
	copy(out, p.startStreamCfgs)
	return out
}

// Session is a mock [stt.SessionHandle].
type Session struct {
	partials chan types.Transcript
	finals   chan types.Transcript

	mu     sync.Mutex
	seq    uint64
	audio  [][]byte
	closed bool
}

// NewSession creates a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
	}
}

// EmitPartial pushes an interim transcript. A zero Sequence is replaced with
// the next session sequence number.
func (s *Session) EmitPartial(t types.Transcript) {
	t.IsFinal = false
	s.stamp(&t)
	s.partials <- t
}

// EmitFinal pushes an authoritative transcript. A zero Sequence is replaced
// with the next session sequence number.
func (s *Session) EmitFinal(t types.Transcript) {
	t.IsFinal = true
	s.stamp(&t)
	s.finals <- t
}

func (s *Session) stamp(t *types.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if t.Sequence == 0 {
		t.Sequence = s.seq
	}
}

// SendAudio implements [stt.SessionHandle], recording the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// SentAudio returns every chunk passed to SendAudio.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// Partials implements [stt.SessionHandle].
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals implements [stt.SessionHandle].
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// Close implements [stt.SessionHandle]. The first call closes both channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)
