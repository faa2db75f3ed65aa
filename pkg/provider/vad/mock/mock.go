// Package mock provides a scriptable mock implementation of the [vad.Engine]
// and [vad.SessionHandle] interfaces for unit tests.
package mock

import (
	"sync"

	"github.com/parley-ai/parley/pkg/provider/vad"
	"github.com/parley-ai/parley/pkg/types"
)

// Engine is a mock [vad.Engine] that returns a pre-constructed session.
type Engine struct {
	// Session is returned by NewSession. If nil, a fresh empty Session is
	// created per call.
	Session *Session

	// NewSessionError, when non-nil, is returned by NewSession.
	NewSessionError error
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	if e.NewSessionError != nil {
		return nil, e.NewSessionError
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock [vad.SessionHandle]. Queue events with Script; each
// ProcessFrame call pops the next one. When the script is exhausted,
// ProcessFrame returns a silence event.
type Session struct {
	mu sync.Mutex

	// script holds the queued events.
	script []types.VADEvent

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Script appends events to be returned by subsequent ProcessFrame calls.
func (s *Session) Script(events ...types.VADEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, events...)
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame([]byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return types.VADEvent{Type: types.VADSilence}, nil
	}
	ev := s.script[0]
	s.script = s.script[1:]
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
