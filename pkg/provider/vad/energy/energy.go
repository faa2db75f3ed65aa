// Package energy implements a lightweight RMS-energy voice activity detector.
//
// It classifies each frame by its root-mean-square amplitude relative to a
// rolling noise-floor estimate, with hangover frames to smooth short pauses.
// It is not a substitute for a model-based VAD in noisy rooms, but it keeps
// the full pipeline runnable in tests and local development without an
// external inference engine.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/parley-ai/parley/pkg/provider/vad"
	"github.com/parley-ai/parley/pkg/types"
)

const (
	// noiseAdapt is the exponential smoothing factor for the noise-floor
	// estimate while in silence.
	noiseAdapt = 0.05

	// defaultHangover is how many consecutive sub-threshold frames must pass
	// before an active segment is considered ended.
	defaultHangover = 8
)

// Engine creates RMS-energy VAD sessions. The zero value is ready for use.
type Engine struct {
	// Hangover overrides the number of sub-threshold frames tolerated before
	// speech-end. Zero means the default (8).
	Hangover int
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v exceeds speech threshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	hangover := e.Hangover
	if hangover <= 0 {
		hangover = defaultHangover
	}

	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2 // 16-bit mono PCM
	return &session{
		cfg:        cfg,
		frameBytes: frameBytes,
		hangover:   hangover,
		noiseFloor: 1e-4,
	}, nil
}

// session holds per-stream detection state. Not safe for concurrent use —
// callers drive it from a single ingest goroutine, matching the
// [vad.SessionHandle] contract.
type session struct {
	cfg        vad.Config
	frameBytes int
	hangover   int

	noiseFloor float64
	inSpeech   bool
	quietRun   int
	closed     bool
}

var errClosed = errors.New("energy: session closed")

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	if s.closed {
		return types.VADEvent{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := frameRMS(frame)

	// Track the noise floor only while quiet so speech does not inflate it.
	if !s.inSpeech {
		s.noiseFloor = (1-noiseAdapt)*s.noiseFloor + noiseAdapt*rms
	}

	// Map the energy-over-floor ratio onto a pseudo-probability.
	ratio := rms / (s.noiseFloor + 1e-9)
	prob := ratio / (ratio + 4)

	switch {
	case !s.inSpeech && prob >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.quietRun = 0
		return types.VADEvent{Type: types.VADSpeechStart, Probability: prob}, nil

	case s.inSpeech && prob < s.cfg.SilenceThreshold:
		s.quietRun++
		if s.quietRun >= s.hangover {
			s.inSpeech = false
			s.quietRun = 0
			return types.VADEvent{Type: types.VADSpeechEnd, Probability: prob}, nil
		}
		// Inside the hangover window speech is still considered ongoing.
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}, nil

	case s.inSpeech:
		s.quietRun = 0
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}, nil

	default:
		return types.VADEvent{Type: types.VADSilence, Probability: prob}, nil
	}
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.inSpeech = false
	s.quietRun = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closed = true
	return nil
}

// frameRMS computes the normalised RMS amplitude of a 16-bit LE PCM frame.
func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
