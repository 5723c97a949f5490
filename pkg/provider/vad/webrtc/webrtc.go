// Package webrtc implements vad.Engine on the WebRTC voice activity
// detector via github.com/maxhawkins/go-webrtcvad.
//
// The WebRTC VAD is a lightweight GMM classifier that only yields a boolean
// per frame; probabilities in the emitted events are therefore 0 or 1. It
// accepts 10, 20 or 30 ms frames at 8, 16, 32 or 48 kHz.
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/alicecore/pkg/provider/vad"
)

// Engine implements vad.Engine.
type Engine struct{}

// New creates the engine.
func New() *Engine {
	return &Engine{}
}

var validRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}
var validFrameMs = map[int]bool{10: true, 20: true, 30: true}

// NewSession opens a classification session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !validRates[cfg.SampleRate] {
		return nil, fmt.Errorf("webrtc: unsupported sample rate %d (want 8000, 16000, 32000 or 48000)", cfg.SampleRate)
	}
	if !validFrameMs[cfg.FrameSizeMs] {
		return nil, fmt.Errorf("webrtc: unsupported frame size %dms (want 10, 20 or 30)", cfg.FrameSizeMs)
	}

	inner, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc: create detector: %w", err)
	}

	mode := cfg.Aggressiveness
	if mode < 0 {
		mode = 0
	} else if mode > 3 {
		mode = 3
	}
	if err := inner.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc: set mode %d: %w", mode, err)
	}

	return &session{
		inner:      inner,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// session implements vad.SessionHandle. Not safe for concurrent use.
type session struct {
	inner      *webrtcvad.VAD
	sampleRate int
	frameBytes int
	inSegment  bool
	closed     bool
}

// ProcessFrame classifies one frame.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("webrtc: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("webrtc: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	voiced, err := s.inner.Process(s.sampleRate, frame)
	if err != nil {
		return vad.Event{}, fmt.Errorf("webrtc: process frame: %w", err)
	}

	ev := vad.Event{}
	switch {
	case voiced && !s.inSegment:
		ev.Type = vad.SpeechStart
	case voiced:
		ev.Type = vad.SpeechContinue
	case s.inSegment:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	if voiced {
		ev.Probability = 1
	}
	s.inSegment = voiced
	return ev, nil
}

// Reset clears the segment flag.
func (s *session) Reset() {
	s.inSegment = false
}

// Close marks the session closed. The underlying detector has no resources
// to release.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
