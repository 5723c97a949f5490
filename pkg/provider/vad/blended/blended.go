// Package blended implements vad.Engine on the pipeline's built-in detector,
// which blends RMS energy, zero-crossing rate and spectral centroid into a
// smoothed per-frame confidence with hysteresis.
package blended

import (
	"fmt"

	dspvad "github.com/MrWong99/alicecore/internal/dsp/vad"
	"github.com/MrWong99/alicecore/pkg/audio"
	"github.com/MrWong99/alicecore/pkg/provider/vad"
)

// Engine implements vad.Engine.
type Engine struct{}

// New creates the engine.
func New() *Engine {
	return &Engine{}
}

// NewSession opens a classification session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("blended: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("blended: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}

	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = 0.5
	}

	frameSamples := cfg.SampleRate * cfg.FrameSizeMs / 1000
	det := dspvad.New(dspvad.Config{
		SampleRate:          cfg.SampleRate,
		WindowSamples:       frameSamples,
		ActivationThreshold: threshold,
	})

	return &session{
		detector:   det,
		sampleRate: cfg.SampleRate,
		frameBytes: frameSamples * 2,
	}, nil
}

// session implements vad.SessionHandle. Not safe for concurrent use.
type session struct {
	detector   *dspvad.Detector
	sampleRate int
	frameBytes int
	inSegment  bool
	closed     bool
}

// ProcessFrame classifies one frame. The analysis window equals the frame
// size, so every call yields exactly one result.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("blended: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("blended: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	results := s.detector.ProcessAudio(audio.Frame{
		PCM:        frame,
		SampleRate: s.sampleRate,
		Channels:   1,
	})
	if len(results) == 0 {
		return vad.Event{}, fmt.Errorf("blended: frame produced no analysis window")
	}
	r := results[len(results)-1]

	ev := vad.Event{Probability: r.Confidence}
	switch {
	case r.VoiceActive && !s.inSegment:
		ev.Type = vad.SpeechStart
	case r.VoiceActive:
		ev.Type = vad.SpeechContinue
	case s.inSegment:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	s.inSegment = r.VoiceActive
	return ev, nil
}

// Reset clears detector and segment state.
func (s *session) Reset() {
	s.detector.Reset()
	s.inSegment = false
}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
