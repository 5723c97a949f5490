// Package mock provides a test double for the vad package interfaces.
//
// Script per-frame results with EventResult or a Script queue, then inspect
// the recorded calls to verify what the caller fed in.
package mock

import (
	"sync"

	"github.com/MrWong99/alicecore/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned from NewSession. When nil a fresh Session is
	// created per call.
	Session *Session

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records the config of every call in order.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns the configured session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventResult is returned from ProcessFrame when Script is exhausted.
	EventResult vad.Event

	// Script is a queue of events returned one per ProcessFrame call.
	Script []vad.Event

	// ProcessFrameErr, if non-nil, is returned from ProcessFrame.
	ProcessFrameErr error

	// ProcessFrameCalls records a copy of every frame in order.
	ProcessFrameCalls [][]byte

	// ResetCallCount counts Reset invocations.
	ResetCallCount int

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

// ProcessFrame records the frame and returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, cp)
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	if len(s.Script) > 0 {
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return s.EventResult, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Frames returns a snapshot of the recorded frames.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.ProcessFrameCalls))
	copy(out, s.ProcessFrameCalls)
	return out
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
