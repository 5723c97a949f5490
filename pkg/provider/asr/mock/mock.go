// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to verify that sessions are opened with the expected
// StreamConfig. Use Session to inject transcripts and inspect the audio that
// was pushed.
//
// Example:
//
//	sess := mock.NewSession()
//	prov := &mock.Provider{Session: sess}
//	handle, _ := prov.StartStream(ctx, cfg)
//	sess.EmitFinal(asr.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/alicecore/pkg/provider/asr"
)

// StartStreamCall records one invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg asr.StreamConfig
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a new default Session is
	// created per call.
	Session asr.SessionHandle

	// StartStreamErr, if non-nil, is returned from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call in order.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(_ context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

var _ asr.Provider = (*Provider)(nil)

// Session is a mock implementation of asr.SessionHandle. Create it with
// NewSession so the transcript channels are initialized.
type Session struct {
	mu sync.Mutex

	partials chan asr.Transcript
	finals   chan asr.Transcript

	// PushAudioErr, if non-nil, is returned by every PushAudio call.
	PushAudioErr error

	// SessionErr is returned by Err.
	SessionErr error

	// PushedAudio records a copy of every chunk passed to PushAudio.
	PushedAudio [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closeOnce sync.Once
}

// NewSession creates a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan asr.Transcript, 64),
		finals:   make(chan asr.Transcript, 64),
	}
}

// PushAudio records the chunk and returns PushAudioErr.
func (s *Session) PushAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.PushedAudio = append(s.PushedAudio, cp)
	return s.PushAudioErr
}

// Partials returns the injectable partials channel.
func (s *Session) Partials() <-chan asr.Transcript { return s.partials }

// Finals returns the injectable finals channel.
func (s *Session) Finals() <-chan asr.Transcript { return s.finals }

// EmitPartial delivers a partial transcript to the consumer.
func (s *Session) EmitPartial(t asr.Transcript) { s.partials <- t }

// EmitFinal delivers a final transcript to the consumer.
func (s *Session) EmitFinal(t asr.Transcript) { s.finals <- t }

// Err returns SessionErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionErr
}

// Fail sets SessionErr and closes both transcript channels, simulating a
// transport drop.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.SessionErr = err
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.partials)
		close(s.finals)
	})
}

// Close records the call and closes the transcript channels.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.partials)
		close(s.finals)
	})
	return nil
}

var _ asr.SessionHandle = (*Session)(nil)
