// Package mock provides test doubles for the tts package interfaces.
//
// Provider records Speak and Cancel calls and exposes the utterance it handed
// out, so tests can push synthetic audio chunks and observe cancellation.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/alicecore/pkg/provider/tts"
)

// SpeakCall records one invocation of Provider.Speak.
type SpeakCall struct {
	// Opts is the SpeakOptions passed to Speak.
	Opts tts.SpeakOptions

	// Utterance is the utterance returned from this call.
	Utterance *tts.Utterance

	// Text receives the fragments the caller writes; the mock drains the
	// channel into CollectedText in the background.
	Text <-chan string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned from Speak.
	SpeakErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// SpeakCalls records every Speak call in order.
	SpeakCalls []SpeakCall

	// CancelCalls records every playback ID passed to Cancel.
	CancelCalls []uuid.UUID

	// CollectedText accumulates all text fragments across calls.
	CollectedText []string

	wg sync.WaitGroup
}

// Speak records the call and returns a fresh utterance. The text channel is
// drained in the background so callers never block; fragments land in
// CollectedText. The test drives audio by calling Emit/CloseAudio on the
// returned utterance.
func (p *Provider) Speak(ctx context.Context, text <-chan string, opts tts.SpeakOptions) (*tts.Utterance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SpeakErr != nil {
		return nil, p.SpeakErr
	}
	utt := tts.NewUtterance()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Opts: opts, Utterance: utt, Text: text})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.CollectedText = append(p.CollectedText, fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return utt, nil
}

// Cancel records the playback ID.
func (p *Provider) Cancel(playbackID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CancelCalls = append(p.CancelCalls, playbackID)
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// LastUtterance returns the utterance from the most recent Speak call, or nil.
func (p *Provider) LastUtterance() *tts.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.SpeakCalls) == 0 {
		return nil
	}
	return p.SpeakCalls[len(p.SpeakCalls)-1].Utterance
}

// Cancelled reports whether Cancel was called with the given ID.
func (p *Provider) Cancelled(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.CancelCalls {
		if c == id {
			return true
		}
	}
	return false
}

// Wait blocks until all background text drains have finished. Call after
// closing the text channels.
func (p *Provider) Wait() { p.wg.Wait() }

var _ tts.Provider = (*Provider)(nil)
