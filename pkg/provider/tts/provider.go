// Package tts defines the Provider interface for streaming speech synthesis
// backends.
//
// Speak accepts a channel of text fragments so the LLM's streaming output can
// be piped straight into synthesis without waiting for the full reply. Each
// call returns an Utterance carrying a unique playback ID; the orchestrator
// hands that ID to the jitter buffer and uses it to cancel the exact
// utterance on a barge-in.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Voice describes a synthesis voice.
type Voice struct {
	// ID is the backend-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Metadata holds backend-specific attributes (gender, accent, etc.).
	Metadata map[string]string
}

// SpeakOptions configures one synthesis request.
type SpeakOptions struct {
	// Voice selects the synthesis voice. Required by most backends.
	Voice Voice

	// SampleRate requests the PCM output rate in Hz. Zero uses the backend
	// default.
	SampleRate int
}

// Utterance is one in-flight synthesis stream.
type Utterance struct {
	// PlaybackID uniquely identifies this utterance across the pipeline.
	PlaybackID uuid.UUID

	audio chan []byte

	mu  sync.Mutex
	err error
}

// NewUtterance creates an utterance with a fresh playback ID. Backends call
// this from Speak.
func NewUtterance() *Utterance {
	return &Utterance{
		PlaybackID: uuid.New(),
		audio:      make(chan []byte, 256),
	}
}

// Audio returns the channel of raw PCM chunks. It is closed when synthesis
// completes, fails or is cancelled; check Err afterwards. Callers must drain
// it to avoid blocking the backend.
func (u *Utterance) Audio() <-chan []byte { return u.audio }

// Err returns the error that ended synthesis, or nil after a clean finish or
// a deliberate cancel. Valid once the Audio channel is closed.
func (u *Utterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Emit delivers one PCM chunk, dropping it if ctx ends first. Backends call
// this from their read loop.
func (u *Utterance) Emit(ctx context.Context, pcm []byte) {
	select {
	case u.audio <- pcm:
	case <-ctx.Done():
	}
}

// Fail records the terminating error. Must be called before CloseAudio.
func (u *Utterance) Fail(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = err
	}
}

// CloseAudio closes the audio channel. Backends call it exactly once when the
// stream ends.
func (u *Utterance) CloseAudio() { close(u.audio) }

// Provider is the abstraction over any synthesis backend.
type Provider interface {
	// Speak starts synthesizing the fragments arriving on text and returns
	// immediately. Closing the text channel marks the end of input; the
	// utterance's Audio channel closes once the tail of the speech has been
	// delivered. Returns an error only if the stream cannot be started.
	Speak(ctx context.Context, text <-chan string, opts SpeakOptions) (*Utterance, error)

	// Cancel aborts the utterance with the given playback ID. Audio already
	// in flight may still arrive; the jitter buffer drops it by ID. Unknown
	// IDs are a no-op, so cancelling an utterance that just finished is safe.
	Cancel(playbackID uuid.UUID)

	// ListVoices returns the backend's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Registry tracks in-flight utterances by playback ID so backends can
// implement Cancel uniformly. The zero value is ready to use; embed it in the
// provider.
type Registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

// Register associates an utterance with its cancel function.
func (r *Registry) Register(id uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[uuid.UUID]context.CancelFunc)
	}
	r.active[id] = cancel
}

// Unregister removes a finished utterance.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Cancel aborts the utterance with the given ID, if still active.
func (r *Registry) Cancel(id uuid.UUID) {
	r.mu.Lock()
	cancel := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
