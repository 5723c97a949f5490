package resilience

import (
	"context"

	"github.com/google/uuid"

	"github.com/MrWong99/alicecore/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Speak starts a synthesis stream against the first healthy provider. Only
// the initial stream setup is covered by failover; a provider that fails
// after consuming text fragments cannot be retried because the fragments are
// gone, so mid-stream errors surface on the utterance's Err channel.
func (f *TTSFallback) Speak(ctx context.Context, text <-chan string, opts tts.SpeakOptions) (*tts.Utterance, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Utterance, error) {
		return p.Speak(ctx, text, opts)
	})
}

// Cancel aborts the utterance on whichever backend owns it. Providers ignore
// playback IDs they did not issue, so fanning out is safe.
func (f *TTSFallback) Cancel(playbackID uuid.UUID) {
	for i := range f.group.entries {
		f.group.entries[i].value.Cancel(playbackID)
	}
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
