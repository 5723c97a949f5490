package resilience

import (
	"context"

	"github.com/MrWong99/alicecore/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple speech recognition backends. Each backend has its own circuit
// breaker, so a cloud engine that keeps refusing connections is skipped in
// favour of, say, a local whisper engine.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a streaming recognition session against the first
// healthy provider. Only stream setup is covered by failover; once a session
// is handed out, mid-stream errors surface on its Err channel and the
// orchestrator's reconnect loop calls StartStream again.
func (f *ASRFallback) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
