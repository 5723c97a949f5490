// Package vad defines the Engine interface for pluggable voice-activity
// backends.
//
// The pipeline's built-in detector blends energy, zero-crossing rate and
// spectral features; this interface lets deployments swap in a different
// frame classifier (WebRTC VAD, or a model-based one) without touching the
// orchestrator. Each session owns its own smoothing state, so independent
// audio streams can be classified concurrently.
//
// Classification is synchronous: ProcessFrame returns immediately, making it
// safe to call from the low-latency capture path.
//
// Engines must be safe for concurrent use across sessions. A single
// SessionHandle is not goroutine-safe unless its implementation says so.
package vad

// Config holds the parameters for a new session.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Must match the frames passed
	// to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds. Most
	// backends require fixed sizes (10, 20 or 30 ms); ProcessFrame rejects
	// frames of any other length.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame counts as
	// speech. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active segment is
	// considered ended. Must be <= SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64

	// Aggressiveness tunes backend-specific filtering strictness, 0..3.
	// Only some backends use it.
	Aggressiveness int
}

// EventType classifies a frame relative to the ongoing segment.
type EventType int

const (
	// SpeechStart marks the first speech frame of a segment.
	SpeechStart EventType = iota

	// SpeechContinue marks ongoing speech.
	SpeechContinue

	// SpeechEnd marks the first silent frame after a segment.
	SpeechEnd

	// Silence marks a frame with no active segment.
	Silence
)

// Event is the classification result for one frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Probability is the backend's 0..1 speech score. Backends that only
	// produce a boolean report 0 or 1.
	Probability float64
}

// SessionHandle is an open classification stream for one audio source.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian 16-bit PCM at
	// the configured rate and size. Returns an error for a wrong frame
	// length or an internal backend failure. Must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated segment state without closing the session.
	// Use it when the stream is interrupted so stale state does not bleed
	// into the next segment.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine creates sessions. Implementations must allow concurrent NewSession
// calls.
type Engine interface {
	// NewSession opens a session ready to accept frames. Returns an error
	// for an unsupported configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
