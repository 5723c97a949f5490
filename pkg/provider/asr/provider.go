// Package asr defines the Provider interface for streaming speech
// recognition backends.
//
// The orchestrator feeds echo-cleaned PCM into an open session and consumes
// two transcript streams: low-latency partials that drive the UI and barge-in
// handling, and authoritative finals that become the user's input. Sessions
// deliver results on channels rather than callbacks so the coordination layer
// can select over them alongside its other event sources.
//
// Implementations must be safe for concurrent use. A provider may have
// multiple sessions open at once.
package asr

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. The capture path delivers
	// 16000.
	SampleRate int

	// Channels is the channel count. 1 for the mono capture path.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g., "en-US"). Empty lets
	// the backend auto-detect where supported.
	Language string
}

// Transcript is one recognition result, partial or final.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal marks an authoritative result. Partial results may be revised
	// by later partials or the final.
	IsFinal bool

	// Confidence is the backend's 0..1 score, zero when not reported.
	Confidence float64

	// Words holds per-word timing when the backend provides it.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from backends that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// SessionHandle is an open recognition stream. Callers must Close the session
// when done; failing to do so leaks goroutines and connections inside the
// implementation. All methods are safe for concurrent use.
type SessionHandle interface {
	// PushAudio delivers one chunk of raw little-endian 16-bit PCM matching
	// the StreamConfig format. Returns an error once the session is closed.
	PushAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns the channel of authoritative transcripts. Closed when
	// the session ends.
	Finals() <-chan Transcript

	// Err returns the error that terminated the session, or nil after a
	// clean Close. Valid once both transcript channels are closed; the
	// orchestrator uses it to distinguish a transport drop (reconnect) from
	// a deliberate shutdown.
	Err() error

	// Close flushes pending audio and releases all resources. The transcript
	// channels close once the flush completes. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartStream opens a new streaming session, ready to accept audio
	// immediately. The caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
