// Package audio defines the frame type and low-level PCM utilities shared by
// every stage of the alicecore pipeline.
//
// Frames are the atomic unit of audio transport: captured from the microphone,
// cleaned by the echo canceller, classified by the voice-activity and barge-in
// detectors, and forwarded to the ASR adapter. All PCM in this package is
// little-endian signed 16-bit.
//
// This package lives under pkg/ because external transport adapters and
// provider implementations are expected to produce and consume [Frame] values.
package audio

import "time"

// Frame represents a single fixed-size block of PCM audio flowing through the
// pipeline.
//
// Within a session the sample rate and channel count are constant; stages may
// assume every frame they receive matches the format of the first.
type Frame struct {
	// PCM holds little-endian int16 sample data.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for the capture/ASR path, 48000 on the
	// wire when Opus framing is negotiated).
	SampleRate int

	// Channels is 1 for the mono capture path. The playback side may carry 2.
	Channels int

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration
}

// SampleCount returns the number of samples per channel in the frame.
func (f Frame) SampleCount() int {
	if f.Channels <= 0 {
		return len(f.PCM) / 2
	}
	return len(f.PCM) / 2 / f.Channels
}

// Duration returns the play time of the frame, or zero when the sample rate
// is unset.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy of the frame. Pipeline stages that retain a frame
// beyond the scope of a single callback must clone it first, because capture
// re-uses its read buffer.
func (f Frame) Clone() Frame {
	cp := f
	cp.PCM = make([]byte, len(f.PCM))
	copy(cp.PCM, f.PCM)
	return cp
}

// Int16s converts little-endian PCM bytes to int16 samples.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// Int16sInto decodes little-endian PCM bytes into dst and returns the number
// of samples written. Used on the capture path to avoid per-frame allocation.
func Int16sInto(dst []int16, pcm []byte) int {
	n := len(pcm) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return n
}

// Bytes converts int16 samples to little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesInto encodes samples into dst and returns the number of bytes written.
func BytesInto(dst []byte, samples []int16) int {
	n := len(samples) * 2
	if n > len(dst) {
		n = len(dst) &^ 1
	}
	for i := 0; i < n/2; i++ {
		dst[i*2] = byte(samples[i])
		dst[i*2+1] = byte(samples[i] >> 8)
	}
	return n
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is no longer needed (e.g., TTS audio after a barge-in cancellation).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
