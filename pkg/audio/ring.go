package audio

import "sync"

// Ring is a fixed-capacity circular buffer of PCM bytes. The orchestrator
// uses it to keep a short pre-roll of echo-cleaned audio from before speech
// onset, so the first syllable of an utterance is not clipped from the ASR
// stream. The echo canceller uses a second ring for its reference signal.
//
// All methods are safe for concurrent use.
type Ring struct {
	mu       sync.Mutex
	data     []byte
	writePos int
	size     int
}

// NewRing creates a ring sized to hold durationMs of 16-bit mono PCM at
// sampleRate Hz.
func NewRing(sampleRate, durationMs int) *Ring {
	capacity := sampleRate * durationMs / 1000 * 2
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{data: make([]byte, capacity)}
}

// Write appends pcm, overwriting the oldest bytes when full.
func (r *Ring) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(pcm)
	if n == 0 {
		return
	}

	// Oversized writes keep only the newest capacity bytes.
	if n >= len(r.data) {
		copy(r.data, pcm[n-len(r.data):])
		r.writePos = 0
		r.size = len(r.data)
		return
	}

	tail := len(r.data) - r.writePos
	if n <= tail {
		copy(r.data[r.writePos:], pcm)
		r.writePos = (r.writePos + n) % len(r.data)
	} else {
		copy(r.data[r.writePos:], pcm[:tail])
		copy(r.data, pcm[tail:])
		r.writePos = n - tail
	}

	r.size += n
	if r.size > len(r.data) {
		r.size = len(r.data)
	}
}

// Snapshot returns the buffered bytes in chronological order without
// modifying the ring.
func (r *Ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	if r.size < len(r.data) {
		copy(out, r.data[:r.size])
	} else {
		head := len(r.data) - r.writePos
		copy(out[:head], r.data[r.writePos:])
		copy(out[head:], r.data[:r.writePos])
	}
	return out
}

// Tail returns the newest n bytes in chronological order. If fewer than n
// bytes are buffered, everything available is returned.
func (r *Ring) Tail(n int) []byte {
	all := r.Snapshot()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// Reset discards all buffered data.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.size = 0
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
