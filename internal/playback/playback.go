// Package playback implements the jitter buffer between the TTS stream and
// the speaker.
//
// Synthesized audio arrives in bursts over the network; the buffer absorbs
// that jitter by holding back playback until a small target of audio is
// queued, then feeds the speaker at its own pace. On a barge-in it fades the
// output down inside the cutoff budget and flushes everything unplayed.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// Output receives playable PCM chunks in order. Implementations are expected
// to block at the hardware rate (a speaker stream write), which is what paces
// the pump loop.
type Output func(pcm []byte)

// Ducker is asked to attenuate other audio sources while the assistant
// speaks, reducing how much assistant speech re-enters the microphone.
type Ducker interface {
	// Duck applies the given linear gain to other output sources.
	Duck(gain float64)

	// Unduck restores full volume.
	Unduck()
}

// Config tunes the buffer.
type Config struct {
	// SampleRate of the synthesized audio in Hz. Required.
	SampleRate int

	// Channels of the synthesized audio. Default 1.
	Channels int

	// Prebuffer is how much audio must be queued before playback starts.
	// Default 100ms.
	Prebuffer time.Duration

	// Fade is the length of the fade-out applied on interruption. Clamped
	// to 80..120ms. Default 100ms.
	Fade time.Duration

	// DuckingDB is the attenuation requested from the Ducker while
	// playback is active. Default -18dB.
	DuckingDB float64
}

func (c *Config) applyDefaults() {
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Prebuffer <= 0 {
		c.Prebuffer = 100 * time.Millisecond
	}
	if c.Fade <= 0 {
		c.Fade = 100 * time.Millisecond
	}
	if c.Fade < 80*time.Millisecond {
		c.Fade = 80 * time.Millisecond
	}
	if c.Fade > 120*time.Millisecond {
		c.Fade = 120 * time.Millisecond
	}
	if c.DuckingDB == 0 {
		c.DuckingDB = -18
	}
}

// Buffer is the jitter buffer for one output stream. It plays one utterance
// at a time, identified by the playback ID handed out by the TTS adapter.
// All methods are safe for concurrent use.
type Buffer struct {
	cfg  Config
	out  Output
	duck Ducker
	log  *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	buffered int
	current  uuid.UUID
	active   bool
	rolling  bool
	draining bool
	closed   bool
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithDucker attaches the ducking hook.
func WithDucker(d Ducker) Option {
	return func(b *Buffer) { b.duck = d }
}

// New creates a buffer that delivers playable chunks to out. Call Run on a
// dedicated goroutine to start the pump.
func New(cfg Config, out Output, opts ...Option) *Buffer {
	cfg.applyDefaults()
	b := &Buffer{
		cfg: cfg,
		out: out,
		log: slog.Default().With("component", "playback"),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run pumps queued audio to the output until Close is called. Playback of
// each utterance starts once the prebuffer target is reached, or earlier when
// the utterance already ended.
func (b *Buffer) Run() {
	for {
		b.mu.Lock()
		for !b.closed && !b.playableLocked() {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		chunk := b.queue[0]
		b.queue = b.queue[1:]
		b.buffered -= len(chunk)
		b.rolling = true
		finished := len(b.queue) == 0 && b.draining
		if finished {
			b.endUtteranceLocked()
		}
		b.mu.Unlock()

		b.out(chunk)

		if finished {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		}
	}
}

func (b *Buffer) playableLocked() bool {
	if len(b.queue) == 0 {
		return false
	}
	if b.rolling || b.draining {
		return true
	}
	return b.buffered >= b.prebufferBytes()
}

func (b *Buffer) prebufferBytes() int {
	return int(b.cfg.Prebuffer.Seconds()*float64(b.cfg.SampleRate)) * 2 * b.cfg.Channels
}

func (b *Buffer) fadeBytes() int {
	n := int(b.cfg.Fade.Seconds()*float64(b.cfg.SampleRate)) * 2 * b.cfg.Channels
	return n &^ 1
}

// Begin opens a new utterance. Audio for any previous utterance still queued
// is dropped. Ducking is requested immediately so the level is settled before
// the first chunk plays.
func (b *Buffer) Begin(playbackID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
	b.buffered = 0
	b.current = playbackID
	b.active = true
	b.rolling = false
	b.draining = false
	if b.duck != nil {
		b.duck.Duck(audio.GainFromDB(b.cfg.DuckingDB))
	}
}

// Enqueue adds one synthesized chunk. Chunks for a playback ID other than the
// current one arrive late from a cancelled utterance and are dropped.
func (b *Buffer) Enqueue(playbackID uuid.UUID, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active || playbackID != b.current {
		return
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	b.queue = append(b.queue, cp)
	b.buffered += len(cp)
	b.cond.Broadcast()
}

// Finish marks the end of the utterance: remaining audio plays out even if
// the prebuffer target was never reached, then ducking is released.
func (b *Buffer) Finish(playbackID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active || playbackID != b.current {
		return
	}
	if len(b.queue) == 0 {
		b.endUtteranceLocked()
		return
	}
	b.draining = true
	b.cond.Broadcast()
}

// Interrupt cuts the current utterance: the next fade window of queued audio
// is faded to silence and everything behind it is flushed. Returns the
// duration of audio that was discarded.
func (b *Buffer) Interrupt() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return 0
	}

	discarded := b.buffered

	// Late chunks from the cancelled utterance must not land behind the
	// fade, so the current ID is invalidated before anything else.
	b.current = uuid.Nil

	fade := b.takeLocked(b.fadeBytes())
	if len(fade) > 0 {
		audio.FadeOut(fade)
		discarded -= len(fade)
		b.queue = [][]byte{fade}
		b.buffered = len(fade)
		b.draining = true
	} else {
		b.endUtteranceLocked()
	}
	b.cond.Broadcast()

	bytesPerSec := b.cfg.SampleRate * 2 * b.cfg.Channels
	return time.Duration(discarded) * time.Second / time.Duration(bytesPerSec)
}

// takeLocked removes up to n bytes from the head of the queue and returns
// them as one contiguous buffer.
func (b *Buffer) takeLocked(n int) []byte {
	if n > b.buffered {
		n = b.buffered
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := b.queue[0]
		take := n - len(out)
		if take >= len(chunk) {
			out = append(out, chunk...)
			b.queue = b.queue[1:]
		} else {
			out = append(out, chunk[:take]...)
			b.queue[0] = chunk[take:]
		}
	}
	b.buffered -= len(out)
	return out
}

func (b *Buffer) endUtteranceLocked() {
	b.queue = nil
	b.buffered = 0
	b.active = false
	b.rolling = false
	b.draining = false
	if b.duck != nil {
		b.duck.Unduck()
	}
}

// Buffered returns the duration of audio currently queued.
func (b *Buffer) Buffered() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	bytesPerSec := b.cfg.SampleRate * 2 * b.cfg.Channels
	return time.Duration(b.buffered) * time.Second / time.Duration(bytesPerSec)
}

// Active reports whether an utterance is open.
func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Close stops the pump loop. Queued audio is discarded.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
