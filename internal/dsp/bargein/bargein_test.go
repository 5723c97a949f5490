package bargein

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// voicedFrame generates one full analysis window of a loud 1kHz tone, which
// scores well above the default confidence threshold.
func voicedFrame(ts time.Duration) audio.Frame {
	pcm := make([]int16, 512)
	for i := range pcm {
		pcm[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	return audio.Frame{PCM: audio.Bytes(pcm), SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func silentFrame(ts time.Duration) audio.Frame {
	return audio.Frame{PCM: make([]byte, 1024), SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func newTestDetector() *Detector {
	d := New(Config{SampleRate: 16000})
	d.Start()
	return d
}

func drainOne(t *testing.T, d *Detector) Event {
	t.Helper()
	select {
	case ev := <-d.Events():
		return ev
	default:
		t.Fatal("want a pending interruption event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, d *Detector) {
	t.Helper()
	select {
	case ev := <-d.Events():
		t.Fatalf("want no event, got one with confidence %f", ev.Confidence)
	default:
	}
}

func TestNeverFiresWhileAssistantSilent(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	for i := 0; i < 20; i++ {
		d.ProcessFrame(voicedFrame(time.Duration(i) * 32 * time.Millisecond))
	}
	assertNoEvent(t, d)
}

func TestFiresOnThirdConsecutiveWindow(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)

	d.ProcessFrame(voicedFrame(0))
	d.ProcessFrame(voicedFrame(32 * time.Millisecond))
	assertNoEvent(t, d)

	d.ProcessFrame(voicedFrame(64 * time.Millisecond))
	ev := drainOne(t, d)
	if ev.Confidence < 0.8 {
		t.Fatalf("want confidence at or above the threshold, got %f", ev.Confidence)
	}
	if ev.AudioLevel <= 0 {
		t.Fatalf("want positive audio level, got %f", ev.AudioLevel)
	}
}

func TestSilenceResetsCounter(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)

	d.ProcessFrame(voicedFrame(0))
	d.ProcessFrame(voicedFrame(32 * time.Millisecond))
	d.ProcessFrame(silentFrame(64 * time.Millisecond))
	d.ProcessFrame(voicedFrame(96 * time.Millisecond))
	d.ProcessFrame(voicedFrame(128 * time.Millisecond))
	assertNoEvent(t, d)
}

func TestDebounceBlocksSecondEvent(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)

	ts := func(i int) time.Duration { return time.Duration(i) * 32 * time.Millisecond }
	for i := 0; i < 3; i++ {
		d.ProcessFrame(voicedFrame(ts(i)))
	}
	drainOne(t, d)

	// Windows 3..8 stay within 500ms of the first event.
	for i := 3; i < 9; i++ {
		d.ProcessFrame(voicedFrame(ts(i)))
	}
	assertNoEvent(t, d)

	// Three qualifying windows past the debounce horizon fire again.
	base := 700 * time.Millisecond
	for i := 0; i < 3; i++ {
		d.ProcessFrame(voicedFrame(base + time.Duration(i)*32*time.Millisecond))
	}
	drainOne(t, d)
}

func TestStopSpeakingResetsCounter(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)

	d.ProcessFrame(voicedFrame(0))
	d.ProcessFrame(voicedFrame(32 * time.Millisecond))
	d.SetAliceSpeaking(false)
	d.SetAliceSpeaking(true)
	d.ProcessFrame(voicedFrame(64 * time.Millisecond))
	d.ProcessFrame(voicedFrame(96 * time.Millisecond))
	assertNoEvent(t, d)
}

func TestStopDisablesMonitoring(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)
	d.Stop()

	for i := 0; i < 10; i++ {
		d.ProcessFrame(voicedFrame(time.Duration(i) * 32 * time.Millisecond))
	}
	assertNoEvent(t, d)
}

func TestContextStateAttached(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)
	d.SetContextState("speaking")

	for i := 0; i < 3; i++ {
		d.ProcessFrame(voicedFrame(time.Duration(i) * 32 * time.Millisecond))
	}
	if ev := drainOne(t, d); ev.ContextState != "speaking" {
		t.Fatalf("want context state %q, got %q", "speaking", ev.ContextState)
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.SetAliceSpeaking(true)
	d.ProcessFrame(audio.Frame{PCM: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	assertNoEvent(t, d)
}
