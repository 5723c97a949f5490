package vad

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// speechFrame generates one analysis window of a 1600Hz tone whose RMS is
// 0.05, which lands the zero-crossing rate around 0.2 and the centroid well
// inside the speech band.
func speechFrame(samples int) audio.Frame {
	amplitude := 0.05 * math.Sqrt2
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*1600*float64(i)/16000))
	}
	return audio.Frame{PCM: audio.Bytes(pcm), SampleRate: 16000, Channels: 1}
}

func silenceFrame(samples int) audio.Frame {
	return audio.Frame{PCM: make([]byte, samples*2), SampleRate: 16000, Channels: 1}
}

func newTestDetector() *Detector {
	return New(Config{SampleRate: 16000, EnergyThreshold: 0.01})
}

func TestSpeechActivates(t *testing.T) {
	t.Parallel()

	d := newTestDetector()

	var last Result
	for i := 0; i < 5; i++ {
		results := d.ProcessAudio(speechFrame(512))
		if len(results) != 1 {
			t.Fatalf("want 1 result per full window, got %d", len(results))
		}
		last = results[0]
	}

	if !last.VoiceActive {
		t.Fatal("want voice active after sustained speech-like audio")
	}
	if last.Confidence <= 0.5 {
		t.Fatalf("want confidence above 0.5, got %f", last.Confidence)
	}
	if math.Abs(last.EnergyLevel-0.05) > 0.01 {
		t.Fatalf("want energy level near 0.05, got %f", last.EnergyLevel)
	}
}

func TestSilenceStaysInactive(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	for i := 0; i < 20; i++ {
		for _, r := range d.ProcessAudio(silenceFrame(512)) {
			if r.VoiceActive {
				t.Fatal("silence must never activate the detector")
			}
			if r.Confidence > 0.1 {
				t.Fatalf("want near-zero confidence for silence, got %f", r.Confidence)
			}
		}
	}
}

func TestHysteresisEntryDelay(t *testing.T) {
	t.Parallel()

	d := newTestDetector()

	// The first two above-threshold windows must not activate yet.
	for i := 0; i < 2; i++ {
		r := d.ProcessAudio(speechFrame(512))
		if r[0].VoiceActive {
			t.Fatalf("window %d: active before reaching the consecutive-frame minimum", i+1)
		}
	}
	if r := d.ProcessAudio(speechFrame(512)); !r[0].VoiceActive {
		t.Fatal("want active on the third consecutive voiced window")
	}
}

func TestHysteresisExitDelay(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	for i := 0; i < 10; i++ {
		d.ProcessAudio(speechFrame(512))
	}
	if !d.Active() {
		t.Fatal("setup: detector should be active")
	}

	// Deactivation needs the rolling average to decay below threshold and
	// then five more silent windows. A brief dip must not flip the flag.
	sawActiveDuringDecay := false
	for i := 0; i < 20; i++ {
		r := d.ProcessAudio(silenceFrame(512))
		if r[0].VoiceActive {
			sawActiveDuringDecay = true
		}
	}
	if !sawActiveDuringDecay {
		t.Fatal("want the active flag to persist through the start of silence")
	}
	if d.Active() {
		t.Fatal("want inactive after sustained silence")
	}
}

func TestBuffersPartialFrames(t *testing.T) {
	t.Parallel()

	d := newTestDetector()

	// 160-sample capture frames (10ms at 16kHz): the first three complete no
	// window, the fourth completes one.
	full := speechFrame(640)
	for i := 0; i < 3; i++ {
		chunk := audio.Frame{PCM: full.PCM[i*320 : (i+1)*320], SampleRate: 16000, Channels: 1}
		if got := d.ProcessAudio(chunk); len(got) != 0 {
			t.Fatalf("chunk %d: want no result before a full window, got %d", i, len(got))
		}
	}
	chunk := audio.Frame{PCM: full.PCM[960:1280], SampleRate: 16000, Channels: 1}
	if got := d.ProcessAudio(chunk); len(got) != 1 {
		t.Fatalf("want 1 result once the window fills, got %d", len(got))
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	if got := d.ProcessAudio(audio.Frame{PCM: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}); got != nil {
		t.Fatalf("want malformed frame dropped, got %d results", len(got))
	}
	if got := d.ProcessAudio(audio.Frame{SampleRate: 16000, Channels: 1}); got != nil {
		t.Fatalf("want empty frame dropped, got %d results", len(got))
	}
}

func TestSetThresholdRaisesBar(t *testing.T) {
	t.Parallel()

	// A tone at half the energy threshold scores around 0.8: above the
	// default activation threshold, below a raised one.
	quiet := func() audio.Frame {
		amplitude := 0.005 * math.Sqrt2
		pcm := make([]int16, 512)
		for i := range pcm {
			pcm[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*1600*float64(i)/16000))
		}
		return audio.Frame{PCM: audio.Bytes(pcm), SampleRate: 16000, Channels: 1}
	}

	d := newTestDetector()
	for i := 0; i < 5; i++ {
		d.ProcessAudio(quiet())
	}
	if !d.Active() {
		t.Fatal("want quiet tone to activate at the default threshold")
	}

	d.Reset()
	d.SetThreshold(0.9)
	for i := 0; i < 10; i++ {
		for _, r := range d.ProcessAudio(quiet()) {
			if r.VoiceActive {
				t.Fatal("raised threshold should keep the quiet tone inactive")
			}
		}
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	for i := 0; i < 10; i++ {
		d.ProcessAudio(speechFrame(512))
	}
	d.Reset()

	if d.Active() {
		t.Fatal("want inactive after reset")
	}
	if d.Confidence() != 0 {
		t.Fatalf("want zero confidence after reset, got %f", d.Confidence())
	}
}

func TestTimestampPropagated(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	frame := speechFrame(512)
	frame.Timestamp = 250 * time.Millisecond
	r := d.ProcessAudio(frame)
	if r[0].Timestamp != 250*time.Millisecond {
		t.Fatalf("want timestamp carried through, got %v", r[0].Timestamp)
	}
}
