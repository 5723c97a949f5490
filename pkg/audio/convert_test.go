package audio

import (
	"math"
	"testing"
)

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	// L=100, R=200 → avg 150; L=-100, R=-200 → avg -150.
	stereo := Bytes([]int16{100, 200, -100, -200})
	mono := Int16s(StereoToMono(stereo))

	if len(mono) != 2 {
		t.Fatalf("want 2 mono samples, got %d", len(mono))
	}
	if mono[0] != 150 || mono[1] != -150 {
		t.Fatalf("want [150 -150], got %v", mono)
	}
}

func TestStereoToMonoClamps(t *testing.T) {
	t.Parallel()

	stereo := Bytes([]int16{math.MaxInt16, math.MaxInt16})
	mono := Int16s(StereoToMono(stereo))
	if mono[0] != math.MaxInt16 {
		t.Fatalf("want clamped max, got %d", mono[0])
	}
}

func TestMonoToStereoDuplicates(t *testing.T) {
	t.Parallel()

	out := Int16s(MonoToStereo(Bytes([]int16{42, -7})))
	want := []int16{42, 42, -7, -7}
	if len(out) != len(want) {
		t.Fatalf("want %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: want %d, got %d", i, want[i], out[i])
		}
	}
}

func TestResampleMono16Halves(t *testing.T) {
	t.Parallel()

	in := make([]int16, 320) // 20ms at 16kHz
	for i := range in {
		in[i] = int16(i)
	}
	out := ResampleMono16(Bytes(in), 16000, 8000)
	if got := len(out) / 2; got != 160 {
		t.Fatalf("want 160 samples after 2:1 resample, got %d", got)
	}
}

func TestResampleMono16Identity(t *testing.T) {
	t.Parallel()

	in := Bytes([]int16{1, 2, 3})
	out := ResampleMono16(in, 16000, 16000)
	if &in[0] != &out[0] {
		t.Fatal("same-rate resample should return the input unchanged")
	}
}

func TestConverterRejectsOddByteCount(t *testing.T) {
	t.Parallel()

	conv := &Converter{Target: Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(Frame{PCM: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1})
	if len(out.PCM) != 0 {
		t.Fatalf("want empty PCM for corrupt frame, got %d bytes", len(out.PCM))
	}
}

func TestConverterFastPath(t *testing.T) {
	t.Parallel()

	conv := &Converter{Target: Format{SampleRate: 16000, Channels: 1}}
	in := Frame{PCM: Bytes([]int16{5, 6}), SampleRate: 16000, Channels: 1}
	out := conv.Convert(in)
	if &in.PCM[0] != &out.PCM[0] {
		t.Fatal("matching format should pass the frame through unchanged")
	}
}

func TestApplyGain(t *testing.T) {
	t.Parallel()

	pcm := Bytes([]int16{1000, -1000})
	ApplyGain(pcm, 0.5)
	out := Int16s(pcm)
	if out[0] != 500 || out[1] != -500 {
		t.Fatalf("want [500 -500], got %v", out)
	}
}

func TestGainFromDB(t *testing.T) {
	t.Parallel()

	g := GainFromDB(-18)
	if math.Abs(g-0.1259) > 0.001 {
		t.Fatalf("want ~0.1259 for -18dB, got %f", g)
	}
}

func TestFadeOutEndsNearSilence(t *testing.T) {
	t.Parallel()

	in := make([]int16, 160)
	for i := range in {
		in[i] = 10000
	}
	pcm := Bytes(in)
	FadeOut(pcm)
	out := Int16s(pcm)

	if out[0] != 10000 {
		t.Fatalf("fade should start at full level, got %d", out[0])
	}
	if last := out[len(out)-1]; last > 200 || last < -200 {
		t.Fatalf("fade should end near silence, got %d", last)
	}
	// Monotone non-increasing envelope.
	for i := 1; i < len(out); i++ {
		if out[i] > out[i-1] {
			t.Fatalf("fade envelope rose at sample %d: %d > %d", i, out[i], out[i-1])
		}
	}
}
