package echo

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/alicecore/pkg/audio"
)

func tone(samples int, freq, amplitude float64) []int16 {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func frameOf(samples []int16) audio.Frame {
	return audio.Frame{PCM: audio.Bytes(samples), SampleRate: 16000, Channels: 1}
}

func pcmRMS(pcm []byte) float64 {
	samples := audio.Int16s(pcm)
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestCalibrationTimeoutDegradesToPassthrough(t *testing.T) {
	t.Parallel()

	c := New(Config{
		SampleRate:         16000,
		CalibrationWindow:  100 * time.Millisecond,
		CalibrationTimeout: 10 * time.Millisecond,
	})

	// No reference audio is ever fed: calibration cannot complete.
	in := frameOf(tone(160, 440, 0.3))
	c.Process(in.Clone())

	time.Sleep(20 * time.Millisecond)
	c.Process(frameOf(tone(160, 440, 0.3)))

	select {
	case <-c.Calibrated():
	default:
		t.Fatal("want calibration to have given up after the timeout")
	}

	if got := c.Metrics(); got.AdaptationConverged {
		t.Fatal("want AdaptationConverged=false after calibration failure")
	}

	// Frames keep flowing, byte for byte untouched.
	original := frameOf(tone(160, 440, 0.3))
	out := c.Process(original.Clone())
	if !bytes.Equal(out.PCM, original.PCM) {
		t.Fatal("want pass-through frames unmodified after calibration failure")
	}
}

func TestCalibrationCompletesWithReference(t *testing.T) {
	t.Parallel()

	c := New(Config{
		SampleRate:        16000,
		CalibrationWindow: 10 * time.Millisecond, // 160 samples
	})

	c.FeedReference(audio.Bytes(tone(160, 440, 0.5)))
	c.Process(frameOf(tone(160, 440, 0.2)))
	c.Process(frameOf(tone(160, 440, 0.2)))

	select {
	case <-c.Calibrated():
	default:
		t.Fatal("want calibration complete once enough audio was sampled")
	}
}

func TestEchoSuppression(t *testing.T) {
	t.Parallel()

	c := New(Config{
		SampleRate:        16000,
		CalibrationWindow: 10 * time.Millisecond,
	})

	ref := tone(160, 440, 0.5)
	echoed := make([]int16, len(ref))
	for i, s := range ref {
		echoed[i] = s / 2 // direct echo at half amplitude
	}

	// Calibrate, then let the filter adapt.
	c.FeedReference(audio.Bytes(ref))
	c.Process(frameOf(echoed))
	c.Process(frameOf(echoed))
	select {
	case <-c.Calibrated():
	default:
		t.Fatal("setup: calibration should be complete")
	}

	inputRMS := pcmRMS(audio.Bytes(echoed))
	var outputRMS float64
	for i := 0; i < 20; i++ {
		c.FeedReference(audio.Bytes(ref))
		out := c.Process(frameOf(echoed))
		outputRMS = pcmRMS(out.PCM)
	}

	if outputRMS > inputRMS/2 {
		t.Fatalf("want echo energy at least halved after adaptation: in %f, out %f", inputRMS, outputRMS)
	}
	if got := c.Metrics(); got.EchoLevel <= 0 {
		t.Fatalf("want positive echo level while cancelling, got %f", got.EchoLevel)
	}
}

func TestNoiseGateMutesResidual(t *testing.T) {
	t.Parallel()

	c := New(Config{
		SampleRate:         16000,
		CalibrationWindow:  10 * time.Millisecond,
		NoiseGateThreshold: 0.01,
	})

	c.FeedReference(audio.Bytes(tone(160, 440, 0.5)))
	c.Process(frameOf(tone(160, 440, 0.2)))

	// A nearly silent captured frame falls under the gate.
	quiet := tone(160, 440, 0.001)
	out := c.Process(frameOf(quiet))
	for _, s := range audio.Int16s(out.PCM) {
		if s != 0 {
			t.Fatalf("want gated output to be silent, got sample %d", s)
		}
	}
}

func TestSetSensitivityClamped(t *testing.T) {
	t.Parallel()

	c := New(Config{SampleRate: 16000})

	c.SetSensitivity(2.0)
	if got := c.Sensitivity(); got != 0.95 {
		t.Fatalf("want sensitivity capped at 0.95, got %f", got)
	}
	c.SetSensitivity(-1)
	if got := c.Sensitivity(); got != 0 {
		t.Fatalf("want sensitivity floored at 0, got %f", got)
	}
}
