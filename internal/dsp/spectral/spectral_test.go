package spectral

import (
	"math"
	"testing"
)

// sine generates n int16 samples of a sine wave at freq Hz.
func sine(n int, freq float64, sampleRate int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestFFTSingleTone(t *testing.T) {
	t.Parallel()

	// 1kHz tone in a 512-point FFT at 16kHz lands in bin 32.
	x := make([]complex128, 512)
	for i := range x {
		x[i] = complex(math.Sin(2*math.Pi*1000*float64(i)/16000), 0)
	}
	fft(x)

	peak, peakMag := 0, 0.0
	for i := 0; i < 256; i++ {
		m := real(x[i])*real(x[i]) + imag(x[i])*imag(x[i])
		if m > peakMag {
			peakMag = m
			peak = i
		}
	}
	if peak != 32 {
		t.Fatalf("want peak in bin 32, got %d", peak)
	}
}

func TestAnalyzeFundamental(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)
	// 150 Hz sits inside the pitch search band.
	feat := a.Analyze(sine(512, 150, 16000, 0.5))

	if feat.FundamentalFreq < 130 || feat.FundamentalFreq > 170 {
		t.Fatalf("want fundamental near 150Hz, got %.1f", feat.FundamentalFreq)
	}
}

func TestAnalyzeCentroid(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)
	feat := a.Analyze(sine(512, 1000, 16000, 0.5))

	if feat.Centroid < 700 || feat.Centroid > 1400 {
		t.Fatalf("want centroid near 1kHz, got %.1f", feat.Centroid)
	}
	if feat.Rolloff < 500 || feat.Rolloff > 2000 {
		t.Fatalf("want rolloff near the tone, got %.1f", feat.Rolloff)
	}
}

func TestAnalyzeSilence(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)
	feat := a.Analyze(make([]int16, 512))

	if feat.VoiceProbability != 0 {
		t.Fatalf("want zero voice probability for silence, got %f", feat.VoiceProbability)
	}
	if feat.FundamentalFreq != 0 || feat.Centroid != 0 {
		t.Fatalf("want zero features for silence, got %+v", feat)
	}
}

func TestAnalyzeShortWindow(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)
	feat := a.Analyze(make([]int16, 16))
	if len(feat.BandEnergies) != NumBands {
		t.Fatalf("want %d band energies, got %d", NumBands, len(feat.BandEnergies))
	}
}

func TestBandEnergiesSumToOne(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)
	feat := a.Analyze(sine(512, 800, 16000, 0.5))

	var sum float64
	for _, e := range feat.BandEnergies {
		sum += e
	}
	if sum < 0.7 || sum > 1.01 {
		t.Fatalf("want band energies to sum near 1, got %f", sum)
	}
}

func TestVoiceProbabilitySpeechVsHiss(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(16000)

	// A pitched tone inside the speech band should look far more voice-like
	// than a high-frequency tone outside it.
	speech := a.Analyze(sine(512, 200, 16000, 0.5))
	hiss := a.Analyze(sine(512, 7000, 16000, 0.5))

	if speech.VoiceProbability <= hiss.VoiceProbability {
		t.Fatalf("want speech-like tone scored above hiss: %.2f vs %.2f",
			speech.VoiceProbability, hiss.VoiceProbability)
	}
}
