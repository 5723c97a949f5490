// Package spectral computes the frequency-domain features shared by the
// voice-activity and barge-in detectors: fundamental frequency, spectral
// centroid, rolloff and coarse mel-band energies.
//
// The analysis is heuristic. Voice probability is derived from where energy
// sits in the spectrum, not from a trained classifier, and the weighting
// constants are tunable configuration rather than a correctness contract.
package spectral

import "math"

// Features holds the per-window analysis results. Values are recomputed for
// every window and never mutated afterwards.
type Features struct {
	// FundamentalFreq is the strongest periodicity in Hz found inside the
	// human pitch search band, or 0 when no periodicity was detected.
	FundamentalFreq float64

	// Centroid is the spectral centroid in Hz, the energy-weighted mean
	// frequency of the window.
	Centroid float64

	// Rolloff is the frequency in Hz below which 85% of the spectral energy
	// lies.
	Rolloff float64

	// BandEnergies holds the normalized energy of NumBands mel-spaced bands
	// between 0 Hz and Nyquist. The values sum to 1 unless the window is
	// silent.
	BandEnergies []float64

	// VoiceProbability is a heuristic 0..1 estimate of how speech-like the
	// window is.
	VoiceProbability float64
}

// NumBands is the number of coarse mel-spaced energy bands reported per
// window.
const NumBands = 8

// Pitch search band for fundamental frequency estimation. Covers typical
// adult speech.
const (
	minPitchHz = 80
	maxPitchHz = 300
)

// Speech band used for the voice probability heuristic.
const (
	speechBandLowHz  = 200
	speechBandHighHz = 4500
)

// Analyzer extracts Features from fixed-size PCM windows. It caches the Hann
// window and FFT scratch buffers, so one Analyzer should be reused across
// frames of the same size. Not safe for concurrent use.
type Analyzer struct {
	sampleRate int
	window     []float64
	scratch    []complex128
	magnitudes []float64
}

// NewAnalyzer creates an analyzer for 16-bit mono PCM at the given sample
// rate.
func NewAnalyzer(sampleRate int) *Analyzer {
	return &Analyzer{sampleRate: sampleRate}
}

// Analyze computes the features of one window of int16 samples. Windows
// shorter than 64 samples return zero features.
func (a *Analyzer) Analyze(samples []int16) Features {
	feat := Features{BandEnergies: make([]float64, NumBands)}
	if len(samples) < 64 {
		return feat
	}

	a.prepare(len(samples))

	normalized := make([]float64, len(samples))
	var energy float64
	for i, s := range samples {
		v := float64(s) / 32768.0
		normalized[i] = v
		energy += v * v
	}
	if energy < 1e-9 {
		return feat
	}

	feat.FundamentalFreq = a.fundamental(normalized)

	for i := range a.scratch {
		if i < len(normalized) {
			a.scratch[i] = complex(normalized[i]*a.window[i], 0)
		} else {
			a.scratch[i] = 0
		}
	}
	fft(a.scratch)

	half := len(a.scratch) / 2
	mags := a.magnitudes[:half]
	var total float64
	for i := 0; i < half; i++ {
		m := real(a.scratch[i])*real(a.scratch[i]) + imag(a.scratch[i])*imag(a.scratch[i])
		mags[i] = m
		total += m
	}
	if total < 1e-12 {
		return feat
	}

	binHz := float64(a.sampleRate) / float64(len(a.scratch))

	var weighted float64
	for i, m := range mags {
		weighted += float64(i) * binHz * m
	}
	feat.Centroid = weighted / total

	var cum float64
	target := 0.85 * total
	for i, m := range mags {
		cum += m
		if cum >= target {
			feat.Rolloff = float64(i) * binHz
			break
		}
	}

	a.bandEnergies(mags, total, feat.BandEnergies)
	feat.VoiceProbability = voiceProbability(feat, mags, binHz, total)
	return feat
}

func (a *Analyzer) prepare(n int) {
	fftSize := nextPow2(n)
	if len(a.window) != n {
		a.window = hannWindow(n)
	}
	if len(a.scratch) != fftSize {
		a.scratch = make([]complex128, fftSize)
		a.magnitudes = make([]float64, fftSize/2)
	}
}

// fundamental searches the pitch band with normalized autocorrelation and
// returns the best lag converted to Hz, or 0 when the peak is too weak to
// call periodic.
func (a *Analyzer) fundamental(x []float64) float64 {
	minLag := a.sampleRate / maxPitchHz
	maxLag := a.sampleRate / minPitchHz
	if maxLag >= len(x) {
		maxLag = len(x) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0
	}

	var energy float64
	for _, v := range x {
		energy += v * v
	}
	if energy < 1e-9 {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(x); i++ {
			corr += x[i] * x[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	// A weak peak means noise, not pitch.
	if bestCorr < 0.3 || bestLag == 0 {
		return 0
	}
	return float64(a.sampleRate) / float64(bestLag)
}

// bandEnergies fills out with NumBands mel-spaced normalized band energies.
func (a *Analyzer) bandEnergies(mags []float64, total float64, out []float64) {
	nyquist := float64(a.sampleRate) / 2
	melMax := hzToMel(nyquist)
	binHz := nyquist / float64(len(mags))

	for b := range out {
		lo := melToHz(melMax * float64(b) / NumBands)
		hi := melToHz(melMax * float64(b+1) / NumBands)
		loBin := int(lo / binHz)
		hiBin := int(hi / binHz)
		if hiBin > len(mags) {
			hiBin = len(mags)
		}
		var sum float64
		for i := loBin; i < hiBin; i++ {
			sum += mags[i]
		}
		out[b] = sum / total
	}
}

// voiceProbability scores how speech-like the window is: energy concentrated
// in the speech band, a centroid inside it, and detected pitch all raise the
// score.
func voiceProbability(feat Features, mags []float64, binHz, total float64) float64 {
	loBin := int(speechBandLowHz / binHz)
	hiBin := int(speechBandHighHz / binHz)
	if hiBin > len(mags) {
		hiBin = len(mags)
	}
	var inBand float64
	for i := loBin; i < hiBin; i++ {
		inBand += mags[i]
	}
	bandRatio := inBand / total

	centroidScore := 0.0
	if feat.Centroid >= speechBandLowHz && feat.Centroid <= speechBandHighHz {
		// Peaks in the middle of the band, tapering to the edges.
		mid := float64(speechBandLowHz+speechBandHighHz) / 2
		halfWidth := float64(speechBandHighHz-speechBandLowHz) / 2
		centroidScore = 1 - math.Abs(feat.Centroid-mid)/halfWidth
	}

	pitchScore := 0.0
	if feat.FundamentalFreq > 0 {
		pitchScore = 1
	}

	p := 0.5*bandRatio + 0.25*centroidScore + 0.25*pitchScore
	return math.Min(1, math.Max(0, p))
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}
