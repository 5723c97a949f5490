// Package vad implements frame-level voice activity detection from energy,
// zero-crossing rate and spectral centroid.
//
// The detector buffers raw capture frames until a full analysis window is
// available, scores the window with a weighted blend of the three features,
// smooths the score over a rolling history and applies hysteresis so the
// active flag does not flicker on noisy audio.
package vad

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/alicecore/internal/dsp/spectral"
	"github.com/MrWong99/alicecore/pkg/audio"
)

// Result is the per-window detection outcome. Results are consumed
// immediately by the pipeline and never persisted.
type Result struct {
	// VoiceActive is the hysteresis-stabilized speech flag.
	VoiceActive bool

	// Confidence is the smoothed 0..1 score that produced the flag.
	Confidence float64

	// EnergyLevel is the window RMS normalized to 0..1.
	EnergyLevel float64

	// Timestamp is the capture time of the frame that completed the window.
	Timestamp time.Duration
}

// Config tunes the detector. Zero values fall back to the defaults listed on
// each field.
type Config struct {
	// SampleRate of the incoming PCM in Hz. Required.
	SampleRate int

	// WindowSamples is the analysis window length. Default 512.
	WindowSamples int

	// EnergyThreshold is the RMS level (0..1) treated as full-scale speech
	// energy. Default 0.01.
	EnergyThreshold float64

	// ActivationThreshold is the smoothed confidence above which a window
	// counts toward activation. Default 0.5.
	ActivationThreshold float64

	// EnergyWeight, ZCRWeight and CentroidWeight blend the three feature
	// scores into the raw confidence. Defaults 0.4, 0.3 and 0.3. They are
	// tuning knobs, not a calibrated model.
	EnergyWeight   float64
	ZCRWeight      float64
	CentroidWeight float64

	// SmoothingFrames is the rolling-average length. Default 10.
	SmoothingFrames int

	// MinVoiceFrames is how many consecutive above-threshold windows are
	// required to enter the active state. Default 3.
	MinVoiceFrames int

	// MinSilenceFrames is how many consecutive below-threshold windows are
	// required to leave the active state. Default 5.
	MinSilenceFrames int
}

// Zero-crossing band typical for human speech.
const (
	zcrSpeechLow  = 0.05
	zcrSpeechHigh = 0.5
)

// Spectral centroid band typical for human speech, in Hz.
const (
	centroidSpeechLowHz  = 200
	centroidSpeechHighHz = 4000
)

func (c *Config) applyDefaults() {
	if c.WindowSamples <= 0 {
		c.WindowSamples = 512
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.01
	}
	if c.ActivationThreshold <= 0 {
		c.ActivationThreshold = 0.5
	}
	if c.EnergyWeight == 0 && c.ZCRWeight == 0 && c.CentroidWeight == 0 {
		c.EnergyWeight, c.ZCRWeight, c.CentroidWeight = 0.4, 0.3, 0.3
	}
	if c.SmoothingFrames <= 0 {
		c.SmoothingFrames = 10
	}
	if c.MinVoiceFrames <= 0 {
		c.MinVoiceFrames = 3
	}
	if c.MinSilenceFrames <= 0 {
		c.MinSilenceFrames = 5
	}
}

// Detector classifies audio windows as voiced or unvoiced. Safe for
// concurrent use; ProcessAudio runs on the pipeline goroutine while
// SetThreshold and Confidence may be called from the orchestrator.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	analyzer *spectral.Analyzer
	log      *slog.Logger

	pending []int16
	history []float64
	histPos int
	histLen int

	active       bool
	voiceCount   int
	silenceCount int
	smoothed     float64
}

// New creates a detector for 16-bit mono PCM at cfg.SampleRate.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:      cfg,
		analyzer: spectral.NewAnalyzer(cfg.SampleRate),
		log:      slog.Default().With("component", "vad"),
		history:  make([]float64, cfg.SmoothingFrames),
	}
}

// ProcessAudio feeds one capture frame into the detector. Because capture
// frames and analysis windows differ in size, a single call may complete
// zero, one or several windows; one Result is returned per completed window.
//
// Malformed frames (odd byte count, empty PCM) are dropped with a log entry.
func (d *Detector) ProcessAudio(frame audio.Frame) []Result {
	if len(frame.PCM) == 0 || len(frame.PCM)%2 != 0 {
		d.log.Warn("dropping malformed frame", "bytes", len(frame.PCM))
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, audio.Int16s(frame.PCM)...)

	var results []Result
	for len(d.pending) >= d.cfg.WindowSamples {
		window := d.pending[:d.cfg.WindowSamples]
		results = append(results, d.analyzeWindow(window, frame.Timestamp))
		d.pending = d.pending[d.cfg.WindowSamples:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return results
}

func (d *Detector) analyzeWindow(window []int16, ts time.Duration) Result {
	energy := rms(window)
	z := zcr(window)
	centroid := d.analyzer.Analyze(window).Centroid

	energyScore := math.Min(1, energy/d.cfg.EnergyThreshold)
	zcrScore := bandScore(z, zcrSpeechLow, zcrSpeechHigh)
	centroidScore := bandScore(centroid, centroidSpeechLowHz, centroidSpeechHighHz)

	// ZCR and centroid of near-silent audio measure room noise, not speech,
	// so their contribution is scaled down until the window carries energy.
	if energyScore < 0.25 {
		zcrScore *= energyScore / 0.25
		centroidScore *= energyScore / 0.25
	}

	raw := d.cfg.EnergyWeight*energyScore + d.cfg.ZCRWeight*zcrScore + d.cfg.CentroidWeight*centroidScore

	d.history[d.histPos] = raw
	d.histPos = (d.histPos + 1) % len(d.history)
	if d.histLen < len(d.history) {
		d.histLen++
	}
	var sum float64
	for i := 0; i < d.histLen; i++ {
		sum += d.history[i]
	}
	d.smoothed = sum / float64(d.histLen)

	if d.smoothed >= d.cfg.ActivationThreshold {
		d.voiceCount++
		d.silenceCount = 0
		if !d.active && d.voiceCount >= d.cfg.MinVoiceFrames {
			d.active = true
		}
	} else {
		d.silenceCount++
		d.voiceCount = 0
		if d.active && d.silenceCount >= d.cfg.MinSilenceFrames {
			d.active = false
		}
	}

	return Result{
		VoiceActive: d.active,
		Confidence:  d.smoothed,
		EnergyLevel: energy,
		Timestamp:   ts,
	}
}

// SetThreshold adjusts the activation threshold at runtime. Out-of-range
// values are clamped to (0, 1].
func (d *Detector) SetThreshold(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v <= 0 {
		v = 0.01
	} else if v > 1 {
		v = 1
	}
	d.cfg.ActivationThreshold = v
}

// Confidence returns the current smoothed confidence.
func (d *Detector) Confidence() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.smoothed
}

// Active returns the current hysteresis-stabilized speech flag.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Reset clears buffered samples, smoothing history and hysteresis state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.histPos = 0
	d.histLen = 0
	d.active = false
	d.voiceCount = 0
	d.silenceCount = 0
	d.smoothed = 0
}

// rms returns the root mean square of the window normalized to 0..1.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zcr returns the zero-crossing rate as crossings per sample, 0..1.
func zcr(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// bandScore returns 1 when v lies inside [lo, hi] and decays linearly to 0
// within half a band width outside it.
func bandScore(v, lo, hi float64) float64 {
	if v >= lo && v <= hi {
		return 1
	}
	margin := (hi - lo) / 2
	var dist float64
	if v < lo {
		dist = lo - v
	} else {
		dist = v - hi
	}
	if dist >= margin {
		return 0
	}
	return 1 - dist/margin
}
