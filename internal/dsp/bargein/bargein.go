// Package bargein detects the user interrupting the assistant's speech.
//
// The detector consumes echo-cancelled capture frames plus the "assistant is
// speaking" flag owned by the state manager. While the assistant is silent no
// event can fire, regardless of input energy. Events pass through a
// consecutive-window gate and a hard debounce so that one interruption
// produces exactly one event.
package bargein

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/alicecore/internal/dsp/spectral"
	"github.com/MrWong99/alicecore/pkg/audio"
)

// Event is emitted once per detected interruption. Immutable once emitted.
type Event struct {
	// Timestamp is the capture time of the window that completed the gate.
	Timestamp time.Duration

	// Confidence is the per-window score that crossed the threshold.
	Confidence float64

	// AudioLevel is the window RMS normalized to 0..1.
	AudioLevel float64

	// Features holds the spectral analysis of the triggering window.
	Features spectral.Features

	// ContextState is the conversational state label set by the
	// orchestrator when the event fired.
	ContextState string
}

// Config tunes the detector.
type Config struct {
	// SampleRate of the incoming PCM in Hz. Required.
	SampleRate int

	// WindowSamples is the analysis window length. Default 512.
	WindowSamples int

	// MinConfidence is the per-window score required to advance the
	// consecutive-detection counter. Default 0.8.
	MinConfidence float64

	// ConsecutiveWindows is how many qualifying windows in a row fire the
	// event. Default 3.
	ConsecutiveWindows int

	// Debounce is the minimum spacing between fired events. Default 500ms.
	Debounce time.Duration

	// CalibrationWindows is how many initial windows build the background
	// noise profile used for SNR diagnostics. Default 30 (~1s at 16kHz with
	// 512-sample windows).
	CalibrationWindows int
}

func (c *Config) applyDefaults() {
	if c.WindowSamples <= 0 {
		c.WindowSamples = 512
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.8
	}
	if c.ConsecutiveWindows <= 0 {
		c.ConsecutiveWindows = 3
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.CalibrationWindows <= 0 {
		c.CalibrationWindows = 30
	}
}

// Detector scores echo-cancelled windows for interrupting speech. ProcessFrame
// runs on the capture path; the speaking flag and context state are set from
// the coordination layer. Safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	analyzer *spectral.Analyzer
	log      *slog.Logger

	events chan Event

	monitoring    bool
	aliceSpeaking bool
	contextState  string

	pending     []int16
	consecutive int
	lastFired   time.Duration
	hasFired    bool

	// noise profile
	noiseWindows int
	noiseFloor   float64
	noiseBands   []float64
	lastSNR      float64
}

// New creates a detector. Events are delivered on a bounded channel; if the
// coordination layer falls behind, newer events are dropped with a log entry
// rather than blocking the audio path.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:        cfg,
		analyzer:   spectral.NewAnalyzer(cfg.SampleRate),
		log:        slog.Default().With("component", "bargein"),
		events:     make(chan Event, 8),
		noiseBands: make([]float64, spectral.NumBands),
	}
}

// Events returns the channel interruption events are delivered on.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Start enables monitoring. Frames processed while stopped still feed the
// noise profile but can never fire an event.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitoring = true
}

// Stop disables monitoring and clears the consecutive-detection counter.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitoring = false
	d.consecutive = 0
}

// SetAliceSpeaking updates the assistant-speaking flag. Clearing it resets
// the consecutive-detection counter so a stale partial detection cannot
// carry over into the next assistant utterance.
func (d *Detector) SetAliceSpeaking(speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aliceSpeaking && !speaking {
		d.consecutive = 0
	}
	d.aliceSpeaking = speaking
}

// SetContextState attaches a conversational state label to future events.
func (d *Detector) SetContextState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contextState = state
}

// SetMinConfidence adjusts the per-window firing threshold at runtime,
// clamped to (0, 1]. Used by configuration hot-reload.
func (d *Detector) SetMinConfidence(c float64) {
	if c <= 0 || c > 1 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.MinConfidence = c
}

// SNR returns the last computed signal-to-noise ratio in dB, for diagnostics.
func (d *Detector) SNR() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSNR
}

// ProcessFrame feeds one echo-cancelled capture frame into the detector.
// Malformed frames are dropped with a log entry.
func (d *Detector) ProcessFrame(frame audio.Frame) {
	if len(frame.PCM) == 0 || len(frame.PCM)%2 != 0 {
		d.log.Warn("dropping malformed frame", "bytes", len(frame.PCM))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, audio.Int16s(frame.PCM)...)
	for len(d.pending) >= d.cfg.WindowSamples {
		window := d.pending[:d.cfg.WindowSamples]
		d.analyzeWindow(window, frame.Timestamp)
		d.pending = d.pending[d.cfg.WindowSamples:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
}

func (d *Detector) analyzeWindow(window []int16, ts time.Duration) {
	level := rms(window)
	feat := d.analyzer.Analyze(window)

	if d.noiseWindows < d.cfg.CalibrationWindows {
		d.updateNoiseProfile(level, feat)
	}
	if d.noiseFloor > 0 {
		d.lastSNR = 20 * math.Log10(math.Max(level, 1e-6)/d.noiseFloor)
	}

	if !d.monitoring || !d.aliceSpeaking {
		d.consecutive = 0
		return
	}

	confidence := score(level, feat)
	if confidence < d.cfg.MinConfidence {
		d.consecutive = 0
		return
	}

	d.consecutive++
	if d.consecutive < d.cfg.ConsecutiveWindows {
		return
	}
	d.consecutive = 0

	if d.hasFired && ts-d.lastFired < d.cfg.Debounce {
		return
	}
	d.hasFired = true
	d.lastFired = ts

	ev := Event{
		Timestamp:    ts,
		Confidence:   confidence,
		AudioLevel:   level,
		Features:     feat,
		ContextState: d.contextState,
	}
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event queue full, dropping interruption event",
			"confidence", ev.Confidence,
			"timestamp", ev.Timestamp,
		)
	}
}

// updateNoiseProfile folds a calibration window into the running background
// spectrum. Calibration runs over the first windows of the session, mirroring
// the echo canceller's startup routine.
func (d *Detector) updateNoiseProfile(level float64, feat spectral.Features) {
	n := float64(d.noiseWindows)
	d.noiseFloor = (d.noiseFloor*n + math.Max(level, 1e-6)) / (n + 1)
	for i, e := range feat.BandEnergies {
		d.noiseBands[i] = (d.noiseBands[i]*n + e) / (n + 1)
	}
	d.noiseWindows++
}

// score blends loudness with the spectral voice probability. The weights are
// a tunable heuristic, not a calibrated model.
func score(level float64, feat spectral.Features) float64 {
	energyScore := math.Min(1, level/0.02)
	s := 0.4*energyScore + 0.6*feat.VoiceProbability
	return math.Min(1, s)
}

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
