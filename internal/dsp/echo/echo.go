// Package echo removes the assistant's own speech, leaked acoustically from
// the speaker back into the microphone, from the capture stream before it
// reaches voice-activity and barge-in detection.
//
// The canceller runs an NLMS adaptive filter that predicts the echo component
// from a reference ring of recently played output and subtracts the prediction
// from the captured signal. A noise gate suppresses residual low-level
// leakage. A one-shot calibration phase at startup builds the initial noise
// profile; until it completes, and whenever it fails, the canceller degrades
// to pass-through so the pipeline is never blocked on calibration.
package echo

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// Metrics is a snapshot of the canceller's health, read by the orchestrator
// for sensitivity auto-tuning and exposed on the status surface.
type Metrics struct {
	// EchoLevel is the 0..1 ratio of predicted echo energy to captured
	// energy, averaged over recent frames.
	EchoLevel float64

	// SuppressionGain is the current sensitivity-derived attenuation applied
	// to the predicted echo before subtraction.
	SuppressionGain float64

	// ProcessingLatencyMs is the moving average per-frame processing time.
	ProcessingLatencyMs float64

	// AdaptationConverged flips true once residual echo energy has
	// stabilized below the convergence bound after calibration.
	AdaptationConverged bool
}

// Config tunes the canceller.
type Config struct {
	// SampleRate of the capture stream in Hz. Required.
	SampleRate int

	// FilterTaps is the NLMS filter length in samples. Default 256
	// (16ms of echo tail at 16kHz).
	FilterTaps int

	// StepSize is the NLMS adaptation rate mu. Default 0.5.
	StepSize float64

	// NoiseGateThreshold is the normalized RMS below which residual output
	// is muted. Default 0.005.
	NoiseGateThreshold float64

	// Sensitivity is the initial suppression aggressiveness, 0..1.
	// Default 0.7.
	Sensitivity float64

	// CalibrationWindow is how much audio the startup calibration samples
	// before the profile is trusted. Default 2s.
	CalibrationWindow time.Duration

	// CalibrationTimeout bounds how long calibration may wait for reference
	// audio before giving up. Default 5s.
	CalibrationTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FilterTaps <= 0 {
		c.FilterTaps = 256
	}
	if c.StepSize <= 0 {
		c.StepSize = 0.5
	}
	if c.NoiseGateThreshold <= 0 {
		c.NoiseGateThreshold = 0.005
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = 0.7
	}
	if c.CalibrationWindow <= 0 {
		c.CalibrationWindow = 2 * time.Second
	}
	if c.CalibrationTimeout <= 0 {
		c.CalibrationTimeout = 5 * time.Second
	}
}

// Canceller subtracts predicted echo from captured frames.
//
// Process runs on the capture path and must stay cheap; FeedReference is
// called from the playback path. Both are safe for concurrent use.
type Canceller struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	weights   []float64
	reference []float64
	refPos    int

	sensitivity float64
	adapting    bool

	// calibration
	calibrated      bool
	calibFailed     bool
	calibSamples    int
	calibNeeded     int
	calibRefEnergy  float64
	calibDone       chan struct{}
	calibDeadline   time.Time
	warnPassthrough sync.Once

	// metrics
	echoLevel   float64
	residualAvg float64
	latencyMs   float64
	converged   bool
}

// New creates a canceller. Calibration starts with the first processed frame
// and completes, or times out, on the capture path itself; Calibrated() can
// be used to wait for the outcome.
func New(cfg Config) *Canceller {
	cfg.applyDefaults()
	return &Canceller{
		cfg:         cfg,
		log:         slog.Default().With("component", "echo"),
		weights:     make([]float64, cfg.FilterTaps),
		reference:   make([]float64, cfg.FilterTaps*4),
		sensitivity: cfg.Sensitivity,
		calibNeeded: int(cfg.CalibrationWindow.Seconds() * float64(cfg.SampleRate)),
		calibDone:   make(chan struct{}),
	}
}

// FeedReference records audio that is about to be played on the speaker. The
// canceller predicts echo from this signal. Call it for every playback chunk;
// while the assistant is silent, feeding nothing is correct and adaptation
// freezes automatically.
func (c *Canceller) FeedReference(pcm []byte) {
	samples := audio.Int16s(pcm)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range samples {
		c.reference[c.refPos] = float64(s) / 32768.0
		c.refPos = (c.refPos + 1) % len(c.reference)
	}
}

// Process cleans one captured frame in place and returns it. While the
// canceller is uncalibrated or calibration has failed, the frame passes
// through unmodified.
func (c *Canceller) Process(frame audio.Frame) audio.Frame {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.calibrated {
		c.calibrate(frame)
		return frame
	}
	if c.calibFailed {
		return frame
	}

	samples := audio.Int16s(frame.PCM)
	var capturedEnergy, echoEnergy, residualEnergy float64

	for i, s := range samples {
		captured := float64(s) / 32768.0
		predicted := c.predict(i, len(samples))
		cleaned := captured - c.sensitivity*predicted

		capturedEnergy += captured * captured
		echoEnergy += predicted * predicted
		residualEnergy += cleaned * cleaned

		c.adapt(i, len(samples), cleaned)

		v := cleaned * 32768.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}

	n := float64(len(samples))
	if residual := math.Sqrt(residualEnergy / n); residual < c.cfg.NoiseGateThreshold {
		for i := range samples {
			samples[i] = 0
		}
	}

	audio.BytesInto(frame.PCM, samples)
	c.updateMetrics(capturedEnergy, echoEnergy, residualEnergy, n, time.Since(start))
	return frame
}

// predict runs the filter over the reference ring, aligned so that sample i
// of the current frame corresponds to the most recently fed reference audio.
func (c *Canceller) predict(i, frameLen int) float64 {
	base := c.refPos - frameLen + i
	var sum float64
	for t, w := range c.weights {
		idx := base - t
		for idx < 0 {
			idx += len(c.reference)
		}
		sum += w * c.reference[idx%len(c.reference)]
	}
	return sum
}

// adapt applies one NLMS weight update from the residual error.
func (c *Canceller) adapt(i, frameLen int, err float64) {
	base := c.refPos - frameLen + i

	var norm float64
	for t := range c.weights {
		idx := base - t
		for idx < 0 {
			idx += len(c.reference)
		}
		r := c.reference[idx%len(c.reference)]
		norm += r * r
	}
	// A silent reference means there is no echo to model; freeze the filter
	// instead of adapting toward noise.
	if norm < 1e-6 {
		return
	}

	mu := c.cfg.StepSize / (norm + 1e-6)
	for t := range c.weights {
		idx := base - t
		for idx < 0 {
			idx += len(c.reference)
		}
		c.weights[t] += mu * err * c.reference[idx%len(c.reference)]
	}
}

func (c *Canceller) calibrate(frame audio.Frame) {
	if c.calibDeadline.IsZero() {
		c.calibDeadline = time.Now().Add(c.cfg.CalibrationTimeout)
	}

	var refEnergy float64
	for _, r := range c.reference {
		refEnergy += r * r
	}
	if refEnergy > 1e-6 {
		c.calibSamples += len(frame.PCM) / 2
		c.calibRefEnergy += refEnergy
	}

	switch {
	case c.calibSamples >= c.calibNeeded:
		c.calibrated = true
		close(c.calibDone)
		c.log.Info("echo calibration complete",
			"window", c.cfg.CalibrationWindow,
			"reference_energy", c.calibRefEnergy,
		)
	case time.Now().After(c.calibDeadline):
		c.calibrated = true
		c.calibFailed = true
		close(c.calibDone)
		c.warnPassthrough.Do(func() {
			c.log.Warn("echo calibration failed, degrading to pass-through",
				"timeout", c.cfg.CalibrationTimeout,
			)
		})
	}
}

func (c *Canceller) updateMetrics(captured, echo, residual, n float64, elapsed time.Duration) {
	const alpha = 0.1

	level := 0.0
	if captured > 1e-9 {
		level = math.Min(1, math.Sqrt(echo/captured))
	}
	c.echoLevel = (1-alpha)*c.echoLevel + alpha*level
	c.residualAvg = (1-alpha)*c.residualAvg + alpha*math.Sqrt(residual/n)
	c.latencyMs = (1-alpha)*c.latencyMs + alpha*float64(elapsed.Microseconds())/1000

	// Converged once the residual stabilizes below the gate bound while the
	// filter is actually predicting echo.
	if !c.converged && c.echoLevel > 0 && c.residualAvg < c.cfg.NoiseGateThreshold*4 {
		c.converged = true
	}
}

// SetSensitivity adjusts suppression aggressiveness at runtime, clamped to
// [0, 0.95]. The orchestrator escalates this when EchoLevel runs high.
func (c *Canceller) SetSensitivity(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < 0 {
		level = 0
	} else if level > 0.95 {
		level = 0.95
	}
	c.sensitivity = level
}

// Sensitivity returns the current suppression level.
func (c *Canceller) Sensitivity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensitivity
}

// Metrics returns a snapshot of the canceller's health.
func (c *Canceller) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		EchoLevel:           c.echoLevel,
		SuppressionGain:     c.sensitivity,
		ProcessingLatencyMs: c.latencyMs,
		AdaptationConverged: c.converged && !c.calibFailed,
	}
}

// Calibrated returns a channel that is closed once calibration completes or
// times out. Check Metrics().AdaptationConverged afterwards to tell the two
// outcomes apart.
func (c *Canceller) Calibrated() <-chan struct{} {
	return c.calibDone
}
