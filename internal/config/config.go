// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the alicecore voice pipeline.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding slog.Level. Unknown levels map to
// Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps time.Duration so YAML configs can use human-readable values
// like "300ms" or "2s".
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"300ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root configuration structure for alicecore. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	State     StateConfig     `yaml:"state"`
	SLO       SLOConfig       `yaml:"slo"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the PCM format of the capture path. Everything
// downstream of the microphone works in this format.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels per frame. Default 1 (mono).
	Channels int `yaml:"channels"`

	// FrameSamples is the capture buffer size in samples. Default 512.
	FrameSamples int `yaml:"frame_samples"`

	// InputDevice selects a capture device by name. Empty means default.
	InputDevice string `yaml:"input_device"`

	// OutputDevice selects a playback device by name. Empty means default.
	OutputDevice string `yaml:"output_device"`
}

// PipelineConfig holds the tuning knobs for the audio processing stages.
type PipelineConfig struct {
	VAD      VADTuning      `yaml:"vad"`
	Echo     EchoTuning     `yaml:"echo"`
	BargeIn  BargeInTuning  `yaml:"barge_in"`
	Playback PlaybackTuning `yaml:"playback"`

	// Preroll is how much echo-cleaned audio from before speech onset is
	// prepended to the recognition stream. Default 300ms.
	Preroll Duration `yaml:"preroll"`
}

// VADTuning tunes the voice activity detector.
type VADTuning struct {
	// EnergyThreshold is the RMS level treated as full-confidence energy.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// ActivationThreshold is the smoothed confidence above which a frame
	// counts as voiced. Range (0, 1].
	ActivationThreshold float64 `yaml:"activation_threshold"`

	// SmoothingFrames is the size of the confidence rolling average.
	SmoothingFrames int `yaml:"smoothing_frames"`

	// MinVoiceFrames is how many consecutive voiced frames open a segment.
	MinVoiceFrames int `yaml:"min_voice_frames"`

	// MinSilenceFrames is how many consecutive silent frames close one.
	MinSilenceFrames int `yaml:"min_silence_frames"`
}

// EchoTuning tunes the acoustic echo canceller.
type EchoTuning struct {
	// FilterTaps is the adaptive filter length in samples.
	FilterTaps int `yaml:"filter_taps"`

	// StepSize is the NLMS adaptation rate.
	StepSize float64 `yaml:"step_size"`

	// NoiseGateThreshold mutes residual below this RMS level.
	NoiseGateThreshold float64 `yaml:"noise_gate_threshold"`

	// Sensitivity scales echo subtraction. Range [0, 0.95].
	Sensitivity float64 `yaml:"sensitivity"`

	// CalibrationWindow is how much referenced audio calibration needs.
	CalibrationWindow Duration `yaml:"calibration_window"`

	// CalibrationTimeout bounds calibration before degrading to
	// pass-through.
	CalibrationTimeout Duration `yaml:"calibration_timeout"`
}

// BargeInTuning tunes interrupt detection.
type BargeInTuning struct {
	// MinConfidence is the per-window score needed to count toward a
	// barge-in. Range (0, 1].
	MinConfidence float64 `yaml:"min_confidence"`

	// ConsecutiveWindows is how many qualifying windows fire the event.
	ConsecutiveWindows int `yaml:"consecutive_windows"`

	// Debounce suppresses repeat events after a fire.
	Debounce Duration `yaml:"debounce"`

	// CalibrationWindows is how many initial windows build the noise
	// profile.
	CalibrationWindows int `yaml:"calibration_windows"`
}

// PlaybackTuning tunes the output jitter buffer.
type PlaybackTuning struct {
	// Prebuffer is how much audio accumulates before playback starts.
	Prebuffer Duration `yaml:"prebuffer"`

	// Fade is the cosine fade-out applied on interrupt. Clamped to
	// 80-120ms.
	Fade Duration `yaml:"fade"`

	// DuckingDB is the gain reduction requested from other outputs while
	// the assistant speaks. Negative, in decibels.
	DuckingDB float64 `yaml:"ducking_db"`
}

// StateConfig tunes the conversation state machine.
type StateConfig struct {
	// SpeakingTimeout bounds the speaking state. Default 30s.
	SpeakingTimeout Duration `yaml:"speaking_timeout"`

	// ProcessingTimeout bounds the processing state. Default 10s.
	ProcessingTimeout Duration `yaml:"processing_timeout"`

	// InterruptedTimeout bounds the interrupted state. Default 5s.
	InterruptedTimeout Duration `yaml:"interrupted_timeout"`

	// AutoResume replays interrupted content when the interrupted state
	// times out without new user input.
	AutoResume bool `yaml:"auto_resume"`
}

// SLOConfig holds the latency budgets exported as metric annotations and
// logged when exceeded. These are observability targets, not enforcement.
type SLOConfig struct {
	FirstPartial  Duration `yaml:"first_partial"`
	FirstAudio    Duration `yaml:"first_audio"`
	BargeInCutoff Duration `yaml:"barge_in_cutoff"`
	RoundTrip     Duration `yaml:"round_trip"`
}

// ProvidersConfig declares which implementation to use for each external
// collaborator. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	ASR   ProviderEntry `yaml:"asr"`
	TTS   ProviderEntry `yaml:"tts"`
	Agent ProviderEntry `yaml:"agent"`
	VAD   ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "deepgram",
	// "elevenlabs", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2",
	// "gpt-4o-mini").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for synthesis.
	Voice string `yaml:"voice"`

	// Language is a BCP-47 language hint for recognition.
	Language string `yaml:"language"`

	// SystemPrompt is the assistant persona for reply generation.
	SystemPrompt string `yaml:"system_prompt"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// Default returns a Config populated with the pipeline's default tuning.
// Loading merges file values over these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			Channels:     1,
			FrameSamples: 512,
		},
		Pipeline: PipelineConfig{
			VAD: VADTuning{
				EnergyThreshold:     0.01,
				ActivationThreshold: 0.5,
				SmoothingFrames:     10,
				MinVoiceFrames:      3,
				MinSilenceFrames:    5,
			},
			Echo: EchoTuning{
				FilterTaps:         256,
				StepSize:           0.5,
				NoiseGateThreshold: 0.005,
				Sensitivity:        0.7,
				CalibrationWindow:  Duration(2 * time.Second),
				CalibrationTimeout: Duration(5 * time.Second),
			},
			BargeIn: BargeInTuning{
				MinConfidence:      0.8,
				ConsecutiveWindows: 3,
				Debounce:           Duration(500 * time.Millisecond),
				CalibrationWindows: 30,
			},
			Playback: PlaybackTuning{
				Prebuffer: Duration(100 * time.Millisecond),
				Fade:      Duration(100 * time.Millisecond),
				DuckingDB: -18,
			},
			Preroll: Duration(300 * time.Millisecond),
		},
		State: StateConfig{
			SpeakingTimeout:    Duration(30 * time.Second),
			ProcessingTimeout:  Duration(10 * time.Second),
			InterruptedTimeout: Duration(5 * time.Second),
			AutoResume:         true,
		},
		SLO: SLOConfig{
			FirstPartial:  Duration(300 * time.Millisecond),
			FirstAudio:    Duration(150 * time.Millisecond),
			BargeInCutoff: Duration(120 * time.Millisecond),
			RoundTrip:     Duration(500 * time.Millisecond),
		},
	}
}
