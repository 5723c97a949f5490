package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":   {"deepgram", "whisper"},
	"tts":   {"elevenlabs"},
	"agent": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vad":   {"blended", "webrtc"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}

	if t := cfg.Pipeline.VAD.ActivationThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad.activation_threshold %.2f is out of range (0, 1]", t))
	}
	if s := cfg.Pipeline.Echo.Sensitivity; s < 0 || s > 0.95 {
		errs = append(errs, fmt.Errorf("pipeline.echo.sensitivity %.2f is out of range [0, 0.95]", s))
	}
	if c := cfg.Pipeline.BargeIn.MinConfidence; c <= 0 || c > 1 {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.min_confidence %.2f is out of range (0, 1]", c))
	}
	if cfg.Pipeline.BargeIn.ConsecutiveWindows <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.consecutive_windows must be positive"))
	}
	if cfg.Pipeline.Playback.DuckingDB > 0 {
		errs = append(errs, fmt.Errorf("pipeline.playback.ducking_db %.1f must be zero or negative", cfg.Pipeline.Playback.DuckingDB))
	}
	if fade := cfg.Pipeline.Playback.Fade.D(); fade < minFade || fade > maxFade {
		slog.Warn("playback fade outside supported window, it will be clamped",
			"fade", fade, "min", minFade, "max", maxFade)
	}

	for _, tc := range []struct {
		name string
		d    Duration
	}{
		{"state.speaking_timeout", cfg.State.SpeakingTimeout},
		{"state.processing_timeout", cfg.State.ProcessingTimeout},
		{"state.interrupted_timeout", cfg.State.InterruptedTimeout},
	} {
		if tc.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", tc.name))
		}
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("agent", cfg.Providers.Agent.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.ASR.Name == "" {
		slog.Warn("no ASR provider configured; transcription is disabled")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; the assistant will be mute")
	}

	return errors.Join(errs...)
}

// Playback fade clamp bounds, mirrored here for the validation warning.
const (
	minFade = 80 * time.Millisecond
	maxFade = 120 * time.Millisecond
)

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
