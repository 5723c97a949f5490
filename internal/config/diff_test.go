package config

import "testing"

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	old := Default()
	new := Default()
	d := Diff(old, new)
	if d.Changed() {
		t.Fatalf("want no hot-reloadable changes, got %+v", d)
	}
	if d.RestartRequired {
		t.Fatal("identical configs should not require restart")
	}
}

func TestDiff_HotReloadableFields(t *testing.T) {
	t.Parallel()

	old := Default()
	new := Default()
	new.Server.LogLevel = LogDebug
	new.Pipeline.VAD.ActivationThreshold = 0.7
	new.Pipeline.Echo.Sensitivity = 0.9
	new.Pipeline.BargeIn.MinConfidence = 0.85
	new.Providers.Agent.SystemPrompt = "You are terse."

	d := Diff(old, new)
	if !d.Changed() {
		t.Fatal("want changes detected")
	}
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Error("log level change not detected")
	}
	if !d.VADThresholdChanged || d.NewVADThreshold != 0.7 {
		t.Error("vad threshold change not detected")
	}
	if !d.EchoSensitivityChanged || d.NewEchoSensitivity != 0.9 {
		t.Error("echo sensitivity change not detected")
	}
	if !d.BargeInConfidenceChanged || d.NewBargeInConfidence != 0.85 {
		t.Error("barge-in confidence change not detected")
	}
	if !d.SystemPromptChanged || d.NewSystemPrompt != "You are terse." {
		t.Error("system prompt change not detected")
	}
	if d.RestartRequired {
		t.Error("tuning changes should not require restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 48000 }},
		{"listen addr", func(c *Config) { c.Server.ListenAddr = ":9999" }},
		{"asr provider", func(c *Config) { c.Providers.ASR.Name = "whisper" }},
		{"agent model", func(c *Config) { c.Providers.Agent.Model = "other" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := Default()
			new := Default()
			tc.mutate(new)
			if d := Diff(old, new); !d.RestartRequired {
				t.Errorf("%s change should require restart", tc.name)
			}
		})
	}
}
