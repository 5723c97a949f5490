package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded without restarting the pipeline are tracked;
// audio format or provider changes require a restart and are reported via
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADThresholdChanged reports a new activation threshold to push into
	// the running detector.
	VADThresholdChanged bool
	NewVADThreshold     float64

	// EchoSensitivityChanged reports a new subtraction sensitivity for the
	// running canceller.
	EchoSensitivityChanged bool
	NewEchoSensitivity     float64

	// BargeInConfidenceChanged reports a new minimum barge-in confidence.
	BargeInConfidenceChanged bool
	NewBargeInConfidence     float64

	// SystemPromptChanged reports a new assistant persona, applied from the
	// next reply onward.
	SystemPromptChanged bool
	NewSystemPrompt     string

	// RestartRequired is set when a non-hot-reloadable section (audio
	// format, provider selection, listen address) differs.
	RestartRequired bool
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADThresholdChanged || d.EchoSensitivityChanged ||
		d.BargeInConfidenceChanged || d.SystemPromptChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.VAD.ActivationThreshold != new.Pipeline.VAD.ActivationThreshold {
		d.VADThresholdChanged = true
		d.NewVADThreshold = new.Pipeline.VAD.ActivationThreshold
	}
	if old.Pipeline.Echo.Sensitivity != new.Pipeline.Echo.Sensitivity {
		d.EchoSensitivityChanged = true
		d.NewEchoSensitivity = new.Pipeline.Echo.Sensitivity
	}
	if old.Pipeline.BargeIn.MinConfidence != new.Pipeline.BargeIn.MinConfidence {
		d.BargeInConfidenceChanged = true
		d.NewBargeInConfidence = new.Pipeline.BargeIn.MinConfidence
	}
	if old.Providers.Agent.SystemPrompt != new.Providers.Agent.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Providers.Agent.SystemPrompt
	}

	if old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		providerIdentity(old.Providers.ASR) != providerIdentity(new.Providers.ASR) ||
		providerIdentity(old.Providers.TTS) != providerIdentity(new.Providers.TTS) ||
		providerIdentity(old.Providers.Agent) != providerIdentity(new.Providers.Agent) ||
		providerIdentity(old.Providers.VAD) != providerIdentity(new.Providers.VAD) {
		d.RestartRequired = true
	}

	return d
}

// providerIdentity reduces an entry to the fields whose change means the
// provider must be rebuilt.
func providerIdentity(e ProviderEntry) [4]string {
	return [4]string{e.Name, e.APIKey, e.BaseURL, e.Model}
}
