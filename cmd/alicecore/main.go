// Command alicecore is the main entry point for the Alice voice interaction
// core. It loads configuration, instantiates the configured providers, binds
// the audio hardware and the WebSocket gateway, and runs the orchestrator
// until a termination signal arrives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/alicecore/internal/capture"
	"github.com/MrWong99/alicecore/internal/config"
	"github.com/MrWong99/alicecore/internal/dsp/bargein"
	"github.com/MrWong99/alicecore/internal/dsp/echo"
	"github.com/MrWong99/alicecore/internal/health"
	"github.com/MrWong99/alicecore/internal/observe"
	"github.com/MrWong99/alicecore/internal/orchestrator"
	"github.com/MrWong99/alicecore/internal/playback"
	"github.com/MrWong99/alicecore/internal/resilience"
	"github.com/MrWong99/alicecore/internal/state"
	"github.com/MrWong99/alicecore/internal/wire"
	"github.com/MrWong99/alicecore/pkg/audio"
	"github.com/MrWong99/alicecore/pkg/provider/agent"
	"github.com/MrWong99/alicecore/pkg/provider/agent/anyllm"
	"github.com/MrWong99/alicecore/pkg/provider/asr"
	"github.com/MrWong99/alicecore/pkg/provider/asr/deepgram"
	"github.com/MrWong99/alicecore/pkg/provider/asr/whisperlocal"
	"github.com/MrWong99/alicecore/pkg/provider/tts"
	"github.com/MrWong99/alicecore/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/alicecore/pkg/provider/vad"
	"github.com/MrWong99/alicecore/pkg/provider/vad/blended"
	"github.com/MrWong99/alicecore/pkg/provider/vad/webrtc"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print available audio input devices and exit")
	noAudio := flag.Bool("no-audio", false, "run without local audio hardware; clients connect via the gateway")
	flag.Parse()

	if *listDevices {
		return printInputDevices()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var is shared with the config watcher so log_level changes
	// apply without a restart.
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// ── Configuration + hot reload ────────────────────────────────────────────
	var orchRef atomic.Pointer[orchestrator.Orchestrator]

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyDiff(config.Diff(old, new), logLevel, orchRef.Load())
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "alicecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "alicecore: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())

	slog.Info("alicecore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "alicecore",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audio hardware ────────────────────────────────────────────────────────
	var (
		frames <-chan audio.Frame
		output playback.Output
	)
	var mic *capture.Mic
	var speaker *capture.Speaker
	if *noAudio {
		// Gateway clients receive synthesized audio over the wire; a paced
		// sink keeps the jitter buffer pump running at the hardware rate.
		output = pacedSink(cfg.Audio.SampleRate, cfg.Audio.Channels)
		slog.Info("running without local audio hardware")
	} else {
		mic, err = capture.OpenMic(capture.Config{
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			FrameSamples: cfg.Audio.FrameSamples,
			DeviceName:   cfg.Audio.InputDevice,
		})
		if err != nil {
			slog.Error("failed to open microphone", "err", err)
			return 1
		}
		defer mic.Close()

		speaker, err = capture.OpenSpeaker(capture.Config{
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			FrameSamples: cfg.Audio.FrameSamples,
			DeviceName:   cfg.Audio.OutputDevice,
		})
		if err != nil {
			slog.Error("failed to open speaker", "err", err)
			return 1
		}
		defer speaker.Close()

		frames = mic.Frames()
		output = speaker.Write
	}

	// ── Gateway + orchestrator ────────────────────────────────────────────────
	gateway := wire.NewGateway(wire.GatewayConfig{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	})
	defer gateway.Close()

	orch, err := orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		ASR:     providers.ASR,
		TTS:     providers.TTS,
		Agent:   providers.Agent,
		VAD:     providers.VAD,
		Frames:  frames,
		Output:  output,
		Gateway: gateway,
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return 1
	}
	orchRef.Store(orch)

	if mic != nil {
		if err := mic.Start(ctx); err != nil {
			slog.Error("failed to start microphone", "err", err)
			return 1
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := newServer(cfg.Server.ListenAddr, gateway, orch, metrics)
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	printStartupSummary(cfg, *noAudio)
	slog.Info("pipeline ready — press Ctrl+C to shut down")

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	exitCode := 0
	select {
	case err := <-srvErr:
		slog.Error("http server error", "err", err)
		stop()
		<-runErr
		exitCode = 1
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			exitCode = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMBackends are the reply generation backends reachable through the
// any-llm streaming client. All share the optional APIKey + BaseURL pattern
// except ollama, which is a local server addressed via BaseURL only.
var anyLLMBackends = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisperlocal.Option
		if entry.Language != "" {
			opts = append(opts, whisperlocal.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisperlocal.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_utterance_ms"); ms > 0 {
			opts = append(opts, whisperlocal.WithMaxUtteranceMs(ms))
		}
		return whisperlocal.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Agent ─────────────────────────────────────────────────────────────────

	for _, backendName := range anyLLMBackends {
		reg.RegisterAgent(backendName, func(entry config.ProviderEntry) (agent.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backendName, entry.Model, opts...)
		})
	}

	reg.RegisterAgent("ollama", func(entry config.ProviderEntry) (agent.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("blended", func(config.ProviderEntry) (vad.Engine, error) {
		return blended.New(), nil
	})
	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})
}

// providerSet holds the instantiated external collaborators.
type providerSet struct {
	ASR   asr.Provider
	TTS   tts.Provider
	Agent agent.Provider
	VAD   vad.Engine
}

// buildProviders instantiates the providers named in cfg. All four are
// required; the pipeline cannot run a turn without any of them. A cloud ASR
// provider can be given a local whisper fallback via the
// "fallback_model_path" option, and a TTS provider an alternate model via
// "fallback_model"; both are wrapped in circuit breakers so a flapping
// endpoint degrades instead of failing turns.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	entry := cfg.Providers.ASR
	if entry.Name == "" {
		return nil, errors.New("main: no asr provider configured")
	}
	asrProvider, err := reg.CreateASR(entry)
	if err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", entry.Name, err)
	}
	ps.ASR = asrProvider
	slog.Info("provider created", "kind", "asr", "name", entry.Name)

	if path := optString(entry.Options, "fallback_model_path"); path != "" {
		local, err := reg.CreateASR(config.ProviderEntry{
			Name:     "whisper",
			Model:    path,
			Language: entry.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("create asr fallback: %w", err)
		}
		fb := resilience.NewASRFallback(asrProvider, entry.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "asr"},
		})
		fb.AddFallback("whisper", local)
		ps.ASR = fb
		slog.Info("asr fallback armed", "primary", entry.Name, "fallback", "whisper")
	}

	ttsEntry := cfg.Providers.TTS
	if ttsEntry.Name == "" {
		return nil, errors.New("main: no tts provider configured")
	}
	ps.TTS, err = reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name)

	if fbModel := optString(ttsEntry.Options, "fallback_model"); fbModel != "" {
		fbEntry := ttsEntry
		fbEntry.Model = fbModel
		alt, err := reg.CreateTTS(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback: %w", err)
		}
		fb := resilience.NewTTSFallback(ps.TTS, ttsEntry.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "tts"},
		})
		fb.AddFallback(fbModel, alt)
		ps.TTS = fb
		slog.Info("tts fallback armed", "primary", ttsEntry.Name, "fallback_model", fbModel)
	}

	if cfg.Providers.Agent.Name == "" {
		return nil, errors.New("main: no agent provider configured")
	}
	ps.Agent, err = reg.CreateAgent(cfg.Providers.Agent)
	if err != nil {
		return nil, fmt.Errorf("create agent provider %q: %w", cfg.Providers.Agent.Name, err)
	}
	slog.Info("provider created", "kind", "agent", "name", cfg.Providers.Agent.Name)

	vadEntry := cfg.Providers.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "blended"
	}
	ps.VAD, err = reg.CreateVAD(vadEntry)
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", vadEntry.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", vadEntry.Name)

	return ps, nil
}

// orchestratorConfig maps the YAML schema onto the orchestrator's tuning.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	p := cfg.Pipeline
	return orchestrator.Config{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		FrameSamples: cfg.Audio.FrameSamples,
		Preroll:      p.Preroll.D(),

		Language:     cfg.Providers.ASR.Language,
		SystemPrompt: cfg.Providers.Agent.SystemPrompt,
		Voice:        tts.Voice{ID: cfg.Providers.TTS.Voice},

		SpeechThreshold:   p.VAD.ActivationThreshold,
		VADAggressiveness: optInt(cfg.Providers.VAD.Options, "aggressiveness"),

		Echo:    echoConfig(p.Echo),
		BargeIn: bargeInConfig(p.BargeIn, cfg.Audio.FrameSamples),
		Playback: playback.Config{
			Prebuffer: p.Playback.Prebuffer.D(),
			Fade:      p.Playback.Fade.D(),
			DuckingDB: p.Playback.DuckingDB,
		},
		StateTimeouts: state.Timeouts{
			Speaking:    cfg.State.SpeakingTimeout.D(),
			Processing:  cfg.State.ProcessingTimeout.D(),
			Interrupted: cfg.State.InterruptedTimeout.D(),
		},
		AutoResume: cfg.State.AutoResume,
	}
}

func echoConfig(t config.EchoTuning) echo.Config {
	return echo.Config{
		FilterTaps:         t.FilterTaps,
		StepSize:           t.StepSize,
		NoiseGateThreshold: t.NoiseGateThreshold,
		Sensitivity:        t.Sensitivity,
		CalibrationWindow:  t.CalibrationWindow.D(),
		CalibrationTimeout: t.CalibrationTimeout.D(),
	}
}

func bargeInConfig(t config.BargeInTuning, windowSamples int) bargein.Config {
	return bargein.Config{
		WindowSamples:      windowSamples,
		MinConfidence:      t.MinConfidence,
		ConsecutiveWindows: t.ConsecutiveWindows,
		Debounce:           t.Debounce.D(),
		CalibrationWindows: t.CalibrationWindows,
	}
}

// applyDiff pushes hot-reloadable config changes into the running pipeline.
func applyDiff(d config.ConfigDiff, logLevel *slog.LevelVar, orch *orchestrator.Orchestrator) {
	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("configuration change affects audio format, providers or listen address — restart required to apply")
	}
	if orch == nil {
		return
	}
	if d.SystemPromptChanged {
		orch.SetSystemPrompt(d.NewSystemPrompt)
	}
	if d.EchoSensitivityChanged {
		orch.SetEchoSensitivity(d.NewEchoSensitivity)
	}
	if d.BargeInConfidenceChanged {
		orch.SetBargeInConfidence(d.NewBargeInConfidence)
	}
	if d.VADThresholdChanged {
		if err := orch.SetVADThreshold(d.NewVADThreshold); err != nil {
			slog.Warn("rejected vad threshold from config reload", "value", d.NewVADThreshold, "err", err)
		}
	}
}

// ── HTTP server ───────────────────────────────────────────────────────────────

func newServer(addr string, gateway *wire.Gateway, orch *orchestrator.Orchestrator, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	// Read-only snapshot of what the gateway also broadcasts periodically.
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		st := orch.Status()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(wire.StatusEvent{
			State:            string(st.State),
			Uptime:           st.Uptime,
			MicEnabled:       st.MicEnabled,
			ActiveSessions:   1,
			BargeInCount:     st.BargeIns,
			ReconnectCount:   st.Reconnects,
			DroppedFrames:    st.DroppedFrames,
			EchoLevel:        st.EchoLevel,
			VADConfidence:    st.VADConfidence,
			LastPartial:      st.LastPartial,
			LastRoundTripMs:  st.LastRoundTripMs,
			ProviderHealthOK: st.ProviderHealthy,
		})
	})

	health.New(health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if s := orch.State(); s == state.Error {
				return fmt.Errorf("pipeline in error state: %s", orch.StateContext().Reason)
			}
			return nil
		},
	}).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Audio helpers ─────────────────────────────────────────────────────────────

// pacedSink discards PCM at the rate real hardware would consume it, so the
// jitter buffer's pump loop keeps its timing in gateway-only deployments.
func pacedSink(sampleRate, channels int) playback.Output {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	bytesPerSecond := sampleRate * channels * 2
	return func(pcm []byte) {
		time.Sleep(time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSecond))
	}
}

func printInputDevices() int {
	devices, err := capture.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "alicecore: %v\n", err)
		return 1
	}
	for _, dev := range devices {
		marker := " "
		if dev.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s (%d ch, %.0f Hz)\n", marker, dev.Name, dev.MaxInputChannels, dev.DefaultSampleRate)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, noAudio bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        alicecore — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Agent", cfg.Providers.Agent.Name, cfg.Providers.Agent.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	audioLine := fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels)
	if noAudio {
		audioLine = "gateway only"
	}
	fmt.Printf("║  Audio           : %-19s ║\n", audioLine)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
