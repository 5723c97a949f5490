// Package orchestrator wires the full voice pipeline: microphone frames flow
// through echo cancellation into voice-activity and barge-in detection, speech
// segments stream to recognition, finals drive reply generation, and the
// streamed reply is synthesized into the jitter buffer while the state manager
// tracks who is talking.
//
// Coordination is a single event loop fed by bounded channels; the capture
// path never blocks on network I/O. A barge-in cancels generation, synthesis
// and playback from one context so the cut lands inside the latency budget.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/alicecore/internal/dsp/bargein"
	"github.com/MrWong99/alicecore/internal/dsp/echo"
	"github.com/MrWong99/alicecore/internal/observe"
	"github.com/MrWong99/alicecore/internal/playback"
	"github.com/MrWong99/alicecore/internal/state"
	"github.com/MrWong99/alicecore/internal/wire"
	"github.com/MrWong99/alicecore/pkg/audio"
	"github.com/MrWong99/alicecore/pkg/provider/agent"
	"github.com/MrWong99/alicecore/pkg/provider/asr"
	"github.com/MrWong99/alicecore/pkg/provider/tts"
	"github.com/MrWong99/alicecore/pkg/provider/vad"
)

// Config tunes the orchestrator and the pipeline components it owns.
type Config struct {
	// SampleRate of the capture path in Hz. Default 16000.
	SampleRate int

	// Channels of the capture path. Default 1.
	Channels int

	// FrameSamples is the capture frame length in samples. Default 512.
	FrameSamples int

	// Preroll is how much echo-cleaned audio is kept before speech onset and
	// prepended to the recognition stream so onsets are not clipped.
	// Default 300ms.
	Preroll time.Duration

	// Language is the BCP-47 recognition hint passed to the ASR session.
	Language string

	// SystemPrompt seeds every reply generation request.
	SystemPrompt string

	// Voice selects the synthesis voice.
	Voice tts.Voice

	// MaxHistory caps the conversation messages kept between turns.
	// Default 32.
	MaxHistory int

	// SpeechThreshold is the VAD probability above which a frame counts as
	// speech. Default 0.5.
	SpeechThreshold float64

	// VADAggressiveness is passed through to backends that use it, 0..3.
	VADAggressiveness int

	// Echo tunes the echo canceller.
	Echo echo.Config

	// BargeIn tunes the interruption detector.
	BargeIn bargein.Config

	// Playback tunes the jitter buffer.
	Playback playback.Config

	// StateTimeouts bounds how long each conversational state may last.
	StateTimeouts state.Timeouts

	// AutoResume replays interrupted content after the interrupted timeout.
	AutoResume bool

	// EchoEscalateAbove is the echo level beyond which suppression is
	// stepped up. Default 0.3.
	EchoEscalateAbove float64

	// EchoEscalateStep is the sensitivity increment per escalation.
	// Default 0.05.
	EchoEscalateStep float64

	// TuneInterval is how often the echo metrics are sampled for
	// auto-escalation. Default 1s.
	TuneInterval time.Duration

	// StatusInterval is how often a status snapshot is broadcast.
	// Default 5s.
	StatusInterval time.Duration

	// Reconnect bounds the recognition stream redial policy.
	Reconnect ReconnectConfig
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = 512
	}
	if c.Preroll <= 0 {
		c.Preroll = 300 * time.Millisecond
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 32
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.5
	}
	if c.EchoEscalateAbove <= 0 {
		c.EchoEscalateAbove = 0.3
	}
	if c.EchoEscalateStep <= 0 {
		c.EchoEscalateStep = 0.05
	}
	if c.TuneInterval <= 0 {
		c.TuneInterval = time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.Echo.SampleRate == 0 {
		c.Echo.SampleRate = c.SampleRate
	}
	if c.BargeIn.SampleRate == 0 {
		c.BargeIn.SampleRate = c.SampleRate
	}
	if c.Playback.SampleRate == 0 {
		c.Playback.SampleRate = c.SampleRate
	}
	if c.Playback.Channels == 0 {
		c.Playback.Channels = c.Channels
	}
}

// Deps are the external collaborators. ASR, TTS, Agent, VAD and Output are
// required; Frames and Gateway are the two audio sources and at least one must
// be present.
type Deps struct {
	// ASR is the streaming recognition backend.
	ASR asr.Provider

	// TTS is the streaming synthesis backend.
	TTS tts.Provider

	// Agent is the reply generation backend.
	Agent agent.Provider

	// VAD is the voice-activity engine classifying capture frames.
	VAD vad.Engine

	// Frames delivers raw capture frames, typically from the microphone.
	Frames <-chan audio.Frame

	// Output receives playable PCM chunks; expected to block at the
	// hardware rate.
	Output playback.Output

	// Gateway, when set, receives pipeline events and feeds remote audio
	// and control messages in.
	Gateway *wire.Gateway

	// Metrics defaults to the process-wide instruments when nil.
	Metrics *observe.Metrics

	// Ducker is handed to the jitter buffer for output ducking.
	Ducker playback.Ducker
}

// Orchestrator runs one voice session end to end. Create it with New, then
// call Run on a dedicated goroutine; Run returns when the context ends.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	state    *state.Manager
	echo     *echo.Canceller
	bargein  *bargein.Detector
	playback *playback.Buffer
	preroll  *audio.Ring
	stream   *asrStream

	vadMu      sync.Mutex
	vadSession vad.SessionHandle
	vadCfg     vad.Config

	gwFrames   chan audio.Frame
	micEnabled atomic.Bool

	mu            sync.Mutex
	runCtx        context.Context
	started       time.Time
	conversation  []agent.Message
	systemPrompt  string
	turn          *turn
	utteranceOpen bool
	speechStartAt time.Time
	speechEndAt   time.Time
	sawPartial    bool
	lastPartial   string

	bargeInCount    atomic.Int64
	reconnectCount  atomic.Int64
	droppedFrames   atomic.Int64
	lastRoundTripMs atomic.Int64
	lastVADProb     atomic.Uint64
	providerHealthy atomic.Bool

	turnWG sync.WaitGroup
}

// New creates an orchestrator and the pipeline components it owns. The
// recognition stream is dialed lazily on the first detected speech onset.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.applyDefaults()
	switch {
	case deps.ASR == nil:
		return nil, fmt.Errorf("orchestrator: missing ASR provider")
	case deps.TTS == nil:
		return nil, fmt.Errorf("orchestrator: missing TTS provider")
	case deps.Agent == nil:
		return nil, fmt.Errorf("orchestrator: missing agent provider")
	case deps.VAD == nil:
		return nil, fmt.Errorf("orchestrator: missing VAD engine")
	case deps.Output == nil:
		return nil, fmt.Errorf("orchestrator: missing audio output")
	case deps.Frames == nil && deps.Gateway == nil:
		return nil, fmt.Errorf("orchestrator: no audio source (frames or gateway)")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		log:          slog.Default().With("component", "orchestrator"),
		metrics:      deps.Metrics,
		echo:         echo.New(cfg.Echo),
		bargein:      bargein.New(cfg.BargeIn),
		preroll:      audio.NewRing(cfg.SampleRate, int(cfg.Preroll.Milliseconds())),
		gwFrames:     make(chan audio.Frame, 64),
		systemPrompt: cfg.SystemPrompt,
	}
	o.micEnabled.Store(true)
	o.providerHealthy.Store(true)

	o.state = state.NewManager(
		state.WithTimeouts(cfg.StateTimeouts),
		state.WithAutoResume(cfg.AutoResume),
		state.WithStopSpeakingFunc(o.onSpeakingTimeout),
		state.WithResumeFunc(o.onAutoResume),
	)

	// The speaker feed doubles as the echo reference so the canceller
	// predicts exactly what is audible.
	out := func(pcm []byte) {
		o.echo.FeedReference(pcm)
		deps.Output(pcm)
	}
	var popts []playback.Option
	if deps.Ducker != nil {
		popts = append(popts, playback.WithDucker(deps.Ducker))
	}
	o.playback = playback.New(cfg.Playback, out, popts...)

	o.vadCfg = vad.Config{
		SampleRate:      cfg.SampleRate,
		FrameSizeMs:     cfg.FrameSamples * 1000 / cfg.SampleRate,
		SpeechThreshold: cfg.SpeechThreshold,
		Aggressiveness:  cfg.VADAggressiveness,
	}
	sess, err := deps.VAD.NewSession(o.vadCfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open vad session: %w", err)
	}
	o.vadSession = sess

	o.stream = newASRStream(deps.ASR, asr.StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Language:   cfg.Language,
	}, cfg.Reconnect, o.onASRConnect, o.onASRFailure)

	return o, nil
}

// State exposes the live conversational state.
func (o *Orchestrator) State() state.State {
	return o.state.Current()
}

// StateContext exposes the context attached to the last transition.
func (o *Orchestrator) StateContext() state.Context {
	return o.state.CurrentContext()
}

// Run drives the pipeline until ctx ends. It owns the jitter buffer pump, the
// capture path, the coordination loop and the tuning loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.started = time.Now()
	o.runCtx = ctx
	o.mu.Unlock()

	o.bargein.Start()
	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.playback.Run()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		o.bargein.Stop()
		o.stream.Close()
		o.playback.Close()
		return nil
	})
	g.Go(func() error { return o.captureLoop(gctx) })
	g.Go(func() error { return o.eventLoop(gctx) })
	g.Go(func() error { return o.tuneLoop(gctx) })
	if o.deps.Gateway != nil {
		g.Go(func() error { return o.gatewayLoop(gctx) })
	}

	err := g.Wait()
	o.turnWG.Wait()
	return err
}

// --- capture path ---

func (o *Orchestrator) captureLoop(ctx context.Context) error {
	frames := o.deps.Frames
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			o.processFrame(ctx, f)
		case f := <-o.gwFrames:
			o.processFrame(ctx, f)
		}
	}
}

// processFrame runs the full per-frame path: echo cleanup, pre-roll, barge-in
// scoring, VAD classification and the push into the recognition stream.
func (o *Orchestrator) processFrame(ctx context.Context, f audio.Frame) {
	if !o.micEnabled.Load() {
		return
	}
	if len(f.PCM) == 0 || len(f.PCM)%2 != 0 {
		o.dropFrame(ctx, "capture")
		return
	}

	f = o.echo.Process(f)
	o.preroll.Write(f.PCM)
	o.bargein.ProcessFrame(f)

	o.vadMu.Lock()
	ev, err := o.vadSession.ProcessFrame(f.PCM)
	o.vadMu.Unlock()
	if err != nil {
		o.log.Debug("vad rejected frame", "error", err)
		return
	}
	o.lastVADProb.Store(math.Float64bits(ev.Probability))

	switch ev.Type {
	case vad.SpeechStart:
		o.onSpeechStart(ctx, f.PCM)
	case vad.SpeechEnd:
		o.mu.Lock()
		o.speechEndAt = time.Now()
		o.mu.Unlock()
		o.pushFrame(ctx, f.PCM)
	default:
		// Silence after speech keeps flowing until the final arrives so
		// the backend can endpoint the utterance.
		o.pushFrame(ctx, f.PCM)
	}
}

func (o *Orchestrator) onSpeechStart(ctx context.Context, pcm []byte) {
	o.mu.Lock()
	if o.utteranceOpen {
		// Onset inside an open utterance, keep streaming.
		o.mu.Unlock()
		o.pushFrame(ctx, pcm)
		return
	}
	o.utteranceOpen = true
	o.speechStartAt = time.Now()
	o.sawPartial = false
	o.mu.Unlock()

	o.stream.Open(ctx)
	if o.stream.Connected() {
		// The pre-roll ring holds the onset plus the audio just before
		// it; a fresh dial replays it from the connect callback instead.
		if pre := o.preroll.Snapshot(); len(pre) > 0 {
			if err := o.stream.Push(pre); err != nil {
				o.dropFrame(ctx, "asr")
			}
		}
	}
}

func (o *Orchestrator) pushFrame(ctx context.Context, pcm []byte) {
	o.mu.Lock()
	open := o.utteranceOpen
	o.mu.Unlock()
	if !open {
		return
	}
	if err := o.stream.Push(pcm); err != nil {
		o.dropFrame(ctx, "asr")
	}
}

func (o *Orchestrator) dropFrame(ctx context.Context, stage string) {
	o.droppedFrames.Add(1)
	o.metrics.RecordDroppedFrame(ctx, stage)
}

// --- recognition stream callbacks ---

func (o *Orchestrator) onASRConnect(attempt int) {
	if attempt > 0 {
		o.reconnectCount.Add(1)
		o.metrics.RecordReconnect(o.runContext(), "asr")
	}
	o.providerHealthy.Store(true)

	// A fresh session has heard nothing; replay the pre-roll so the
	// utterance in flight is not clipped.
	if pre := o.preroll.Snapshot(); len(pre) > 0 {
		if err := o.stream.Push(pre); err != nil {
			o.log.Debug("pre-roll replay failed", "error", err)
		}
	}
}

func (o *Orchestrator) onASRFailure(err error) {
	o.providerHealthy.Store(false)
	o.metrics.RecordProviderError(o.runContext(), "asr", "asr")
	if ferr := o.state.Fail(err.Error()); ferr != nil {
		o.log.Error("recognition stream lost", "error", err)
	}
}

// --- coordination ---

func (o *Orchestrator) eventLoop(ctx context.Context) error {
	stateSub := o.state.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr := <-stateSub:
			o.handleTransition(ctx, tr)
		case ev := <-o.bargein.Events():
			o.interruptNow(ctx, ev.Confidence, "detector")
		case t := <-o.stream.Partials():
			o.handlePartial(ctx, t)
		case t := <-o.stream.Finals():
			o.handleFinal(ctx, t)
		}
	}
}

func (o *Orchestrator) gatewayLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-o.deps.Gateway.Inbound():
			if !ok {
				return nil
			}
			switch {
			case in.Frame != nil:
				select {
				case o.gwFrames <- *in.Frame:
				default:
					o.dropFrame(ctx, "gateway")
				}
			case in.BargeIn != nil:
				o.log.Info("client barge-in", "reason", in.BargeIn.Reason)
				o.interruptNow(ctx, 1, "client")
			case in.Mic != nil:
				o.SetMicEnabled(in.Mic.Enabled)
			}
		}
	}
}

func (o *Orchestrator) handleTransition(ctx context.Context, tr state.Transition) {
	o.bargein.SetAliceSpeaking(tr.To == state.Speaking)
	o.bargein.SetContextState(string(tr.To))
	o.metrics.RecordTransition(ctx, string(tr.From), string(tr.To))
	o.broadcast(wire.EventStateChange, wire.StateChangeEvent{
		From:   string(tr.From),
		To:     string(tr.To),
		Reason: tr.Context.Reason,
	})
}

func (o *Orchestrator) handlePartial(ctx context.Context, t asr.Transcript) {
	o.mu.Lock()
	o.lastPartial = t.Text
	if !o.sawPartial && !o.speechStartAt.IsZero() {
		o.sawPartial = true
		o.metrics.FirstPartialLatency.Record(ctx, time.Since(o.speechStartAt).Seconds())
	}
	o.mu.Unlock()
	o.broadcast(wire.EventSTTPartial, wire.TranscriptEvent{
		Text:       t.Text,
		Confidence: t.Confidence,
		DurationMs: t.Duration.Milliseconds(),
	})
}

func (o *Orchestrator) handleFinal(ctx context.Context, t asr.Transcript) {
	o.mu.Lock()
	o.utteranceOpen = false
	o.mu.Unlock()

	o.broadcast(wire.EventSTTFinal, wire.TranscriptEvent{
		Text:       t.Text,
		Confidence: t.Confidence,
		DurationMs: t.Duration.Milliseconds(),
	})

	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	switch cur := o.state.Current(); cur {
	case state.Listening, state.Interrupted:
		if err := o.state.BeginProcessing(text); err != nil {
			o.log.Warn("begin processing", "error", err)
			return
		}
		o.turnWG.Add(1)
		go o.runTurn(ctx, text)
	default:
		o.log.Debug("dropping final transcript", "state", cur, "text", text)
	}
}

// --- reply turn ---

func (o *Orchestrator) runTurn(ctx context.Context, userInput string) {
	defer o.turnWG.Done()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	tn := &turn{cancel: cancel, userInput: userInput}

	o.mu.Lock()
	o.conversation = append(o.conversation, agent.Message{Role: agent.RoleUser, Content: userInput})
	o.trimHistoryLocked()
	conv := make([]agent.Message, len(o.conversation))
	copy(conv, o.conversation)
	prompt := o.systemPrompt
	o.turn = tn
	o.mu.Unlock()

	deltas, err := o.deps.Agent.StreamReply(turnCtx, conv, agent.ReplyOptions{SystemPrompt: prompt})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "agent", "agent")
		o.log.Error("reply generation failed to start", "error", err)
		o.abortTurn(tn)
		return
	}

	textCh := make(chan string, textBuf)
	utt, err := o.deps.TTS.Speak(turnCtx, textCh, tts.SpeakOptions{Voice: o.cfg.Voice, SampleRate: o.cfg.SampleRate})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "tts", "tts")
		o.log.Error("synthesis failed to start", "error", err)
		close(textCh)
		o.abortTurn(tn)
		return
	}
	tn.playbackID = utt.PlaybackID

	go forwardDeltas(turnCtx, deltas, textCh, tn,
		func(s string) { o.broadcast(wire.EventLLMDelta, wire.DeltaEvent{Text: s}) },
		func(err error) {
			o.metrics.RecordProviderError(ctx, "agent", "agent")
			o.log.Error("reply generation failed", "error", err)
		},
	)

	played := o.pumpAudio(turnCtx, tn, utt, o.beginTurnPlayback)

	if err := utt.Err(); err != nil {
		o.metrics.RecordProviderError(ctx, "tts", "tts")
		o.log.Error("synthesis failed", "error", err)
	}

	o.playback.Finish(utt.PlaybackID)
	o.broadcast(wire.EventTTSEnd, wire.TTSBoundaryEvent{PlaybackID: utt.PlaybackID.String()})

	if !played {
		// Nothing reached the speaker; unwind the processing state.
		o.abortTurn(tn)
		return
	}

	o.waitDrain(turnCtx)

	if tn.wasInterrupted() {
		o.clearTurn(tn)
		return
	}
	if err := o.state.StopSpeaking(); err != nil {
		o.log.Debug("stop speaking", "error", err)
	}
	o.mu.Lock()
	if reply := tn.replyText(); reply != "" {
		o.conversation = append(o.conversation, agent.Message{Role: agent.RoleAssistant, Content: reply})
		o.trimHistoryLocked()
	}
	if o.turn == tn {
		o.turn = nil
	}
	o.mu.Unlock()
}

// pumpAudio moves synthesized chunks into the jitter buffer until the
// utterance ends or ctx is cancelled. onFirst runs before the first chunk is
// enqueued. Reports whether any audio was enqueued.
func (o *Orchestrator) pumpAudio(ctx context.Context, tn *turn, utt *tts.Utterance, onFirst func(context.Context, *turn, *tts.Utterance)) bool {
	played := false
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(utt.Audio())
			return played
		case pcm, ok := <-utt.Audio():
			if !ok {
				return played
			}
			if !played {
				played = true
				if onFirst != nil {
					onFirst(ctx, tn, utt)
				}
			}
			o.playback.Enqueue(utt.PlaybackID, pcm)
			if o.deps.Gateway != nil {
				o.deps.Gateway.BroadcastTTSChunk(utt.PlaybackID, pcm)
			}
		}
	}
}

// beginTurnPlayback runs once per turn when the first synthesized chunk
// arrives: it records the latency samples, moves the state machine to
// Speaking and arms the jitter buffer.
func (o *Orchestrator) beginTurnPlayback(ctx context.Context, tn *turn, utt *tts.Utterance) {
	if fd := tn.firstDelta(); !fd.IsZero() {
		o.metrics.FirstAudioLatency.Record(ctx, time.Since(fd).Seconds())
	}
	o.mu.Lock()
	speechEnd := o.speechEndAt
	o.mu.Unlock()
	if !speechEnd.IsZero() {
		rt := time.Since(speechEnd)
		o.metrics.RoundTripLatency.Record(ctx, rt.Seconds())
		o.lastRoundTripMs.Store(rt.Milliseconds())
	}

	if err := o.state.FinishProcessing(); err != nil {
		o.log.Debug("finish processing", "error", err)
	}
	if err := o.state.StartSpeaking(tn.replyText()); err != nil {
		o.log.Warn("start speaking", "error", err)
	}
	o.playback.Begin(utt.PlaybackID)
	o.broadcast(wire.EventTTSBegin, wire.TTSBoundaryEvent{PlaybackID: utt.PlaybackID.String()})
}

// waitDrain blocks until the jitter buffer finished the current utterance.
func (o *Orchestrator) waitDrain(ctx context.Context) {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for o.playback.Active() {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (o *Orchestrator) abortTurn(tn *turn) {
	if o.state.Current() == state.Processing {
		if err := o.state.FinishProcessing(); err != nil {
			o.log.Debug("finish processing", "error", err)
		}
	}
	o.clearTurn(tn)
}

func (o *Orchestrator) clearTurn(tn *turn) {
	o.mu.Lock()
	if o.turn == tn {
		o.turn = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) trimHistoryLocked() {
	if len(o.conversation) > o.cfg.MaxHistory {
		o.conversation = o.conversation[len(o.conversation)-o.cfg.MaxHistory:]
	}
}

// --- barge-in ---

// Interrupt cuts the assistant's current utterance as if a barge-in had
// fired. No-op while the assistant is not speaking.
func (o *Orchestrator) Interrupt(confidence float64, source string) {
	o.interruptNow(o.runContext(), confidence, source)
}

func (o *Orchestrator) interruptNow(ctx context.Context, confidence float64, source string) {
	if !o.state.AliceSpeaking() {
		return
	}
	cutStart := time.Now()

	o.mu.Lock()
	tn := o.turn
	o.mu.Unlock()
	if tn == nil {
		return
	}

	tn.markInterrupted()
	tn.cancel()
	o.deps.TTS.Cancel(tn.playbackID)
	discarded := o.playback.Interrupt()

	said := tn.replyText()
	if err := o.state.Interrupt(state.Context{InterruptedContent: said, Confidence: confidence}); err != nil {
		o.log.Debug("interrupt transition", "error", err)
	}

	o.mu.Lock()
	if said != "" {
		o.conversation = append(o.conversation, agent.Message{Role: agent.RoleAssistant, Content: said})
		o.trimHistoryLocked()
	}
	o.mu.Unlock()

	o.bargeInCount.Add(1)
	cut := time.Since(cutStart)
	o.metrics.BargeIns.Add(ctx, 1, metric.WithAttributes(observe.Attr("source", source)))
	o.metrics.BargeInCutoff.Record(ctx, cut.Seconds())
	o.log.Info("barge-in cut",
		"source", source,
		"confidence", confidence,
		"discarded", discarded,
		"cut_time", cut,
	)
}

// --- state manager callbacks ---

// onSpeakingTimeout cuts a runaway utterance after the speaking timeout. The
// state manager has already moved back to Listening.
func (o *Orchestrator) onSpeakingTimeout() {
	o.mu.Lock()
	tn := o.turn
	o.mu.Unlock()
	if tn == nil {
		return
	}
	tn.cancel()
	o.deps.TTS.Cancel(tn.playbackID)
	o.playback.Interrupt()
}

// onAutoResume replays the preserved content after an interrupted timeout.
// The state manager has already moved back to Speaking.
func (o *Orchestrator) onAutoResume(content string) {
	ctx := o.runContext()
	o.turnWG.Add(1)
	go o.resumeSpeech(ctx, content)
}

func (o *Orchestrator) resumeSpeech(ctx context.Context, content string) {
	defer o.turnWG.Done()

	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	tn := &turn{cancel: cancel}
	tn.appendReply(content)

	textCh := make(chan string, 1)
	textCh <- content
	close(textCh)

	utt, err := o.deps.TTS.Speak(speakCtx, textCh, tts.SpeakOptions{Voice: o.cfg.Voice, SampleRate: o.cfg.SampleRate})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "tts", "tts")
		o.log.Error("resume synthesis failed", "error", err)
		if serr := o.state.StopSpeaking(); serr != nil {
			o.log.Debug("stop speaking", "error", serr)
		}
		return
	}
	tn.playbackID = utt.PlaybackID
	o.mu.Lock()
	o.turn = tn
	o.mu.Unlock()

	played := o.pumpAudio(speakCtx, tn, utt, func(_ context.Context, tn *turn, utt *tts.Utterance) {
		// State is already Speaking; only the buffer needs arming.
		o.playback.Begin(utt.PlaybackID)
		o.broadcast(wire.EventTTSBegin, wire.TTSBoundaryEvent{PlaybackID: utt.PlaybackID.String()})
	})

	o.playback.Finish(utt.PlaybackID)
	o.broadcast(wire.EventTTSEnd, wire.TTSBoundaryEvent{PlaybackID: utt.PlaybackID.String()})
	if played {
		o.waitDrain(speakCtx)
	}
	if !tn.wasInterrupted() {
		if err := o.state.StopSpeaking(); err != nil {
			o.log.Debug("stop speaking", "error", err)
		}
	}
	o.clearTurn(tn)
}

// --- tuning and status ---

func (o *Orchestrator) tuneLoop(ctx context.Context) error {
	tune := time.NewTicker(o.cfg.TuneInterval)
	defer tune.Stop()
	status := time.NewTicker(o.cfg.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tune.C:
			o.maybeEscalateEcho(o.echo.Metrics().EchoLevel)
		case <-status.C:
			st := o.Status()
			o.broadcast(wire.EventStatus, st.wireEvent())
		}
	}
}

// maybeEscalateEcho is one tick of the suppression auto-tuner. While the
// measured echo level stays above the escalation bound, sensitivity rises
// one step per tick; the canceller clamps it at its own ceiling.
func (o *Orchestrator) maybeEscalateEcho(echoLevel float64) {
	if echoLevel <= o.cfg.EchoEscalateAbove {
		return
	}
	o.echo.SetSensitivity(o.echo.Sensitivity() + o.cfg.EchoEscalateStep)
	o.log.Debug("escalating echo suppression",
		"echo_level", echoLevel,
		"sensitivity", o.echo.Sensitivity(),
	)
}

// Status is a point-in-time snapshot of the pipeline's health.
type Status struct {
	State           state.State
	Uptime          time.Duration
	MicEnabled      bool
	LastPartial     string
	BargeIns        int64
	Reconnects      int64
	DroppedFrames   int64
	EchoLevel       float64
	EchoSensitivity float64
	SNR             float64
	VADConfidence   float64
	LastRoundTripMs float64
	ProviderHealthy bool
	GatewayClients  int
}

func (s Status) wireEvent() wire.StatusEvent {
	return wire.StatusEvent{
		State:            string(s.State),
		Uptime:           s.Uptime,
		MicEnabled:       s.MicEnabled,
		ActiveSessions:   1,
		BargeInCount:     s.BargeIns,
		ReconnectCount:   s.Reconnects,
		DroppedFrames:    s.DroppedFrames,
		EchoLevel:        s.EchoLevel,
		VADConfidence:    s.VADConfidence,
		LastPartial:      s.LastPartial,
		LastRoundTripMs:  s.LastRoundTripMs,
		ProviderHealthOK: s.ProviderHealthy,
	}
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	started := o.started
	lastPartial := o.lastPartial
	o.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started)
	}
	em := o.echo.Metrics()
	st := Status{
		State:           o.state.Current(),
		Uptime:          uptime,
		MicEnabled:      o.micEnabled.Load(),
		LastPartial:     lastPartial,
		BargeIns:        o.bargeInCount.Load(),
		Reconnects:      o.reconnectCount.Load(),
		DroppedFrames:   o.droppedFrames.Load(),
		EchoLevel:       em.EchoLevel,
		EchoSensitivity: em.SuppressionGain,
		SNR:             o.bargein.SNR(),
		VADConfidence:   math.Float64frombits(o.lastVADProb.Load()),
		LastRoundTripMs: float64(o.lastRoundTripMs.Load()),
		ProviderHealthy: o.providerHealthy.Load(),
	}
	if o.deps.Gateway != nil {
		st.GatewayClients = o.deps.Gateway.ConnCount()
	}
	return st
}

// --- runtime tuning ---

// SetMicEnabled toggles the capture path. Disabled frames are discarded
// before any processing.
func (o *Orchestrator) SetMicEnabled(enabled bool) {
	if o.micEnabled.Swap(enabled) != enabled {
		o.log.Info("microphone toggled", "enabled", enabled)
	}
}

// MicEnabled reports whether capture is live.
func (o *Orchestrator) MicEnabled() bool {
	return o.micEnabled.Load()
}

// SetSystemPrompt replaces the prompt used for future turns.
func (o *Orchestrator) SetSystemPrompt(prompt string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.systemPrompt = prompt
}

// SetEchoSensitivity adjusts echo suppression at runtime.
func (o *Orchestrator) SetEchoSensitivity(v float64) {
	o.echo.SetSensitivity(v)
}

// SetBargeInConfidence adjusts the interruption firing threshold at runtime.
func (o *Orchestrator) SetBargeInConfidence(v float64) {
	o.bargein.SetMinConfidence(v)
}

// SetVADThreshold swaps the voice-activity session for one with the new
// speech threshold. Segment state restarts from silence.
func (o *Orchestrator) SetVADThreshold(th float64) error {
	if th <= 0 || th > 1 {
		return fmt.Errorf("orchestrator: vad threshold %v out of range", th)
	}
	o.vadMu.Lock()
	cfg := o.vadCfg
	cfg.SpeechThreshold = th
	sess, err := o.deps.VAD.NewSession(cfg)
	if err != nil {
		o.vadMu.Unlock()
		return fmt.Errorf("orchestrator: reopen vad session: %w", err)
	}
	old := o.vadSession
	o.vadSession = sess
	o.vadCfg = cfg
	o.vadMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// --- helpers ---

func (o *Orchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx != nil {
		return o.runCtx
	}
	return context.Background()
}

func (o *Orchestrator) broadcast(t wire.EventType, payload any) {
	if o.deps.Gateway == nil {
		return
	}
	env, err := wire.NewEnvelope(t, payload)
	if err != nil {
		o.log.Warn("encode event", "type", t, "error", err)
		return
	}
	o.deps.Gateway.Broadcast(env)
}
