// Package whisperlocal implements asr.Provider on the whisper.cpp CGO
// bindings, for fully offline recognition.
//
// whisper.cpp is not a streaming recognizer, so the session fakes streaming:
// it accumulates speech into a buffer, detects end of utterance from trailing
// silence, runs one inference per utterance and emits the text as a final.
// The whisper.cpp static library (libwhisper.a) and headers must be available
// at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisperlocal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/alicecore/pkg/audio"
	"github.com/MrWong99/alicecore/pkg/provider/asr"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilenceMs    = 500
	defaultMaxUtterance = 10000 // ms
	silenceRMSThreshold = 0.01
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the transcription language tag (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceMs = ms }
}

// WithMaxUtteranceMs caps how much audio one inference may cover; longer
// speech is flushed early.
func WithMaxUtteranceMs(ms int) Option {
	return func(p *Provider) { p.maxUtteranceMs = ms }
}

// Provider loads the model once and shares it across sessions. Each session
// gets its own whisper context, so sessions run concurrently without
// interference.
type Provider struct {
	model          whisperlib.Model
	language       string
	silenceMs      int
	maxUtteranceMs int
}

// New loads the whisper.cpp model from modelPath. Call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisperlocal: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:          model,
		language:       defaultLanguage,
		silenceMs:      defaultSilenceMs,
		maxUtteranceMs: defaultMaxUtterance,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the shared model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a session that accepts audio immediately.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisperlocal: context already cancelled: %w", err)
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	s := &session{
		model:          p.model,
		language:       lang,
		sampleRate:     sr,
		silenceMs:      p.silenceMs,
		maxUtteranceMs: p.maxUtteranceMs,
		audio:          make(chan []byte, 256),
		partials:       make(chan asr.Transcript, 64),
		finals:         make(chan asr.Transcript, 64),
		done:           make(chan struct{}),
		log:            slog.Default().With("component", "whisperlocal"),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s, nil
}

// session implements asr.SessionHandle. All buffering state is confined to
// the processLoop goroutine.
type session struct {
	model          whisperlib.Model
	language       string
	sampleRate     int
	silenceMs      int
	maxUtteranceMs int
	log            *slog.Logger

	audio    chan []byte
	partials chan asr.Transcript
	finals   chan asr.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu   sync.Mutex
	lastErr error
}

// PushAudio queues raw 16-bit mono PCM for analysis.
func (s *session) PushAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisperlocal: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisperlocal: session is closed")
	}
}

func (s *session) Partials() <-chan asr.Transcript { return s.partials }

func (s *session) Finals() <-chan asr.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Close flushes buffered speech through one last inference and releases the
// session.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   int
	)

	bytesPerMs := s.sampleRate * 2 / 1000
	maxBytes := s.maxUtteranceMs * bytesPerMs

	flush := func() {
		if !hadSpeech || len(buffer) == 0 {
			buffer, hadSpeech, silence = nil, false, 0
			return
		}
		pcm := buffer
		buffer, hadSpeech, silence = nil, false, 0

		text, err := s.infer(pcm)
		if err != nil {
			s.log.Error("inference failed", "error", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.finals <- asr.Transcript{Text: text, IsFinal: true}:
		default:
			s.log.Warn("finals channel full, dropping transcript")
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-s.done:
			flush()
			return
		case chunk := <-s.audio:
			level := chunkRMS(chunk)
			ms := len(chunk) / bytesPerMs

			if level < silenceRMSThreshold {
				if !hadSpeech {
					continue
				}
				buffer = append(buffer, chunk...)
				silence += ms
				if silence >= s.silenceMs {
					flush()
				}
				continue
			}

			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if len(buffer) >= maxBytes {
				flush()
			}
		}
	}
}

// infer runs one whisper.cpp inference over the utterance and returns the
// concatenated segment text.
func (s *session) infer(pcm []byte) (string, error) {
	samples := audio.Int16s(pcm)
	f32 := make([]float32, len(samples))
	for i, v := range samples {
		f32[i] = float32(v) / 32768.0
	}

	// Contexts are not thread-safe; one per inference.
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisperlocal: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		s.log.Warn("failed to set language", "language", s.language, "error", err)
	}
	if err := wctx.Process(f32, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisperlocal: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisperlocal: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func chunkRMS(pcm []byte) float64 {
	samples := audio.Int16s(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

var (
	_ asr.Provider      = (*Provider)(nil)
	_ asr.SessionHandle = (*session)(nil)
)
