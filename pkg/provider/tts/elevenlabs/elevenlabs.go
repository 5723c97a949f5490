// Package elevenlabs implements tts.Provider on the ElevenLabs streaming
// WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/alicecore/pkg/provider/tts"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"
	defaultModel   = "eleven_flash_v2_5"
)

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements tts.Provider backed by ElevenLabs.
type Provider struct {
	tts.Registry

	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// textMessage is the payload for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// openMessage is the initial handshake carrying the API key.
type openMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is one message from the synthesis stream.
type audioResponse struct {
	Audio   string `json:"audio"` // base64 PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Speak dials a synthesis stream for one utterance.
func (p *Provider) Speak(ctx context.Context, text <-chan string, opts tts.SpeakOptions) (*tts.Utterance, error) {
	if opts.Voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	format := "pcm_16000"
	if opts.SampleRate > 0 {
		format = fmt.Sprintf("pcm_%d", opts.SampleRate)
	}
	wsURL := fmt.Sprintf(wsEndpointFmt, opts.Voice.ID, p.model, format)

	uttCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(uttCtx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	open := openMessage{
		Text:          " ", // the API rejects an empty first fragment
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
	}
	openBytes, _ := json.Marshal(open)
	if err := conn.Write(uttCtx, websocket.MessageText, openBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		cancel()
		return nil, fmt.Errorf("elevenlabs: handshake: %w", err)
	}

	utt := tts.NewUtterance()
	p.Register(utt.PlaybackID, cancel)

	go p.stream(uttCtx, conn, text, utt)

	return utt, nil
}

// stream pipes text in and audio out until the input ends or the utterance is
// cancelled.
func (p *Provider) stream(ctx context.Context, conn *websocket.Conn, text <-chan string, utt *tts.Utterance) {
	defer p.Unregister(utt.PlaybackID)
	defer utt.CloseAudio()
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					utt.Fail(fmt.Errorf("elevenlabs: read: %w", err))
				}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				if pcm, err := base64.StdEncoding.DecodeString(resp.Audio); err == nil {
					utt.Emit(ctx, pcm)
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	first := true
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				// End of input: flush and wait for the audio tail.
				flushBytes, _ := json.Marshal(textMessage{Text: ""})
				_ = conn.Write(ctx, websocket.MessageText, flushBytes)
				<-readDone
				return
			}
			if fragment == "" {
				continue
			}
			payload := textMessage{Text: fragment}
			if first {
				payload.VoiceSettings = &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
				first = false
			}
			msgBytes, _ := json.Marshal(payload)
			if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
				if ctx.Err() == nil {
					utt.Fail(fmt.Errorf("elevenlabs: write: %w", err))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// voicesResponse is the shape of GET /v1/voices.
type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voicesFromResponse(vr), nil
}

func voicesFromResponse(vr voicesResponse) []tts.Voice {
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{ID: v.VoiceID, Name: v.Name, Metadata: meta})
	}
	return voices
}

var _ tts.Provider = (*Provider)(nil)
