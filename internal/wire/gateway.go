package wire

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// writeTimeout bounds each per-connection send so one stalled client cannot
// hold up a broadcast.
const writeTimeout = 5 * time.Second

// Inbound is one decoded upstream message. Exactly one field is set.
type Inbound struct {
	Frame   *audio.Frame
	BargeIn *BargeInControl
	Mic     *MicControl
}

// GatewayConfig holds the PCM format the gateway expects from clients.
type GatewayConfig struct {
	SampleRate int
	Channels   int
}

// Gateway serves the wire protocol over WebSocket. Upstream messages are
// decoded into the Inbound channel; downstream events fan out to every
// connected client.
type Gateway struct {
	cfg     GatewayConfig
	inbound chan Inbound

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// NewGateway creates a gateway for the given audio format.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Gateway{
		cfg:     cfg,
		inbound: make(chan Inbound, 256),
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Inbound returns the channel of decoded upstream messages.
func (g *Gateway) Inbound() <-chan Inbound {
	return g.inbound
}

// Handler returns the HTTP handler exposing the WebSocket endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	return mux
}

// ConnCount reports the number of connected clients.
func (g *Gateway) ConnCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
	}()

	slog.Info("wire client connected", "remote", r.RemoteAddr)
	defer slog.Info("wire client disconnected", "remote", r.RemoteAddr)

	// Opus decoders are stateful, so each connection carries its own,
	// created on the first compressed frame.
	var codec *OpusCodec
	var elapsed time.Duration

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			frame, d, ok := g.decodeAudioMessage(data, codec, elapsed)
			if !ok {
				continue
			}
			codec = d
			elapsed += frame.Duration()
			select {
			case g.inbound <- Inbound{Frame: frame}:
			default:
				slog.Warn("inbound audio frame dropped, core too slow")
			}

		case websocket.MessageText:
			in, ok := g.decodeControlMessage(data)
			if !ok {
				continue
			}
			select {
			case g.inbound <- in:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Gateway) decodeAudioMessage(data []byte, codec *OpusCodec, elapsed time.Duration) (*audio.Frame, *OpusCodec, bool) {
	tag, payload, err := DecodeAudio(data)
	if err != nil {
		slog.Warn("malformed binary message", "error", err)
		return nil, codec, false
	}

	var pcm []byte
	switch tag {
	case TagPCM:
		pcm = make([]byte, len(payload))
		copy(pcm, payload)
	case TagOpus:
		if codec == nil {
			codec, err = NewOpusCodec(g.cfg.SampleRate, g.cfg.Channels)
			if err != nil {
				slog.Warn("opus codec unavailable", "error", err)
				return nil, nil, false
			}
		}
		pcm, err = codec.Decode(payload)
		if err != nil {
			slog.Warn("opus decode failed", "error", err)
			return nil, codec, false
		}
	}

	return &audio.Frame{
		PCM:        pcm,
		SampleRate: g.cfg.SampleRate,
		Channels:   g.cfg.Channels,
		Timestamp:  elapsed,
	}, codec, true
}

func (g *Gateway) decodeControlMessage(data []byte) (Inbound, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("malformed control message", "error", err)
		return Inbound{}, false
	}

	switch env.Type {
	case EventBargeIn:
		var ctl BargeInControl
		if len(env.Payload) > 0 {
			if err := DecodePayload(env, &ctl); err != nil {
				slog.Warn("malformed barge-in control", "error", err)
				return Inbound{}, false
			}
		}
		return Inbound{BargeIn: &ctl}, true
	case EventMic:
		var ctl MicControl
		if err := DecodePayload(env, &ctl); err != nil {
			slog.Warn("malformed mic control", "error", err)
			return Inbound{}, false
		}
		return Inbound{Mic: &ctl}, true
	default:
		slog.Warn("unknown control event", "type", env.Type)
		return Inbound{}, false
	}
}

// Broadcast sends one JSON event to every connected client.
func (g *Gateway) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("broadcast marshal failed", "type", env.Type, "error", err)
		return
	}
	g.writeAll(websocket.MessageText, data)
}

// BroadcastEvent marshals payload into an envelope and broadcasts it.
func (g *Gateway) BroadcastEvent(t EventType, payload any) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		slog.Error("broadcast encode failed", "type", t, "error", err)
		return
	}
	g.Broadcast(env)
}

// BroadcastTTSChunk sends one synthesized audio chunk to every client.
func (g *Gateway) BroadcastTTSChunk(playbackID uuid.UUID, pcm []byte) {
	g.writeAll(websocket.MessageBinary, EncodeTTSChunk(playbackID, pcm))
}

func (g *Gateway) writeAll(msgType websocket.MessageType, data []byte) {
	g.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(g.conns))
	for conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(ctx, msgType, data); err != nil {
			slog.Debug("broadcast write failed", "error", err)
		}
		cancel()
	}
}

// Close disconnects every client.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(g.conns))
	for conn := range g.conns {
		conns = append(conns, conn)
	}
	g.conns = make(map[*websocket.Conn]struct{})
	g.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}
