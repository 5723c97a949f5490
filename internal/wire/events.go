// Package wire defines the event protocol between the voice core and its
// clients. Control and transcript traffic travels as JSON envelopes; audio
// travels as tagged binary messages so the hot path never passes through a
// JSON encoder. The framing is transport agnostic, the gateway in this
// package serves it over WebSocket.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a JSON envelope.
type EventType string

// Upstream (client to core) events.
const (
	// EventBargeIn asks the core to cut assistant playback as if a local
	// barge-in had fired.
	EventBargeIn EventType = "control.barge_in"

	// EventMic enables or disables microphone capture.
	EventMic EventType = "control.mic"
)

// Downstream (core to client) events.
const (
	EventSTTPartial  EventType = "stt.partial"
	EventSTTFinal    EventType = "stt.final"
	EventLLMDelta    EventType = "llm.delta"
	EventTTSBegin    EventType = "tts.begin"
	EventTTSEnd      EventType = "tts.end"
	EventStateChange EventType = "state.change"
	EventStatus      EventType = "status"
)

// Envelope is the JSON wrapper for every non-audio message.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// DecodePayload unmarshals an envelope payload into dst.
func DecodePayload(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
	}
	return nil
}

// MicControl toggles capture.
type MicControl struct {
	Enabled bool `json:"enabled"`
}

// BargeInControl is a client-initiated interrupt.
type BargeInControl struct {
	Reason string `json:"reason,omitempty"`
}

// TranscriptEvent carries a partial or final recognition result.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// DeltaEvent carries one streamed reply fragment.
type DeltaEvent struct {
	Text string `json:"text"`
}

// TTSBoundaryEvent marks the start or end of one synthesized utterance.
type TTSBoundaryEvent struct {
	PlaybackID string `json:"playback_id"`
}

// StateChangeEvent mirrors a state manager transition.
type StateChangeEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// StatusEvent is a point-in-time snapshot for dashboards.
type StatusEvent struct {
	State            string        `json:"state"`
	Uptime           time.Duration `json:"uptime_ns"`
	MicEnabled       bool          `json:"mic_enabled"`
	ActiveSessions   int           `json:"active_sessions"`
	BargeInCount     int64         `json:"barge_in_count"`
	ReconnectCount   int64         `json:"reconnect_count"`
	DroppedFrames    int64         `json:"dropped_frames"`
	EchoLevel        float64       `json:"echo_level"`
	VADConfidence    float64       `json:"vad_confidence"`
	LastPartial      string        `json:"last_partial,omitempty"`
	LastRoundTripMs  float64       `json:"last_round_trip_ms,omitempty"`
	ProviderHealthOK bool          `json:"provider_health_ok"`
}
