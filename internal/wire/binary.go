package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// Binary message tags. The first byte of every binary WebSocket message
// names its framing; the rest is the payload.
const (
	// TagPCM carries raw little-endian 16-bit mono PCM from the client.
	TagPCM byte = 0x01

	// TagOpus carries one Opus packet from the client.
	TagOpus byte = 0x02

	// TagTTSChunk carries synthesized PCM to the client, prefixed with the
	// 16-byte playback ID it belongs to.
	TagTTSChunk byte = 0x10
)

// EncodeAudio frames an upstream audio payload.
func EncodeAudio(tag byte, payload []byte) ([]byte, error) {
	if tag != TagPCM && tag != TagOpus {
		return nil, fmt.Errorf("wire: invalid audio tag 0x%02x", tag)
	}
	msg := make([]byte, 1+len(payload))
	msg[0] = tag
	copy(msg[1:], payload)
	return msg, nil
}

// DecodeAudio splits an upstream binary message into tag and payload. The
// payload aliases msg, callers that retain it must copy.
func DecodeAudio(msg []byte) (byte, []byte, error) {
	if len(msg) < 1 {
		return 0, nil, fmt.Errorf("wire: empty binary message")
	}
	tag := msg[0]
	if tag != TagPCM && tag != TagOpus {
		return 0, nil, fmt.Errorf("wire: unknown binary tag 0x%02x", tag)
	}
	return tag, msg[1:], nil
}

// EncodeTTSChunk frames one downstream audio chunk.
func EncodeTTSChunk(playbackID uuid.UUID, pcm []byte) []byte {
	msg := make([]byte, 1+16+len(pcm))
	msg[0] = TagTTSChunk
	copy(msg[1:17], playbackID[:])
	copy(msg[17:], pcm)
	return msg
}

// DecodeTTSChunk splits a downstream audio chunk into its playback ID and
// PCM payload.
func DecodeTTSChunk(msg []byte) (uuid.UUID, []byte, error) {
	if len(msg) < 17 || msg[0] != TagTTSChunk {
		return uuid.Nil, nil, fmt.Errorf("wire: malformed tts chunk message")
	}
	var id uuid.UUID
	copy(id[:], msg[1:17])
	return id, msg[17:], nil
}
