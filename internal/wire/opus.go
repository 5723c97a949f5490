package wire

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// Opus packets on the wire carry 20 ms frames.
const opusFrameMs = 20

// OpusCodec compresses and decompresses the wire audio stream. Encoder and
// decoder are stateful, so each direction of each connection needs its own
// codec. Not safe for concurrent use.
type OpusCodec struct {
	enc          *gopus.Encoder
	dec          *gopus.Decoder
	channels     int
	frameSamples int
}

// NewOpusCodec creates a codec for the given PCM format. Opus only supports
// 8, 12, 16, 24 and 48 kHz.
func NewOpusCodec(sampleRate, channels int) (*OpusCodec, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("wire: opus does not support %d Hz", sampleRate)
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("wire: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("wire: create opus decoder: %w", err)
	}

	return &OpusCodec{
		enc:          enc,
		dec:          dec,
		channels:     channels,
		frameSamples: sampleRate * opusFrameMs / 1000,
	}, nil
}

// FrameBytes is the exact PCM size Encode accepts.
func (c *OpusCodec) FrameBytes() int {
	return c.frameSamples * c.channels * 2
}

// Encode compresses exactly one 20 ms PCM frame.
func (c *OpusCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != c.FrameBytes() {
		return nil, fmt.Errorf("wire: opus frame is %d bytes, want %d", len(pcm), c.FrameBytes())
	}
	packet, err := c.enc.Encode(audio.Int16s(pcm), c.frameSamples, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("wire: opus encode: %w", err)
	}
	return packet, nil
}

// Decode decompresses one Opus packet back to PCM.
func (c *OpusCodec) Decode(packet []byte) ([]byte, error) {
	pcm, err := c.dec.Decode(packet, c.frameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("wire: opus decode: %w", err)
	}
	return audio.Bytes(pcm), nil
}
