package wire

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestNewOpusCodecRejectsUnsupportedRate(t *testing.T) {
	t.Parallel()

	if _, err := NewOpusCodec(44100, 1); err == nil {
		t.Fatal("want error for 44.1kHz")
	}
	if _, err := NewOpusCodec(22050, 1); err == nil {
		t.Fatal("want error for 22.05kHz")
	}
}

func TestOpusRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewOpusCodec(16000, 1)
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	if codec.FrameBytes() != 640 {
		t.Fatalf("want 640 byte frames for 20ms mono 16kHz, got %d", codec.FrameBytes())
	}

	// One frame of a 440Hz tone.
	pcm := make([]byte, codec.FrameBytes())
	for i := 0; i < len(pcm)/2; i++ {
		v := 0.3 * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}

	packet, err := codec.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) == 0 {
		t.Fatal("want non-empty opus packet")
	}
	if len(packet) >= len(pcm) {
		t.Fatalf("want compression, packet is %d bytes for %d of pcm", len(packet), len(pcm))
	}

	decoded, err := codec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != codec.FrameBytes() {
		t.Fatalf("want %d decoded bytes, got %d", codec.FrameBytes(), len(decoded))
	}
}

func TestOpusEncodeRejectsWrongFrameSize(t *testing.T) {
	t.Parallel()

	codec, err := NewOpusCodec(16000, 1)
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	if _, err := codec.Encode(make([]byte, 100)); err == nil {
		t.Fatal("want error for wrong frame size")
	}
}
