package wire

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(EventSTTPartial, TranscriptEvent{Text: "hello wor", Confidence: 0.62})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != EventSTTPartial {
		t.Fatalf("want type %s, got %s", EventSTTPartial, decoded.Type)
	}

	var tr TranscriptEvent
	if err := DecodePayload(decoded, &tr); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if tr.Text != "hello wor" {
		t.Fatalf("want text preserved, got %q", tr.Text)
	}
	if tr.Confidence != 0.62 {
		t.Fatalf("want confidence preserved, got %v", tr.Confidence)
	}
}

func TestEnvelopeWithoutPayload(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(EventTTSEnd, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"tts.end"}`
	if string(data) != want {
		t.Fatalf("want %s, got %s", want, data)
	}
}

func TestAudioFraming(t *testing.T) {
	t.Parallel()

	payload := []byte{0x10, 0x20, 0x30}
	msg, err := EncodeAudio(TagPCM, payload)
	if err != nil {
		t.Fatalf("EncodeAudio: %v", err)
	}

	tag, got, err := DecodeAudio(msg)
	if err != nil {
		t.Fatalf("DecodeAudio: %v", err)
	}
	if tag != TagPCM {
		t.Fatalf("want tag 0x%02x, got 0x%02x", TagPCM, tag)
	}
	if len(got) != len(payload) || got[0] != 0x10 || got[2] != 0x30 {
		t.Fatalf("payload mangled: %v", got)
	}

	if _, err := EncodeAudio(0x7f, payload); err == nil {
		t.Fatal("want error for invalid tag")
	}
	if _, _, err := DecodeAudio(nil); err == nil {
		t.Fatal("want error for empty message")
	}
	if _, _, err := DecodeAudio([]byte{0x7f, 1, 2}); err == nil {
		t.Fatal("want error for unknown tag")
	}
}

func TestTTSChunkFraming(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	pcm := []byte{1, 2, 3, 4}
	msg := EncodeTTSChunk(id, pcm)

	gotID, gotPCM, err := DecodeTTSChunk(msg)
	if err != nil {
		t.Fatalf("DecodeTTSChunk: %v", err)
	}
	if gotID != id {
		t.Fatalf("want playback id %s, got %s", id, gotID)
	}
	if len(gotPCM) != 4 || gotPCM[3] != 4 {
		t.Fatalf("pcm mangled: %v", gotPCM)
	}

	if _, _, err := DecodeTTSChunk([]byte{TagTTSChunk}); err == nil {
		t.Fatal("want error for truncated message")
	}
	if _, _, err := DecodeTTSChunk(msg[1:]); err == nil {
		t.Fatal("want error for wrong tag")
	}
}
