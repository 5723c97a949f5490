package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/alicecore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/alicecore/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{}
	fallback := &ttsmock.Provider{}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", fallback)

	text := make(chan string)
	close(text)
	utt, err := f.Speak(context.Background(), text, tts.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if utt == nil {
		t.Fatal("want utterance")
	}
	if len(primary.SpeakCalls) != 1 {
		t.Fatalf("want 1 primary call, got %d", len(primary.SpeakCalls))
	}
	if len(fallback.SpeakCalls) != 0 {
		t.Fatal("fallback should not be touched")
	}
}

func TestTTSFallback_PrimaryFailsOver(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SpeakErr: errors.New("handshake failed")}
	fallback := &ttsmock.Provider{}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", fallback)

	text := make(chan string)
	close(text)
	utt, err := f.Speak(context.Background(), text, tts.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if utt != fallback.LastUtterance() {
		t.Fatal("want the fallback's utterance")
	}
}

func TestTTSFallback_CancelFansOut(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{}
	fallback := &ttsmock.Provider{}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", fallback)

	text := make(chan string)
	close(text)
	utt, err := f.Speak(context.Background(), text, tts.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	f.Cancel(utt.PlaybackID)
	if !primary.Cancelled(utt.PlaybackID) {
		t.Fatal("primary did not receive cancel")
	}
	if !fallback.Cancelled(utt.PlaybackID) {
		t.Fatal("fallback did not receive cancel")
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Voices: []tts.Voice{{ID: "alice", Name: "Alice"}}}
	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "alice" {
		t.Fatalf("voices mangled: %+v", voices)
	}
}
