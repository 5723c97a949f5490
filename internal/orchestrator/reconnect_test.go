package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/alicecore/pkg/provider/asr"
	asrmock "github.com/MrWong99/alicecore/pkg/provider/asr/mock"
)

// scriptedASR hands out a fixed sequence of sessions and dial errors, one per
// StartStream call.
type scriptedASR struct {
	mu       sync.Mutex
	sessions []asr.SessionHandle
	errs     []error
	failAll  error
	calls    int
}

func (p *scriptedASR) StartStream(_ context.Context, _ asr.StreamConfig) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if p.failAll != nil {
		return nil, p.failAll
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.sessions) {
		return p.sessions[i], nil
	}
	return asrmock.NewSession(), nil
}

func (p *scriptedASR) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ asr.Provider = (*scriptedASR)(nil)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestASRStream_ForwardsTranscripts(t *testing.T) {
	t.Parallel()

	sess := asrmock.NewSession()
	s := newASRStream(&asrmock.Provider{Session: sess}, asr.StreamConfig{SampleRate: 16000}, ReconnectConfig{}, nil, nil)
	s.Open(context.Background())
	defer s.Close()

	waitFor(t, "connect", s.Connected)

	if err := s.Push([]byte{0, 0}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	sess.EmitPartial(asr.Transcript{Text: "he"})
	sess.EmitFinal(asr.Transcript{Text: "hello", IsFinal: true})

	select {
	case tr := <-s.Partials():
		if tr.Text != "he" {
			t.Fatalf("partial = %q, want he", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for partial")
	}
	select {
	case tr := <-s.Finals():
		if tr.Text != "hello" {
			t.Fatalf("final = %q, want hello", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for final")
	}
}

func TestASRStream_PushWhileDisconnected(t *testing.T) {
	t.Parallel()

	s := newASRStream(&asrmock.Provider{}, asr.StreamConfig{}, ReconnectConfig{}, nil, nil)
	if err := s.Push([]byte{0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestASRStream_ReconnectsOnDrop(t *testing.T) {
	t.Parallel()

	first := asrmock.NewSession()
	second := asrmock.NewSession()
	p := &scriptedASR{sessions: []asr.SessionHandle{first, second}}

	connects := make(chan int, 4)
	rc := ReconnectConfig{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
	s := newASRStream(p, asr.StreamConfig{SampleRate: 16000}, rc, func(attempt int) { connects <- attempt }, nil)
	s.Open(context.Background())
	defer s.Close()

	select {
	case a := <-connects:
		if a != 0 {
			t.Fatalf("initial connect attempt = %d, want 0", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for initial connect")
	}

	first.Fail(errors.New("transport drop"))

	select {
	case a := <-connects:
		if a != 1 {
			t.Fatalf("reconnect attempt = %d, want 1", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	// The new session feeds the same stable channels.
	second.EmitFinal(asr.Transcript{Text: "back", IsFinal: true})
	select {
	case tr := <-s.Finals():
		if tr.Text != "back" {
			t.Fatalf("final = %q, want back", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for post-reconnect final")
	}
}

func TestASRStream_CleanCloseDoesNotRedial(t *testing.T) {
	t.Parallel()

	sess := asrmock.NewSession()
	p := &scriptedASR{sessions: []asr.SessionHandle{sess}}
	s := newASRStream(p, asr.StreamConfig{}, ReconnectConfig{Backoff: time.Millisecond}, nil, nil)
	s.Open(context.Background())

	waitFor(t, "connect", s.Connected)
	s.Close()

	time.Sleep(20 * time.Millisecond)
	if got := p.callCount(); got != 1 {
		t.Fatalf("dial count = %d, want 1", got)
	}
}

func TestASRStream_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	p := &scriptedASR{failAll: errors.New("no route")}
	failed := make(chan error, 1)
	rc := ReconnectConfig{MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	s := newASRStream(p, asr.StreamConfig{}, rc, nil, func(err error) { failed <- err })
	s.Open(context.Background())
	defer s.Close()

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("failure callback got nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for failure callback")
	}
	if got := p.callCount(); got != 3 {
		t.Fatalf("dial count = %d, want 3 (initial + 2 retries)", got)
	}
}
