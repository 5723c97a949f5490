package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/alicecore/pkg/provider/agent"
)

// textBuf is the buffer depth of the text channel feeding TTS. Sized to
// absorb several sentences without blocking the delta forwarder.
const textBuf = 16

// turn is the mutable state of one assistant reply, from the user's final
// transcript to the end of playback. The barge-in path cancels it as a unit.
type turn struct {
	cancel     context.CancelFunc
	userInput  string
	playbackID uuid.UUID

	mu           sync.Mutex
	reply        strings.Builder
	firstDeltaAt time.Time
	interrupted  bool
}

func (t *turn) appendReply(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstDeltaAt.IsZero() {
		t.firstDeltaAt = time.Now()
	}
	t.reply.WriteString(s)
}

func (t *turn) replyText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reply.String()
}

func (t *turn) firstDelta() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstDeltaAt
}

func (t *turn) markInterrupted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupted = true
}

func (t *turn) wasInterrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// forwardDeltas reads reply fragments from deltas, accumulates them into
// complete sentences and writes each sentence to textCh so synthesis can start
// before the reply is finished. Any text remaining when the stream ends is
// flushed as a final fragment. onDelta is invoked for every non-empty fragment
// (event broadcast); onErr for a generation failure.
func forwardDeltas(ctx context.Context, deltas <-chan agent.Delta, textCh chan<- string, tn *turn, onDelta func(string), onErr func(error)) {
	defer close(textCh)

	var buf strings.Builder
	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return
			}
			if d.Err != nil {
				if onErr != nil {
					onErr(d.Err)
				}
				return
			}
			if d.Text != "" {
				tn.appendReply(d.Text)
				if onDelta != nil {
					onDelta(d.Text)
				}
				buf.WriteString(d.Text)
			}

			// Flush complete sentences eagerly for lower synthesis latency.
			for {
				idx := sentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				if !flush(sentence) {
					return
				}
			}

			if d.Done {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return
			}
		}
	}
}

// sentenceBoundary returns the index of the first '.', '!' or '?' immediately
// followed by whitespace, or -1 if the text holds no complete sentence yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
