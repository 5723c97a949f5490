package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/alicecore/pkg/provider/agent"
)

func TestSentenceBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"Hello. World", 5},
		{"Hello.", -1},
		{"Wait! Now", 4},
		{"Really? Yes", 6},
		{"no punctuation at all", -1},
		{"", -1},
		{"v1.2 is out. Yes", 11},
	}
	for _, tc := range cases {
		if got := sentenceBoundary(tc.in); got != tc.want {
			t.Errorf("sentenceBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestForwardDeltas_SplitsSentences(t *testing.T) {
	t.Parallel()

	deltas := make(chan agent.Delta, 8)
	deltas <- agent.Delta{Text: "Hello th"}
	deltas <- agent.Delta{Text: "ere. How are you? I"}
	deltas <- agent.Delta{Text: "'m fine.", Done: true}
	close(deltas)

	textCh := make(chan string, textBuf)
	tn := &turn{}
	forwardDeltas(context.Background(), deltas, textCh, tn, nil, nil)

	var got []string
	for s := range textCh {
		got = append(got, s)
	}
	want := []string{"Hello there.", "How are you?", "I'm fine."}
	if len(got) != len(want) {
		t.Fatalf("fragments = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fragment[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if reply := tn.replyText(); reply != "Hello there. How are you? I'm fine." {
		t.Errorf("replyText = %q", reply)
	}
	if tn.firstDelta().IsZero() {
		t.Error("first delta timestamp not recorded")
	}
}

func TestForwardDeltas_FlushesTailWithoutBoundary(t *testing.T) {
	t.Parallel()

	deltas := make(chan agent.Delta, 2)
	deltas <- agent.Delta{Text: "just a fragment"}
	close(deltas)

	textCh := make(chan string, textBuf)
	forwardDeltas(context.Background(), deltas, textCh, &turn{}, nil, nil)

	var got []string
	for s := range textCh {
		got = append(got, s)
	}
	if len(got) != 1 || got[0] != "just a fragment" {
		t.Fatalf("fragments = %q, want the unflushed tail", got)
	}
}

func TestForwardDeltas_ErrorStopsStream(t *testing.T) {
	t.Parallel()

	deltas := make(chan agent.Delta, 2)
	deltas <- agent.Delta{Text: "Hi"}
	deltas <- agent.Delta{Err: errors.New("model unavailable")}
	close(deltas)

	textCh := make(chan string, textBuf)
	var gotErr error
	forwardDeltas(context.Background(), deltas, textCh, &turn{}, nil, func(err error) { gotErr = err })

	if gotErr == nil {
		t.Fatal("error callback not invoked")
	}
	if _, ok := <-textCh; ok {
		t.Fatal("no fragment should be flushed after a generation error")
	}
}
