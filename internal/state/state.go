// Package state implements the finite-state coordinator that owns the
// canonical conversational state of the voice pipeline.
//
// Exactly one state is live at a time. Other components never mutate it
// directly: they call the named transition methods and learn of changes
// through the subscription stream. The AliceSpeaking flag every detector
// gates on is derived from this single source, so all readers observe the
// same value at the same logical instant.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the conversational state of the pipeline.
type State string

const (
	// Listening is the initial state: the assistant is idle and the
	// microphone feeds the ASR path.
	Listening State = "listening"

	// Speaking means the assistant is playing synthesized speech.
	Speaking State = "speaking"

	// Processing means an interrupting utterance is being transcribed and
	// handled.
	Processing State = "processing"

	// Interrupted means a barge-in cut the assistant off; the unspoken
	// content is preserved in the transition context for possible resume.
	Interrupted State = "interrupted"

	// Error is terminal until Reset is called.
	Error State = "error"
)

// ErrInvalidTransition is returned when a requested transition is not in the
// allowed set.
var ErrInvalidTransition = errors.New("state: invalid transition")

// Context is the optional payload attached to a transition. It carries the
// data needed to resume or recover.
type Context struct {
	// InterruptedContent is the assistant utterance that was cut off.
	InterruptedContent string

	// Confidence of the barge-in detection that caused an interruption.
	Confidence float64

	// UserInput is the user's utterance that is being processed.
	UserInput string

	// Reason describes an error or timeout.
	Reason string
}

// Transition is delivered to every subscriber on each state change.
type Transition struct {
	From    State
	To      State
	Context Context
	At      time.Time
}

// Timeouts bounds how long the manager will sit in each non-initial state
// before recovering on its own. Zero values fall back to the defaults.
type Timeouts struct {
	// Speaking default 30s. On expiry the stop-speaking callback runs and
	// the state returns to Listening.
	Speaking time.Duration

	// Processing default 10s. On expiry the state falls back to Listening.
	Processing time.Duration

	// Interrupted default 5s. On expiry the preserved content is either
	// resumed (when auto-resume is enabled) or discarded.
	Interrupted time.Duration
}

func (t *Timeouts) applyDefaults() {
	if t.Speaking <= 0 {
		t.Speaking = 30 * time.Second
	}
	if t.Processing <= 0 {
		t.Processing = 10 * time.Second
	}
	if t.Interrupted <= 0 {
		t.Interrupted = 5 * time.Second
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeouts overrides the per-state timeout durations.
func WithTimeouts(t Timeouts) Option {
	return func(m *Manager) { m.timeouts = t }
}

// WithAutoResume makes an Interrupted timeout replay the preserved content
// instead of discarding it.
func WithAutoResume(enabled bool) Option {
	return func(m *Manager) { m.autoResume = enabled }
}

// WithStopSpeakingFunc registers the callback run when a Speaking timeout
// forces the assistant to stop.
func WithStopSpeakingFunc(fn func()) Option {
	return func(m *Manager) { m.onStopSpeaking = fn }
}

// WithResumeFunc registers the callback run when an Interrupted timeout
// auto-resumes the preserved content.
func WithResumeFunc(fn func(content string)) Option {
	return func(m *Manager) { m.onResume = fn }
}

// allowed is the transition table. Error is reachable from everywhere and is
// handled separately in transition.
var allowed = map[State][]State{
	Listening:   {Speaking, Processing},
	Speaking:    {Listening, Interrupted},
	Processing:  {Listening},
	Interrupted: {Processing, Listening, Speaking},
	Error:       {},
}

// Manager owns the conversational state. All methods are safe for concurrent
// use.
type Manager struct {
	mu         sync.Mutex
	current    State
	currentCtx Context
	timeouts   Timeouts
	autoResume bool
	log        *slog.Logger

	onStopSpeaking func()
	onResume       func(content string)

	timer      *time.Timer
	generation uint64

	subs []chan Transition
}

// NewManager creates a manager in the Listening state.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		current: Listening,
		log:     slog.Default().With("component", "state"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timeouts.applyDefaults()
	return m
}

// Current returns the live state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CurrentContext returns the context attached to the last transition.
func (m *Manager) CurrentContext() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCtx
}

// AliceSpeaking reports whether the assistant is audibly talking right now.
func (m *Manager) AliceSpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == Speaking
}

// Subscribe returns a channel receiving every future transition. The channel
// is bounded; a subscriber that stops draining loses newer transitions with a
// log entry rather than blocking the coordinator.
func (m *Manager) Subscribe() <-chan Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Transition, 16)
	m.subs = append(m.subs, ch)
	return ch
}

// StartSpeaking transitions Listening → Speaking, attaching the content the
// assistant is about to say.
func (m *Manager) StartSpeaking(content string) error {
	return m.transition(Speaking, Context{InterruptedContent: content})
}

// StopSpeaking transitions Speaking → Listening after the assistant finished
// normally.
func (m *Manager) StopSpeaking() error {
	return m.transition(Listening, Context{})
}

// Interrupt transitions Speaking → Interrupted, preserving the cut-off
// content from the Speaking context so it can be resumed.
func (m *Manager) Interrupt(ctx Context) error {
	m.mu.Lock()
	if ctx.InterruptedContent == "" {
		ctx.InterruptedContent = m.currentCtx.InterruptedContent
	}
	m.mu.Unlock()
	return m.transition(Interrupted, ctx)
}

// BeginProcessing transitions Interrupted → Processing (or Listening →
// Processing for a normal, non-interrupting utterance).
func (m *Manager) BeginProcessing(userInput string) error {
	return m.transition(Processing, Context{UserInput: userInput})
}

// FinishProcessing transitions Processing → Listening.
func (m *Manager) FinishProcessing() error {
	return m.transition(Listening, Context{})
}

// Discard transitions Interrupted → Listening, dropping the preserved
// content.
func (m *Manager) Discard() error {
	return m.transition(Listening, Context{})
}

// Resume transitions Interrupted → Speaking, replaying the preserved content.
func (m *Manager) Resume() error {
	m.mu.Lock()
	content := m.currentCtx.InterruptedContent
	m.mu.Unlock()
	return m.transition(Speaking, Context{InterruptedContent: content})
}

// Fail transitions any state to Error. The manager stays there until Reset.
func (m *Manager) Fail(reason string) error {
	return m.transition(Error, Context{Reason: reason})
}

// Reset returns the manager from Error to Listening. It is the only way out
// of the terminal state.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.current != Error {
		cur := m.current
		m.mu.Unlock()
		return fmt.Errorf("state: reset from %q: %w", cur, ErrInvalidTransition)
	}
	m.mu.Unlock()
	m.apply(Listening, Context{})
	return nil
}

func (m *Manager) transition(to State, ctx Context) error {
	m.mu.Lock()
	from := m.current
	if from == Error || (to != Error && !contains(allowed[from], to)) {
		m.mu.Unlock()
		return fmt.Errorf("state: %q -> %q: %w", from, to, ErrInvalidTransition)
	}
	m.mu.Unlock()
	m.apply(to, ctx)
	return nil
}

func (m *Manager) apply(to State, ctx Context) {
	m.mu.Lock()
	from := m.current
	m.current = to
	m.currentCtx = ctx
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.armTimerLocked(to)
	subs := make([]chan Transition, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	tr := Transition{From: from, To: to, Context: ctx, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- tr:
		default:
			m.log.Warn("subscriber queue full, dropping transition",
				"from", from, "to", to)
		}
	}
}

func (m *Manager) armTimerLocked(s State) {
	var d time.Duration
	switch s {
	case Speaking:
		d = m.timeouts.Speaking
	case Processing:
		d = m.timeouts.Processing
	case Interrupted:
		d = m.timeouts.Interrupted
	default:
		return
	}
	gen := m.generation
	m.timer = time.AfterFunc(d, func() { m.onTimeout(s, gen) })
}

// onTimeout recovers a stuck state per the per-state policy. A stale timer
// whose state already changed is ignored via the generation counter.
func (m *Manager) onTimeout(s State, gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.current != s {
		m.mu.Unlock()
		return
	}
	content := m.currentCtx.InterruptedContent
	autoResume := m.autoResume
	stopFn := m.onStopSpeaking
	resumeFn := m.onResume
	m.mu.Unlock()

	m.log.Warn("state timeout", "state", s)

	switch s {
	case Speaking:
		if stopFn != nil {
			stopFn()
		}
		m.apply(Listening, Context{Reason: "speaking timeout"})
	case Processing:
		m.apply(Listening, Context{Reason: "processing timeout"})
	case Interrupted:
		if autoResume && content != "" {
			m.apply(Speaking, Context{InterruptedContent: content})
			if resumeFn != nil {
				resumeFn(content)
			}
		} else {
			m.apply(Listening, Context{Reason: "interrupted timeout"})
		}
	}
}

func contains(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}
