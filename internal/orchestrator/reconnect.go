package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/alicecore/pkg/provider/asr"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrNotConnected is returned by Push while no recognition session is live.
var ErrNotConnected = errors.New("orchestrator: asr stream not connected")

// ReconnectConfig bounds the redial policy of the recognition stream.
type ReconnectConfig struct {
	// MaxRetries is the maximum number of consecutive failed dials before
	// the stream gives up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between retries. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the backoff duration. Defaults to 30s
	// if zero.
	MaxBackoff time.Duration
}

func (c *ReconnectConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
}

// asrStream wraps one provider session behind stable transcript channels and
// redials with exponential backoff when the transport drops. The orchestrator
// selects over Partials and Finals without caring which underlying session
// produced them.
//
// All methods are safe for concurrent use.
type asrStream struct {
	provider  asr.Provider
	streamCfg asr.StreamConfig
	rc        ReconnectConfig
	log       *slog.Logger

	// onConnect runs after every successful dial with the attempt number,
	// zero for the first connect. A fresh session has no memory of past
	// audio; the callback is where the pre-roll gets replayed.
	onConnect func(attempt int)

	// onFailure runs once when the retry budget is exhausted.
	onFailure func(err error)

	partials chan asr.Transcript
	finals   chan asr.Transcript

	mu       sync.Mutex
	session  asr.SessionHandle
	open     bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newASRStream(p asr.Provider, cfg asr.StreamConfig, rc ReconnectConfig, onConnect func(int), onFailure func(error)) *asrStream {
	rc.applyDefaults()
	return &asrStream{
		provider:  p,
		streamCfg: cfg,
		rc:        rc,
		log:       slog.Default().With("component", "asr-stream"),
		onConnect: onConnect,
		onFailure: onFailure,
		partials:  make(chan asr.Transcript, 64),
		finals:    make(chan asr.Transcript, 64),
		done:      make(chan struct{}),
	}
}

// Partials returns the stable channel of interim transcripts.
func (s *asrStream) Partials() <-chan asr.Transcript { return s.partials }

// Finals returns the stable channel of authoritative transcripts.
func (s *asrStream) Finals() <-chan asr.Transcript { return s.finals }

// Open starts the dial-and-forward loop. Idempotent and non-blocking; the
// first dial happens in the background so the capture path never waits on
// network I/O.
func (s *asrStream) Open(ctx context.Context) {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return
	}
	s.open = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Push delivers one PCM chunk to the live session. Chunks pushed while the
// stream is between sessions are dropped with ErrNotConnected; the pre-roll
// ring covers the gap on reconnect.
func (s *asrStream) Push(chunk []byte) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.PushAudio(chunk); err != nil {
		return fmt.Errorf("orchestrator: push audio: %w", err)
	}
	return nil
}

// Connected reports whether a recognition session is currently live.
func (s *asrStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Close stops the loop and closes the current session. Safe to call multiple
// times. The stable transcript channels stay open; callers select over them
// with their own shutdown signal.
func (s *asrStream) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	s.wg.Wait()
}

// run dials the provider and pipes transcripts until the session ends. A
// session that ends with an error is redialed with exponential backoff; a
// clean close terminates the loop.
func (s *asrStream) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.rc.Backoff
	attempt := 0
	var lastErr error

	for attempt <= s.rc.MaxRetries {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		sess, err := s.provider.StartStream(ctx, s.streamCfg)
		if err != nil {
			lastErr = err
			attempt++
			s.log.Warn("recognition dial failed",
				"attempt", attempt,
				"max_retries", s.rc.MaxRetries,
				"backoff", backoff,
				"error", err,
			)
			if !s.wait(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.rc.MaxBackoff)
			continue
		}

		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()

		if attempt > 0 {
			s.log.Info("recognition stream reconnected", "attempt", attempt)
		}
		if s.onConnect != nil {
			s.onConnect(attempt)
		}

		s.pipe(sess)

		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()

		sessErr := sess.Err()
		if sessErr == nil {
			// Deliberate shutdown, nothing to recover.
			return
		}
		lastErr = sessErr
		attempt++
		backoff = s.rc.Backoff
		s.log.Warn("recognition stream dropped",
			"attempt", attempt,
			"max_retries", s.rc.MaxRetries,
			"error", sessErr,
		)
		if !s.wait(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.rc.MaxBackoff)
	}

	s.log.Error("recognition stream lost after max retries",
		"max_retries", s.rc.MaxRetries,
		"error", lastErr,
	)
	if s.onFailure != nil {
		s.onFailure(fmt.Errorf("orchestrator: asr stream lost after %d retries: %w", s.rc.MaxRetries, lastErr))
	}
}

// pipe copies session transcripts onto the stable channels until both session
// channels close.
func (s *asrStream) pipe(sess asr.SessionHandle) {
	p, f := sess.Partials(), sess.Finals()
	for p != nil || f != nil {
		select {
		case <-s.done:
			return
		case t, ok := <-p:
			if !ok {
				p = nil
				continue
			}
			s.deliver(s.partials, t)
		case t, ok := <-f:
			if !ok {
				f = nil
				continue
			}
			s.deliver(s.finals, t)
		}
	}
}

func (s *asrStream) deliver(ch chan asr.Transcript, t asr.Transcript) {
	select {
	case ch <- t:
	case <-s.done:
	}
}

// wait sleeps for d, returning false when the stream is shut down first.
func (s *asrStream) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}
