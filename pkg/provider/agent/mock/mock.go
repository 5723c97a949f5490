// Package mock provides a test double for the agent package interface.
//
// Script the reply with Deltas, then inspect StreamReplyCalls to verify the
// conversation the orchestrator sent.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/alicecore/pkg/provider/agent"
)

// StreamReplyCall records one invocation of Provider.StreamReply.
type StreamReplyCall struct {
	// Conversation is a copy of the history passed in.
	Conversation []agent.Message

	// Opts is the ReplyOptions passed in.
	Opts agent.ReplyOptions
}

// Provider is a mock implementation of agent.Provider.
type Provider struct {
	mu sync.Mutex

	// Deltas is the scripted reply, emitted in order. The channel closes
	// after the last delta, or immediately when ctx is cancelled.
	Deltas []agent.Delta

	// StreamReplyErr, if non-nil, is returned from StreamReply.
	StreamReplyErr error

	// StreamReplyCalls records every call in order.
	StreamReplyCalls []StreamReplyCall
}

// StreamReply records the call and plays back the scripted deltas.
func (p *Provider) StreamReply(ctx context.Context, conversation []agent.Message, opts agent.ReplyOptions) (<-chan agent.Delta, error) {
	p.mu.Lock()
	if p.StreamReplyErr != nil {
		defer p.mu.Unlock()
		return nil, p.StreamReplyErr
	}
	conv := make([]agent.Message, len(conversation))
	copy(conv, conversation)
	p.StreamReplyCalls = append(p.StreamReplyCalls, StreamReplyCall{Conversation: conv, Opts: opts})
	deltas := make([]agent.Delta, len(p.Deltas))
	copy(deltas, p.Deltas)
	p.mu.Unlock()

	out := make(chan agent.Delta, len(deltas))
	go func() {
		defer close(out)
		for _, d := range deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []StreamReplyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamReplyCall, len(p.StreamReplyCalls))
	copy(out, p.StreamReplyCalls)
	return out
}

var _ agent.Provider = (*Provider)(nil)
