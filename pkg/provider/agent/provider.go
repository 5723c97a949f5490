// Package agent defines the Provider interface for the reasoning backend
// that produces the assistant's replies.
//
// The orchestrator streams the reply deltas straight into speech synthesis,
// so the interface is built around one cancellable streaming call: aborting
// the context on a barge-in stops generation, synthesis and playback from the
// same signal.
//
// Implementations must be safe for concurrent use.
package agent

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Delta is one streamed fragment of the assistant's reply.
type Delta struct {
	// Text is the incremental reply content. May be empty on the final
	// delta.
	Text string

	// Done marks the last delta of the reply.
	Done bool

	// Err is set on the final delta when generation failed. A context
	// cancellation is not reported as an error; the stream just ends.
	Err error
}

// ReplyOptions tunes one generation request.
type ReplyOptions struct {
	// SystemPrompt is prepended to the conversation when non-empty.
	SystemPrompt string

	// Temperature in [0, 2]. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the backend default.
	MaxTokens int
}

// Provider is the abstraction over the reasoning backend.
type Provider interface {
	// StreamReply generates a reply to the conversation and streams it as
	// deltas. The returned channel is closed when the reply is complete,
	// generation fails or ctx is cancelled. Returns an error only if the
	// stream cannot be started.
	StreamReply(ctx context.Context, conversation []Message, opts ReplyOptions) (<-chan Delta, error)
}
