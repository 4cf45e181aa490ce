// Package chat defines the capability a logical worker must provide:
// given a conversation, produce a textual result, possibly incrementally.
// The orchestration core treats implementations as opaque and tolerates
// arbitrary latency, partial output, and hard failures.
package chat

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn handed to a worker capability.
type Message struct {
	Role    Role
	Content string
}

// Delta is one increment of streamed output. A Delta carrying Err
// signals stream failure; the channel closes after the final delta.
type Delta struct {
	Text string
	Err  error
}

// Streamer is the worker capability. StreamChat produces output
// incrementally; Chat blocks until the full text is available.
// Implementations must honor context cancellation.
type Streamer interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan Delta, error)
	Chat(ctx context.Context, messages []Message) (string, error)
}
