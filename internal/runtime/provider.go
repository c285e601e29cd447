// Package runtime is the Runtime Adapter: it turns a persona's resolved
// profile and an assembled prompt into a token stream, retrying transient
// provider failures and enforcing the idle-token timeout.
package runtime

import (
	"context"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Chunk is one increment of an in-flight generation.
type Chunk struct {
	// Content is the incremental text produced since the last Chunk.
	Content string
	// Done is true on the final Chunk of a stream; Content may be empty.
	Done bool
	// Err is set alongside Done when the stream ended abnormally (e.g. an
	// idle-token timeout), so the caller can distinguish a clean finish from
	// a failure that still delivered partial content.
	Err error
}

// Provider streams a chat completion for one persona turn. Implementations
// must close the returned channel once the stream ends (successfully or
// not) and must never block indefinitely: a caller enforces the idle-token
// timeout by racing reads against a timer.
type Provider interface {
	// Name identifies the provider for logging, e.g. "bedrock", "openai-compatible".
	Name() string

	// Stream begins a streaming completion against profile using messages
	// as the already-assembled prompt (system + extra + history + user).
	Stream(ctx context.Context, profile v1.PersonaProfile, messages []Message) (<-chan Chunk, error)

	// Health reports whether profile's endpoint is reachable and
	// correctly configured, without generating a completion.
	Health(ctx context.Context, profile v1.PersonaProfile) error
}

// Role enumerates chat-message roles understood by every Provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in an assembled prompt, provider-agnostic.
type Message struct {
	Role    Role
	Content string
}
