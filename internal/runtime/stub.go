package runtime

import (
	"context"
	"strings"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Stub is a deterministic Provider used when runtime.mode=stub: it echoes
// the final user message back in a few small chunks instead of calling a
// real LLM. Tests and local runs use it to exercise the worker/scheduler
// pipeline without network access or API keys.
type Stub struct{}

// NewStub returns a ready-to-use Stub provider.
func NewStub() *Stub { return &Stub{} }

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Stream(ctx context.Context, profile v1.PersonaProfile, messages []Message) (<-chan Chunk, error) {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}

	reply := "(stub) " + last
	words := strings.Fields(reply)
	if len(words) == 0 {
		words = []string{reply}
	}

	chunks := make(chan Chunk, len(words)+1)
	go func() {
		defer close(chunks)
		for i, w := range words {
			select {
			case <-ctx.Done():
				return
			default:
			}
			text := w
			if i < len(words)-1 {
				text += " "
			}
			chunks <- Chunk{Content: text}
		}
		chunks <- Chunk{Done: true}
	}()
	return chunks, nil
}

func (s *Stub) Health(ctx context.Context, profile v1.PersonaProfile) error {
	return nil
}
