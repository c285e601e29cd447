package runtime

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/persona"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// bedrockScheme marks a persona profile whose base_url names a Bedrock
// region rather than an HTTP endpoint, e.g. "bedrock:us-east-1".
const bedrockScheme = "bedrock:"

// Policy bundles the retry and timeout knobs the Adapter enforces around
// every provider call.
type Policy struct {
	RetryCount        int
	RetryBackoffBase  time.Duration
	RetryBackoffFactor float64
	IdleTokenTimeout  time.Duration
	// Stub forces every call through the deterministic Stub provider,
	// regardless of the resolved persona profile. Used in tests and
	// runtime.mode=stub deployments.
	Stub bool
}

// Adapter is the shared Runtime Adapter instance every Session Worker
// invokes concurrently. It holds no mutable per-call state: each Stream
// call resolves its own profile and provider.
type Adapter struct {
	registry persona.Registry
	policy   Policy
	bedrock  Provider
	openai   Provider
	stub     Provider
	log      *logger.Logger
}

// NewAdapter returns an Adapter backed by registry for profile resolution.
func NewAdapter(registry persona.Registry, policy Policy, log *logger.Logger) *Adapter {
	return &Adapter{
		registry: registry,
		policy:   policy,
		bedrock:  NewBedrock(""),
		openai:   NewOpenAICompatible(),
		stub:     NewStub(),
		log:      log.WithFields(zap.String("component", "runtime_adapter")),
	}
}

// Stream resolves the persona's profile under tenant, picks the matching
// provider, and streams messages through it. Transient provider errors are
// retried up to policy.RetryCount times with exponential backoff; a
// Chunk-less period exceeding IdleTokenTimeout surfaces as
// ProviderError{timeout}.
func (a *Adapter) Stream(ctx context.Context, tenantID, personaHandle string, messages []Message) (<-chan Chunk, error) {
	profile, err := a.registry.ResolveProfile(ctx, tenantID, personaHandle)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Forbidden("persona " + personaHandle + " is not owned by tenant " + tenantID)
		}
		return nil, err
	}

	provider := a.selectProvider(profile)

	var lastErr error
	backoff := a.policy.RetryBackoffBase
	attempts := a.policy.RetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			a.log.Warn("retrying provider call",
				zap.String("persona", personaHandle),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * a.policy.RetryBackoffFactor)
		}

		raw, err := provider.Stream(ctx, profile, messages)
		if err == nil {
			return a.guardIdleTimeout(raw), nil
		}
		lastErr = err
	}

	return nil, errors.Provider(errors.ProviderErrorTransient, "provider call failed after retries", lastErr)
}

// Health checks profile's endpoint without generating a completion.
func (a *Adapter) Health(ctx context.Context, profile v1.PersonaProfile) error {
	return a.selectProvider(profile).Health(ctx, profile)
}

func (a *Adapter) selectProvider(profile v1.PersonaProfile) Provider {
	if a.policy.Stub {
		return a.stub
	}
	if strings.HasPrefix(profile.BaseURL, bedrockScheme) {
		return NewBedrock(strings.TrimPrefix(profile.BaseURL, bedrockScheme))
	}
	return a.openai
}

// guardIdleTimeout wraps raw so that a gap longer than IdleTokenTimeout
// between chunks closes the stream with a ProviderError{timeout} sentinel
// chunk rather than hanging the caller forever.
func (a *Adapter) guardIdleTimeout(raw <-chan Chunk) <-chan Chunk {
	if a.policy.IdleTokenTimeout <= 0 {
		return raw
	}

	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		timer := time.NewTimer(a.policy.IdleTokenTimeout)
		defer timer.Stop()

		for {
			select {
			case chunk, ok := <-raw:
				if !ok {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(a.policy.IdleTokenTimeout)
				out <- chunk
				if chunk.Done {
					return
				}
			case <-timer.C:
				out <- Chunk{Done: true, Err: errors.Provider(errors.ProviderErrorTimeout, "no chunk received within idle token timeout", nil)}
				return
			}
		}
	}()
	return out
}
