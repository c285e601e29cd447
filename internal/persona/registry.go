// Package persona provides the persona registry collaborator: the
// orchestrator's read-only view of who a tenant's personas are and how to
// reach the LLM behind each one. CRUD over personas and their API-profile
// schema live outside this module; only lookups live here.
package persona

import (
	"context"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Registry is the persona collaborator the orchestrator consumes.
type Registry interface {
	// ListPersonas returns every persona configured for tenant.
	ListPersonas(ctx context.Context, tenant string) ([]v1.PersonaRef, error)

	// ResolveProfile returns the runtime invocation details for handle
	// under tenant, or a NotFound/Forbidden AppError.
	ResolveProfile(ctx context.Context, tenant, handle string) (v1.PersonaProfile, error)
}
