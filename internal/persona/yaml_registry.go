package persona

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kandev/personaorch/internal/common/errors"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// fixtureTenant is one tenant's personas as laid out on disk.
type fixtureTenant struct {
	Personas []fixturePersona `yaml:"personas"`
}

// fixturePersona mirrors v1.PersonaRef plus the profile fields the registry
// resolves separately, so a single YAML document is both the PersonaRef
// source and the API-profile source for local/dev runs.
type fixturePersona struct {
	Handle        string   `yaml:"handle"`
	DisplayName   string   `yaml:"display_name"`
	Proactivity   float64  `yaml:"proactivity"`
	MemoryWindow  int      `yaml:"memory_window"`
	BasePrompt    string   `yaml:"base_prompt"`
	Tone          string   `yaml:"tone"`
	Catchphrases  []string `yaml:"catchphrases"`
	HasKnowledge  bool     `yaml:"has_knowledge"`
	RAGTopK       int      `yaml:"rag_top_k"`
	BackgroundRef string   `yaml:"background_ref"`

	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	APIKey           string  `yaml:"api_key"`
	Temperature      float64 `yaml:"temperature"`
	IsEmbeddingModel bool    `yaml:"is_embedding_model"`
	EmbeddingDim     int     `yaml:"embedding_dim"`
}

// YAMLRegistry is a Registry backed by one YAML fixture file per tenant,
// loaded once at construction. It is the reference implementation used in
// local/dev runs and tests; a production deployment wires its own registry
// service behind the same interface (persona/API-profile CRUD and its
// schema are explicitly out of scope here).
type YAMLRegistry struct {
	mu      sync.RWMutex
	tenants map[string]map[string]fixturePersona // tenant -> handle -> persona
}

// NewYAMLRegistry returns a Registry with no tenants loaded; call LoadFile
// to populate it.
func NewYAMLRegistry() *YAMLRegistry {
	return &YAMLRegistry{tenants: make(map[string]map[string]fixturePersona)}
}

// LoadFile reads a YAML fixture for tenant from path, replacing any
// personas previously loaded for that tenant.
func (r *YAMLRegistry) LoadFile(tenant, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona fixture: %w", err)
	}

	var doc fixtureTenant
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse persona fixture: %w", err)
	}

	byHandle := make(map[string]fixturePersona, len(doc.Personas))
	for _, p := range doc.Personas {
		byHandle[p.Handle] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant] = byHandle
	return nil
}

// LoadDir loads every "{tenant_id}.yaml" fixture in dir, one tenant per
// file. A missing directory is not an error: it just leaves the registry
// empty, which is a valid (if uninteresting) starting state.
func (r *YAMLRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read persona fixtures dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		tenant := strings.TrimSuffix(entry.Name(), ".yaml")
		if err := r.LoadFile(tenant, filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("load persona fixture for tenant %q: %w", tenant, err)
		}
	}
	return nil
}

// ListPersonas returns every persona loaded for tenant.
func (r *YAMLRegistry) ListPersonas(_ context.Context, tenant string) ([]v1.PersonaRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byHandle, ok := r.tenants[tenant]
	if !ok {
		return nil, nil
	}
	out := make([]v1.PersonaRef, 0, len(byHandle))
	for _, p := range byHandle {
		out = append(out, toPersonaRef(p))
	}
	return out, nil
}

// ResolveProfile returns the runtime invocation profile for handle under
// tenant, or NotFound if either the tenant or the handle is unknown.
func (r *YAMLRegistry) ResolveProfile(_ context.Context, tenant, handle string) (v1.PersonaProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byHandle, ok := r.tenants[tenant]
	if !ok {
		return v1.PersonaProfile{}, errors.NotFound("tenant", tenant)
	}
	p, ok := byHandle[handle]
	if !ok {
		return v1.PersonaProfile{}, errors.NotFound("persona", handle)
	}

	return v1.PersonaProfile{
		BaseURL:          p.BaseURL,
		Model:            p.Model,
		APIKey:           p.APIKey,
		Temperature:      p.Temperature,
		IsEmbeddingModel: p.IsEmbeddingModel,
		EmbeddingDim:     p.EmbeddingDim,
	}, nil
}

func toPersonaRef(p fixturePersona) v1.PersonaRef {
	return v1.PersonaRef{
		Handle:        p.Handle,
		DisplayName:   p.DisplayName,
		Proactivity:   p.Proactivity,
		MemoryWindow:  p.MemoryWindow,
		BasePrompt:    p.BasePrompt,
		Tone:          p.Tone,
		Catchphrases:  p.Catchphrases,
		HasKnowledge:  p.HasKnowledge,
		RAGTopK:       p.RAGTopK,
		BackgroundRef: p.BackgroundRef,
	}
}
