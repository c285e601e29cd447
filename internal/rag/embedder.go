package rag

import (
	"context"
	"math"
	"strings"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

// FallbackEmbedder is a deterministic, dependency-free embedder: it buckets
// each rune into one of Dim slots by codepoint and counts frequency, then
// L2-normalises. It exists so the orchestrator has working retrieval
// without any external embedding service configured — tests and small
// deployments rely on it.
type FallbackEmbedder struct {
	Dim int
}

// NewFallbackEmbedder returns a FallbackEmbedder producing dim-length
// vectors; dim<=0 defaults to 384.
func NewFallbackEmbedder(dim int) *FallbackEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &FallbackEmbedder{Dim: dim}
}

func (e *FallbackEmbedder) Dimension() int { return e.Dim }

func (e *FallbackEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.Dim)
	for _, r := range strings.ToLower(text) {
		vec[int(r)%e.Dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// ProfileEmbedder adapts a runtime provider profile flagged as an embedding
// model to the Embedder interface. It is a placeholder a real deployment
// wires against its embedding HTTP endpoint; construction is deferred to
// the caller since hitting a real service requires the same HTTP machinery
// as runtime.OpenAICompatible.
type ProfileEmbedder struct {
	Profile v1.PersonaProfile
	Call    func(ctx context.Context, baseURL, apiKey, model, text string) ([]float64, error)
}

func (p *ProfileEmbedder) Dimension() int { return p.Profile.EmbeddingDim }

func (p *ProfileEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return p.Call(ctx, p.Profile.BaseURL, p.Profile.APIKey, p.Profile.Model, text)
}

// CosineSimilarity returns the cosine similarity of a and b, assuming both
// are non-empty and of equal length.
func CosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
