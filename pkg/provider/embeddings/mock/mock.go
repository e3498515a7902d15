// Package mock provides a deterministic embeddings provider for tests.
package mock

import (
	"context"
	"sync"
)

// dims is the fixed vector length of the mock provider.
const dims = 8

// Provider implements embeddings.Provider with a cheap hash-based vector so
// identical texts embed identically and similar tests stay deterministic.
// Specific texts can be pinned to fixed vectors with [Provider.Set].
type Provider struct {
	mu     sync.Mutex
	pinned map[string][]float32
	calls  int
}

// NewProvider creates an empty mock provider.
func NewProvider() *Provider {
	return &Provider{pinned: make(map[string][]float32)}
}

// Set pins text to the given vector (padded or truncated to 8 dims).
func (p *Provider) Set(text string, vec []float32) {
	v := make([]float32, dims)
	copy(v, vec)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[text] = v
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if v, ok := p.pinned[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return hashVector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return dims }

// Calls returns how many single embeddings were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// hashVector spreads the text's bytes over the vector and normalises
// roughly, enough for cosine ordering in tests.
func hashVector(text string) []float32 {
	v := make([]float32, dims)
	for i, b := range []byte(text) {
		v[i%dims] += float32(b) / 255
	}
	return v
}
