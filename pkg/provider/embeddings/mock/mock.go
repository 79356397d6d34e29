// Package mock provides a test double for the embeddings.Provider interface.
//
// The default vector for a text is deterministic (derived from the text's
// bytes), so retrieval tests get stable, distinct embeddings without scripting
// every input.
package mock

import (
	"context"
	"sync"

	"github.com/ckocel/voxtutor/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// By default every text embeds to a deterministic vector of Dims length. Set
// Vectors to pin exact outputs for specific inputs, or Err to fail every call.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length; defaults to 4 when zero.
	Dims int

	// Model is returned by ModelID; defaults to "mock-embed".
	Model string

	// Vectors maps exact input text to a fixed vector, overriding the
	// deterministic default.
	Vectors map[string][]float32

	// Err, if non-nil, fails every Embed and EmbedBatch call.
	Err error

	// EmbedCalls records every text submitted, across Embed and EmbedBatch,
	// in order.
	EmbedCalls []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return 4
	}
	return p.Dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

// vectorFor must be called with mu held.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		cp := make([]float32, len(v))
		copy(cp, v)
		return cp
	}
	dims := p.Dims
	if dims <= 0 {
		dims = 4
	}
	// FNV-1a over the text seeds each component so distinct texts get
	// distinct but repeatable vectors.
	h := uint32(2166136261)
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	out := make([]float32, dims)
	for i := range out {
		h ^= uint32(i + 1)
		h *= 16777619
		out[i] = float32(h%1000)/1000.0 + 0.001
	}
	return out
}

// Submitted returns a snapshot of every text embedded so far.
func (p *Provider) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.EmbedCalls))
	copy(out, p.EmbedCalls)
	return out
}
