// Package ai provides the inference providers AI_ANALYSIS steps call.
package ai

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// AnalysisRequest is one AI_ANALYSIS invocation.
type AnalysisRequest struct {
	AnalysisType string
	Prompt       string
	Input        any
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Provider runs an analysis against an inference backend. The result is the
// provider's reply decoded as JSON when possible, else the raw text.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (any, error)
}

// Registry maps provider names to providers. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. A second provider with the same name is rejected.
func (r *Registry) Register(p Provider) error {
	name := strings.ToLower(p.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "ai provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandlerUnavailable, "ai provider %q is not configured", name)
	}
	return p, nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
