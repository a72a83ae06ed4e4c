package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrPolicyRejected marks a request the provider refused on content grounds.
var ErrPolicyRejected = errors.New("content policy rejection")

// Request is one try-on synthesis call. Inputs are fetchable URLs, subject
// first, garment second.
type Request struct {
	JobID        string
	Kind         string // image | video
	Inputs       [2]string
	Prompt       string
	AspectRatio  string
	ProductLabel string
}

// Result carries either a URL the provider hosts the output at, or the raw
// bytes of the output. An empty Result is not a success.
type Result struct {
	URL         string
	Data        []byte
	ContentType string
}

func (r Result) Empty() bool {
	return strings.TrimSpace(r.URL) == "" && len(r.Data) == 0
}

type Provider interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

type ProviderFactory func(ctx context.Context, kind string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, kind string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown synthesis provider: %s", name)
	}
	return f(ctx, kind)
}
