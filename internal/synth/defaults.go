package synth

import (
	"context"

	"github.com/suPer8Hu/gengenie/internal/config"
)

// DefaultRegistry registers every provider the service ships with; the
// worker picks one by cfg.SynthProvider.
func DefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()

	reg.Register("mock", func(context.Context, string) (Provider, error) {
		return &MockProvider{}, nil
	})

	reg.Register("openrouter", func(context.Context, string) (Provider, error) {
		p := NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
		p.Client.Timeout = cfg.SynthTimeout
		return p, nil
	})

	reg.Register("tryon", func(context.Context, string) (Provider, error) {
		return NewTryOnProvider(cfg.TryOnBaseURL, cfg.TryOnAPIKey), nil
	})

	return reg
}
