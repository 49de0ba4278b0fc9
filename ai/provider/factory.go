// Package provider selects the Oracle backing field mapping and scoring.
package provider

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/openrouter"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/ai/vertex"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

// Provider names an LLM backend
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses OpenRouter.ai
	ProviderOpenRouter Provider = "openrouter"
	// ProviderVertex uses Vertex AI Gemini
	ProviderVertex Provider = "vertex"
	// ProviderAuto picks from whatever is configured
	ProviderAuto Provider = "auto"
)

// ParseProvider converts a config or flag string to a Provider
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "vertex", "gemini":
		return ProviderVertex, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.NewInvalidRequestError("unknown provider: %s (valid: local, openrouter, vertex, auto)", s)
	}
}

// Resolve turns ProviderAuto into a concrete provider.
// Priority: LocalInference (if enabled) → OpenRouter (if a key is set) → Vertex (if a project is set) → OpenRouter
func Resolve(cfg *am.Config, p Provider) Provider {
	if p != ProviderAuto {
		return p
	}
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		return ProviderLocal
	}
	if cfg.OpenRouter.APIKey != "" || len(cfg.Scoring.APIKeys) > 0 {
		return ProviderOpenRouter
	}
	if cfg.Vertex.ProjectID != "" {
		return ProviderVertex
	}
	return ProviderOpenRouter
}

// NewOracle builds the configured Oracle. Every call it makes is recorded by usage (nil = untracked).
// Release it with Close.
func NewOracle(ctx context.Context, cfg *am.Config, usage *tracker.UsageTracker, log *zap.SugaredLogger) (ai.Oracle, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p, err := ParseProvider(cfg.Scoring.Provider)
	if err != nil {
		return nil, err
	}

	switch Resolve(cfg, p) {
	case ProviderLocal:
		local := NewLocalProvider(cfg.LocalInference)
		log.Infow("Using local inference", "base_url", cfg.LocalInference.BaseURL, "model", local.GetModelName())
		return tracker.Wrap(local, usage, string(ProviderLocal), local.GetModelName(), log), nil

	case ProviderVertex:
		client, err := vertex.New(ctx, cfg.Vertex, usage, log)
		if err != nil {
			return nil, err
		}
		log.Infow("Using Vertex AI", "project", cfg.Vertex.ProjectID, "model", cfg.Vertex.Model)
		return client, nil

	default:
		orCfg := openrouter.Config{
			APIKey:  cfg.OpenRouter.APIKey,
			BaseURL: cfg.OpenRouter.BaseURL,
			Model:   cfg.OpenRouter.Model,
			Logger:  log,
			Tracker: usage,
		}
		if cfg.OpenRouter.Temperature > 0 {
			temperature := cfg.OpenRouter.Temperature
			orCfg.Temperature = &temperature
		}
		if cfg.OpenRouter.MaxTokens > 0 {
			maxTokens := cfg.OpenRouter.MaxTokens
			orCfg.MaxTokens = &maxTokens
		}
		client := openrouter.NewClient(orCfg)
		if !client.IsConfigured() && len(cfg.Scoring.APIKeys) == 0 {
			log.Warnw("OpenRouter selected without an API key; AI calls will fail until openrouter.api_key is set")
		}
		return client, nil
	}
}

// Close releases an Oracle that holds connections
func Close(o ai.Oracle) error {
	if c, ok := o.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GetAvailableProviders lists the providers that have enough configuration to run
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		providers = append(providers, ProviderLocal)
	}
	if cfg.OpenRouter.APIKey != "" || len(cfg.Scoring.APIKeys) > 0 {
		providers = append(providers, ProviderOpenRouter)
	}
	if cfg.Vertex.ProjectID != "" {
		providers = append(providers, ProviderVertex)
	}
	return providers
}
