package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/openrouter"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"local", ProviderLocal, false},
		{"ollama", ProviderLocal, false},
		{"openrouter", ProviderOpenRouter, false},
		{"or", ProviderOpenRouter, false},
		{"vertex", ProviderVertex, false},
		{"gemini", ProviderVertex, false},
		{"", ProviderAuto, false},
		{"auto", ProviderAuto, false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		config   *am.Config
		provider Provider
		expected Provider
	}{
		{
			name:     "explicit provider overrides config",
			config:   &am.Config{LocalInference: am.LocalInferenceConfig{Enabled: true, BaseURL: "http://localhost:11434"}},
			provider: ProviderOpenRouter,
			expected: ProviderOpenRouter,
		},
		{
			name:     "local enabled and configured",
			config:   &am.Config{LocalInference: am.LocalInferenceConfig{Enabled: true, BaseURL: "http://localhost:11434"}},
			provider: ProviderAuto,
			expected: ProviderLocal,
		},
		{
			name:     "local enabled but no base URL",
			config:   &am.Config{LocalInference: am.LocalInferenceConfig{Enabled: true}},
			provider: ProviderAuto,
			expected: ProviderOpenRouter,
		},
		{
			name:     "rotated scoring keys imply openrouter",
			config:   &am.Config{Scoring: am.ScoringConfig{APIKeys: []string{"k1"}}, Vertex: am.VertexConfig{ProjectID: "p"}},
			provider: ProviderAuto,
			expected: ProviderOpenRouter,
		},
		{
			name:     "vertex when only a project is set",
			config:   &am.Config{Vertex: am.VertexConfig{ProjectID: "recruiting-prod"}},
			provider: ProviderAuto,
			expected: ProviderVertex,
		},
		{
			name:     "nothing configured falls back to openrouter",
			config:   &am.Config{},
			provider: ProviderAuto,
			expected: ProviderOpenRouter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.config, tt.provider))
		})
	}
}

func TestNewOracle(t *testing.T) {
	t.Run("openrouter is keyed", func(t *testing.T) {
		cfg := &am.Config{
			Scoring:    am.ScoringConfig{Provider: "openrouter"},
			OpenRouter: am.OpenRouterConfig{APIKey: "sk-test", Model: "openai/gpt-4o"},
		}
		o, err := NewOracle(context.Background(), cfg, nil, nil)
		require.NoError(t, err)
		_, keyed := o.(ai.KeyedOracle)
		assert.True(t, keyed)
		_, isClient := o.(*openrouter.Client)
		assert.True(t, isClient)
		assert.NoError(t, Close(o))
	})

	t.Run("local", func(t *testing.T) {
		cfg := &am.Config{
			Scoring:        am.ScoringConfig{Provider: "local"},
			LocalInference: am.LocalInferenceConfig{Enabled: true, BaseURL: "http://localhost:11434", Model: "llama3.2:3b"},
		}
		o, err := NewOracle(context.Background(), cfg, nil, nil)
		require.NoError(t, err)
		assert.IsType(t, &LocalProvider{}, o, "nil tracker leaves the provider unwrapped")
	})

	t.Run("vertex without project", func(t *testing.T) {
		cfg := &am.Config{Scoring: am.ScoringConfig{Provider: "vertex"}}
		_, err := NewOracle(context.Background(), cfg, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsServiceUnavailableError(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := &am.Config{Scoring: am.ScoringConfig{Provider: "carrier-pigeon"}}
		_, err := NewOracle(context.Background(), cfg, nil, nil)
		require.Error(t, err)
	})
}

func TestGetAvailableProviders(t *testing.T) {
	cfg := &am.Config{
		LocalInference: am.LocalInferenceConfig{Enabled: true, BaseURL: "http://localhost:11434"},
		OpenRouter:     am.OpenRouterConfig{APIKey: "k"},
	}
	assert.Equal(t, []Provider{ProviderLocal, ProviderOpenRouter}, GetAvailableProviders(cfg))
	assert.Empty(t, GetAvailableProviders(&am.Config{}))
}
