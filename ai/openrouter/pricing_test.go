package openrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost(t *testing.T) {
	// 1M prompt + 1M completion tokens of gpt-4o-mini
	assert.InDelta(t, 0.75, CalculateCost("openai/gpt-4o-mini", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.0, CalculateCost("openai/gpt-4o", 0, 0), 1e-9)
	assert.Equal(t, DefaultPricingFallback, CalculateCost("unknown/model", 500, 500))
}

func TestGetPricing(t *testing.T) {
	p, ok := GetPricing("google/gemini-flash-1.5")
	assert.True(t, ok)
	assert.Equal(t, 0.30, p.CompletionPrice)

	_, ok = GetPricing("made/up")
	assert.False(t, ok)
}
