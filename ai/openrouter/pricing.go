package openrouter

// ModelPricing is USD per million tokens
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// modelPricing covers the models intake is usually pointed at
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o":                    {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4o-mini":               {PromptPrice: 0.15, CompletionPrice: 0.60},
	"anthropic/claude-3.5-sonnet":      {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-3-haiku":         {PromptPrice: 0.25, CompletionPrice: 1.25},
	"google/gemini-pro-1.5":            {PromptPrice: 1.25, CompletionPrice: 5.00},
	"google/gemini-flash-1.5":          {PromptPrice: 0.075, CompletionPrice: 0.30},
	"meta-llama/llama-3.1-8b-instruct": {PromptPrice: 0.055, CompletionPrice: 0.055},
}

// DefaultPricingFallback is charged per call for unknown models
const DefaultPricingFallback = 0.01

// CalculateCost prices one call in USD
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}
	return float64(promptTokens)/1_000_000*pricing.PromptPrice +
		float64(completionTokens)/1_000_000*pricing.CompletionPrice
}

// GetPricing returns the pricing of a model, if known
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
