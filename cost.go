package meetingpod

import "strings"

type TokenRates struct {
	Input  float64
	Output float64
}

// Pricing constants for the supported chat models (in dollars per million tokens)
const (
	GPT4oInputRate           = 2.5
	GPT4oOutputRate          = 10.0
	GPT4oMiniInputRate       = 0.15
	GPT4oMiniOutputRate      = 0.60
	Gemini20FlashInputRate   = 0.10
	Gemini20FlashOutputRate  = 0.40
	ClaudeSonnet45InputRate  = 3.0
	ClaudeSonnet45OutputRate = 15.0
	Claude35HaikuInputRate   = 0.80
	Claude35HaikuOutputRate  = 4.0
)

// ModelPricings is a map of model names to their pricing information
var ModelPricings = map[string]TokenRates{
	"gpt-4o": {
		Input:  GPT4oInputRate,
		Output: GPT4oOutputRate,
	},
	"gpt-4o-mini": {
		Input:  GPT4oMiniInputRate,
		Output: GPT4oMiniOutputRate,
	},
	"gemini-2.0-flash": {
		Input:  Gemini20FlashInputRate,
		Output: Gemini20FlashOutputRate,
	},
	"claude-sonnet-4-5": {
		Input:  ClaudeSonnet45InputRate,
		Output: ClaudeSonnet45OutputRate,
	},
	"claude-3-5-haiku-latest": {
		Input:  Claude35HaikuInputRate,
		Output: Claude35HaikuOutputRate,
	},
}

// CostDetails represents detailed cost information for a session
type CostDetails struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// pricingFor looks a model up by exact name first, then by the longest known prefix so dated
// snapshots such as gpt-4o-2024-08-06 resolve to their family.
func pricingFor(model string) (TokenRates, bool) {
	model = strings.TrimPrefix(strings.ToLower(model), "models/")
	if pricing, ok := ModelPricings[model]; ok {
		return pricing, true
	}
	best := ""
	for name := range ModelPricings {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return TokenRates{}, false
	}
	return ModelPricings[best], true
}

// Cost prices the usage for model. It returns false when the model has no known pricing.
func (u Usage) Cost(model string) (*CostDetails, bool) {
	pricing, exists := pricingFor(model)
	if !exists {
		return nil, false
	}

	inputCost := float64(u.InputTokens) * pricing.Input / 1000000
	outputCost := float64(u.OutputTokens) * pricing.Output / 1000000
	totalCost := inputCost + outputCost

	return &CostDetails{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalCost:    totalCost,
	}, true
}
