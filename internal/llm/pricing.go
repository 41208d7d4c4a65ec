package llm

import "strings"

// ModelCost is USD per million tokens.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost converts one call's token counts into USD.
func (c ModelCost) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*c.InputPerMTok + float64(outputTokens)*c.OutputPerMTok) / 1e6
}

// judgeModelCosts covers the models the factory can select for judge calls.
// Dated releases resolve by prefix, so "gpt-4o-2024-08-06" prices as
// "gpt-4o". Rates last checked 2026-08.
var judgeModelCosts = map[string]ModelCost{
	// Anthropic
	"claude-sonnet-4": {3, 15},
	"claude-haiku-4":  {1, 5},

	// OpenAI
	"gpt-4o":      {2.5, 10},
	"gpt-4o-mini": {0.15, 0.6},

	// Google
	"gemini-2.0-flash": {0.1, 0.4},
	"gemini-2.0-pro":   {1.25, 10},
}

// LookupCost prices a model id: exact match first, then the longest prefix
// entry. Unknown models return nil.
func LookupCost(modelID string) *ModelCost {
	if c, ok := judgeModelCosts[modelID]; ok {
		return &c
	}

	var best string
	for id := range judgeModelCosts {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return nil
	}
	c := judgeModelCosts[best]
	return &c
}
