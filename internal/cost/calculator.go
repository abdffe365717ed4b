package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Completion map[string]ModelRate `yaml:"completion" mapstructure:"completion"`
	Embedding  EmbeddingRate        `yaml:"embedding" mapstructure:"embedding"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// EmbeddingRate holds embedding pricing.
type EmbeddingRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Completion computes the cost for one completion call. Unknown models
// cost 0.
func (c *Calculator) Completion(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Completion[model]
	if !ok {
		return 0
	}
	inCost := (float64(inputTokens) / 1e6) * rate.Input
	outCost := (float64(outputTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// Embedding computes the cost for embedding token usage.
func (c *Calculator) Embedding(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Embedding.PerMTok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Completion: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Embedding: EmbeddingRate{PerMTok: 0.02},
	}
}
