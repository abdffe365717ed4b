package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletion_KnownModel(t *testing.T) {
	calc := NewCalculator(Rates{
		Completion: map[string]ModelRate{
			"test-model": {Input: 2.0, Output: 10.0},
		},
	})

	// 1M input + 500K output = 2.00 + 5.00
	got := calc.Completion("test-model", 1_000_000, 500_000)
	assert.InDelta(t, 7.0, got, 1e-9)
}

func TestCompletion_UnknownModelIsFree(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Completion("no-such-model", 1000, 1000))
}

func TestEmbedding(t *testing.T) {
	calc := NewCalculator(Rates{Embedding: EmbeddingRate{PerMTok: 0.02}})
	assert.InDelta(t, 0.02, calc.Embedding(1_000_000), 1e-9)
	assert.Zero(t, calc.Embedding(0))
}

func TestDefaultRates_CoverBaseModels(t *testing.T) {
	rates := DefaultRates()
	assert.Contains(t, rates.Completion, "claude-sonnet-4-5-20250929")
	assert.Positive(t, rates.Embedding.PerMTok)
}
