package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1.0, ClampScore(1.7))
	assert.Equal(t, -1.0, ClampScore(-3))
	assert.Equal(t, 0.42, ClampScore(0.42))
	assert.Equal(t, 0.0, ClampScore(math.NaN()))
	assert.Equal(t, 1.0, ClampScore(math.Inf(1)))
	assert.Equal(t, -1.0, ClampScore(math.Inf(-1)))
}

func TestStrengthForBands(t *testing.T) {
	tests := []struct {
		composite float64
		want      Strength
	}{
		{1.0, StrongBuy},
		{0.6, StrongBuy},
		{0.59999, Buy},
		{0.2, Buy},
		{0.19999, Neutral},
		{0, Neutral},
		{-0.19999, Neutral},
		{-0.2, Sell},
		{-0.59999, Sell},
		{-0.6, StrongSell},
		{-1.0, StrongSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrengthFor(tt.composite), "composite %v", tt.composite)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("4h")
	require.NoError(t, err)
	assert.Equal(t, TF4h, tf)

	_, err = ParseTimeframe("3h")
	assert.Error(t, err)
}

func TestWeightProfileValidate(t *testing.T) {
	valid := WeightProfile{Name: "default", Weights: DefaultWeights}
	require.NoError(t, valid.Validate())

	t.Run("sum off by more than tolerance", func(t *testing.T) {
		w := map[Layer]float64{}
		for layer, v := range DefaultWeights {
			w[layer] = v
		}
		w[LayerTA] += 0.01
		err := WeightProfile{Name: "skewed", Weights: w}.Validate()
		assert.Error(t, err)
	})

	t.Run("sum within tolerance passes", func(t *testing.T) {
		w := map[Layer]float64{}
		for layer, v := range DefaultWeights {
			w[layer] = v
		}
		w[LayerTA] += 5e-5
		assert.NoError(t, WeightProfile{Name: "nudged", Weights: w}.Validate())
	})

	t.Run("missing layer", func(t *testing.T) {
		w := map[Layer]float64{LayerTA: 1}
		assert.Error(t, WeightProfile{Name: "partial", Weights: w}.Validate())
	})

	t.Run("unknown layer", func(t *testing.T) {
		w := map[Layer]float64{}
		for layer, v := range DefaultWeights {
			w[layer] = v
		}
		w[Layer("astro2")] = 0
		assert.Error(t, WeightProfile{Name: "alien", Weights: w}.Validate())
	})

	t.Run("negative weight", func(t *testing.T) {
		w := map[Layer]float64{}
		for layer, v := range DefaultWeights {
			w[layer] = v
		}
		w[LayerTA] = -0.1
		w[LayerOnChain] = DefaultWeights[LayerOnChain] + DefaultWeights[LayerTA] + 0.1
		assert.Error(t, WeightProfile{Name: "negative", Weights: w}.Validate())
	})
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range DefaultWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, WeightSumTolerance)
}
