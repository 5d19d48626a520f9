package domain

import (
	"fmt"
	"math"
	"time"
)

// Layer identifies one of the seven score producers feeding the composite.
type Layer string

const (
	LayerTA         Layer = "ta"
	LayerOnChain    Layer = "onchain"
	LayerCelestial  Layer = "celestial"
	LayerNumerology Layer = "numerology"
	LayerSentiment  Layer = "sentiment"
	LayerPolitical  Layer = "political"
	LayerMacro      Layer = "macro"
)

// Layers is the closed set of layers in composite order.
var Layers = []Layer{
	LayerTA, LayerOnChain, LayerCelestial, LayerNumerology,
	LayerSentiment, LayerPolitical, LayerMacro,
}

// ValidLayer reports whether l names a known layer.
func ValidLayer(l Layer) bool {
	for _, known := range Layers {
		if l == known {
			return true
		}
	}
	return false
}

// Timeframe is a candle aggregation interval.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m: time.Minute,
	TF5m: 5 * time.Minute,
	TF1h: time.Hour,
	TF4h: 4 * time.Hour,
	TF1d: 24 * time.Hour,
}

// Duration returns the wall-clock span of one bar.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe validates a wire-format timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// ClampScore bounds a score to [-1, +1]. All score fields clamp at write.
func ClampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// Strength is the discretized composite label.
type Strength string

const (
	StrongBuy  Strength = "STRONG_BUY"
	Buy        Strength = "BUY"
	Neutral    Strength = "NEUTRAL"
	Sell       Strength = "SELL"
	StrongSell Strength = "STRONG_SELL"
)

// StrengthFor maps a composite score to its label.
// Bands: [+0.6,+1] STRONG_BUY, [+0.2,+0.6) BUY, (-0.2,+0.2) NEUTRAL,
// (-0.6,-0.2] SELL, [-1,-0.6] STRONG_SELL.
func StrengthFor(composite float64) Strength {
	switch {
	case composite >= 0.6:
		return StrongBuy
	case composite >= 0.2:
		return Buy
	case composite > -0.2:
		return Neutral
	case composite > -0.6:
		return Sell
	default:
		return StrongSell
	}
}

// WeightSumTolerance is the allowed deviation of a profile's weight sum from 1.
const WeightSumTolerance = 1e-4

// DefaultWeights is the shipped layer weighting, replaceable via weight profiles.
var DefaultWeights = map[Layer]float64{
	LayerTA:         0.22,
	LayerOnChain:    0.18,
	LayerCelestial:  0.14,
	LayerNumerology: 0.10,
	LayerSentiment:  0.14,
	LayerPolitical:  0.14,
	LayerMacro:      0.08,
}

// WeightProfile is one named set of layer weights; exactly one profile is active.
type WeightProfile struct {
	ID        int64             `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Weights   map[Layer]float64 `json:"weights" db:"weights"`
	Active    bool              `json:"active" db:"active"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// Validate checks weight bounds and the sum-to-one invariant.
func (p WeightProfile) Validate() error {
	sum := 0.0
	for layer, w := range p.Weights {
		if !ValidLayer(layer) {
			return fmt.Errorf("unknown layer %q in weight profile", layer)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for %s out of [0,1]: %f", layer, w)
		}
		sum += w
	}
	for _, layer := range Layers {
		if _, ok := p.Weights[layer]; !ok {
			return fmt.Errorf("weight profile missing layer %s", layer)
		}
	}
	if math.Abs(sum-1) > WeightSumTolerance {
		return fmt.Errorf("weights sum to %f, want 1±%g", sum, WeightSumTolerance)
	}
	return nil
}
