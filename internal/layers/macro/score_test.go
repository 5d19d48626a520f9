package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/astroquant/confluence/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestLiquidityScore(t *testing.T) {
	// 6% YoY growth with an expanding balance sheet.
	score := LiquidityScore(f(106), f(100), f(8.1e12), f(8.0e12))
	assert.InDelta(t, 0.95, score, 1e-9)

	// 3.5% growth lands in the interpolated band: 0.4 + 1.5/7.5 = 0.6.
	score = LiquidityScore(f(103.5), f(100), nil, nil)
	assert.InDelta(t, 0.6, score, 1e-9)

	// Mild growth, shrinking balance sheet.
	score = LiquidityScore(f(101), f(100), f(7.9e12), f(8.0e12))
	assert.InDelta(t, 0.05, score, 1e-9)

	// Contraction bands.
	assert.InDelta(t, -0.8, LiquidityScore(f(96), f(100), nil, nil), 1e-9)
	assert.InDelta(t, -0.6, LiquidityScore(f(98), f(100), nil, nil), 1e-9) // -0.4 - (2-1)/5
	assert.InDelta(t, -0.2, LiquidityScore(f(99.9), f(100), nil, nil), 1e-9)

	// Missing everything scores flat.
	assert.Zero(t, LiquidityScore(nil, nil, nil, nil))
}

func TestTreasuryScore(t *testing.T) {
	// Steep curve plus low real rates is the friendliest mix.
	assert.InDelta(t, 0.5, TreasuryScore(f(0.8), f(0.2)), 1e-9)
	// Deep inversion plus punishing real rates.
	assert.InDelta(t, -0.5, TreasuryScore(f(-0.8), f(2.6)), 1e-9)
	// Mild inversion, middling real rate.
	assert.InDelta(t, 0.0, TreasuryScore(f(-0.2), f(1.0)), 1e-9)
	// Spread only.
	assert.InDelta(t, 0.3, TreasuryScore(f(0.6), nil), 1e-9)
	assert.Zero(t, TreasuryScore(nil, nil))
}

func TestDollarScore(t *testing.T) {
	assert.Zero(t, DollarScore(nil, f(100)))
	// Extreme level.
	assert.InDelta(t, -0.7, DollarScore(f(131), nil), 1e-9)
	// Interpolated band: -0.4 - 3*0.06.
	assert.InDelta(t, -0.58, DollarScore(f(128), nil), 1e-9)
	// Weak dollar.
	assert.InDelta(t, 0.5, DollarScore(f(108), nil), 1e-9)
	// Momentum overlay: flat level band, 3% rally subtracts 0.2.
	assert.InDelta(t, -0.2, DollarScore(f(118), f(114.56)), 1e-2)
	// Sliding dollar adds.
	assert.InDelta(t, 0.2, DollarScore(f(116), f(119)), 1e-9)
}

func TestOilScore(t *testing.T) {
	assert.Zero(t, OilScore(nil, f(80)))
	// +25% spike: -0.5 - min(0.3, 10/30).
	assert.InDelta(t, -0.8333333, OilScore(f(100), f(80)), 1e-6)
	// +10%: -0.2 - 5/50.
	assert.InDelta(t, -0.3, OilScore(f(88), f(80)), 1e-9)
	// Crash and drift bands.
	assert.InDelta(t, -0.3, OilScore(f(60), f(80)), 1e-9)
	assert.InDelta(t, -0.1, OilScore(f(68), f(80)), 1e-9)
	// Stable price.
	assert.InDelta(t, 0.15, OilScore(f(81), f(80)), 1e-9)
}

func TestCarryScore(t *testing.T) {
	// Violent yen strengthening dominates everything.
	score, stress := CarryScore(f(140), f(150), f(18))
	assert.InDelta(t, -0.8, score, 1e-9)
	// -6.67% weekly caps forex stress at 1; VIX 18 adds nothing.
	assert.InDelta(t, 0.5, stress, 1e-9)

	// Calm conditions.
	score, stress = CarryScore(f(150), f(150.1), f(14))
	assert.InDelta(t, 0.2, score, 1e-9)
	assert.Less(t, stress, 0.2)

	// High VIX with moderate yen move trips the joint condition.
	score, _ = CarryScore(f(147), f(150), f(31))
	assert.InDelta(t, -0.9, score, 1e-9)

	// Missing pair data is neutral.
	score, stress = CarryScore(nil, nil, f(40))
	assert.Zero(t, score)
	assert.Zero(t, stress)
}

func TestCompose(t *testing.T) {
	assert.InDelta(t, 0.3*0.5+0.2*0.4+0.2*(-0.2)+0.1*0.15+0.2*0.2, Compose(0.5, 0.4, -0.2, 0.15, 0.2), 1e-9)
	assert.Equal(t, -1.0, Compose(-5, -5, -5, -5, -5))
}

func TestRegimePriority(t *testing.T) {
	regime, conf := Regime(-0.2, 0.5, 0.3, -0.7)
	assert.Equal(t, domain.RegimeCarryUnwind, regime)
	assert.InDelta(t, 0.2, conf, 1e-9)

	regime, _ = Regime(-0.3, -0.4, -0.3, 0)
	assert.Equal(t, domain.RegimeTightening, regime)

	regime, _ = Regime(0.3, 0.4, 0.1, 0)
	assert.Equal(t, domain.RegimeEasing, regime)

	regime, _ = Regime(-0.4, -0.1, 0.1, 0)
	assert.Equal(t, domain.RegimeRiskOff, regime)

	regime, _ = Regime(0.4, 0.1, -0.1, 0)
	assert.Equal(t, domain.RegimeRiskOn, regime)

	regime, conf = Regime(0.1, 0.1, 0.1, 0)
	assert.Equal(t, domain.RegimeNeutral, regime)
	assert.InDelta(t, 0.1, conf, 1e-9)
}
