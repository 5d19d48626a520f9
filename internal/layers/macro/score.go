// Package macro scores the global liquidity environment from five
// sub-signals and labels the resulting regime.
package macro

import (
	"math"

	"github.com/astroquant/confluence/internal/domain"
)

// Sub-signal weights of the composite.
const (
	liquidityWeight = 0.30
	treasuryWeight  = 0.20
	dollarWeight    = 0.20
	oilWeight       = 0.10
	carryWeight     = 0.20
)

// LiquidityScore maps M2 year-over-year growth into bands and nudges by the
// three-month Fed balance sheet trend. Missing inputs contribute zero.
func LiquidityScore(m2Now, m2YearAgo, fedNow, fed3mAgo *float64) float64 {
	score := 0.0
	if m2Now != nil && m2YearAgo != nil && *m2YearAgo != 0 {
		yoy := (*m2Now - *m2YearAgo) / *m2YearAgo * 100
		switch {
		case yoy > 5:
			score = 0.8
		case yoy > 2:
			score = 0.4 + (yoy-2)/7.5
		case yoy > 0:
			score = 0.2
		case yoy < -3:
			score = -0.8
		case yoy < -1:
			score = -0.4 - (math.Abs(yoy)-1)/5
		case yoy < 0:
			score = -0.2
		}
	}
	if fedNow != nil && fed3mAgo != nil {
		if *fedNow > *fed3mAgo {
			score += 0.15
		} else {
			score -= 0.15
		}
	}
	return domain.ClampScore(score)
}

// TreasuryScore reads the curve shape from the 2s10s spread and the level of
// real yields. Deep inversion and high real rates read bearish.
func TreasuryScore(spread2s10s, realRate *float64) float64 {
	score := 0.0
	if spread2s10s != nil {
		switch curve := *spread2s10s; {
		case curve < -0.5:
			score -= 0.2
		case curve < 0:
			score -= 0.1
		case curve > 0.5:
			score += 0.3
		default:
			score += 0.1
		}
	}
	if realRate != nil {
		switch r := *realRate; {
		case r > 2.5:
			score -= 0.3
		case r > 1.5:
			score -= 0.15
		case r < 0.5:
			score += 0.2
		default:
			score += 0.1
		}
	}
	return domain.ClampScore(score)
}

// DollarScore combines the DXY level bands with 20-day momentum, inverted:
// a strong or rising dollar reads bearish.
func DollarScore(dxyNow, dxy20dAgo *float64) float64 {
	if dxyNow == nil {
		return 0
	}
	dxy := *dxyNow
	var score float64
	switch {
	case dxy > 130:
		score = -0.7
	case dxy > 125:
		score = -0.4 - (dxy-125)*0.06
	case dxy > 120:
		score = -0.2
	case dxy < 110:
		score = 0.5
	case dxy < 115:
		score = 0.3
	}
	if dxy20dAgo != nil && *dxy20dAgo != 0 {
		pct := (dxy - *dxy20dAgo) / *dxy20dAgo * 100
		switch {
		case pct > 2:
			score -= 0.2
		case pct > 1:
			score -= 0.1
		case pct < -2:
			score += 0.2
		case pct < -1:
			score += 0.1
		}
	}
	return domain.ClampScore(score)
}

// OilScore maps 30-day WTI momentum. A sharp rise is an inflation impulse
// (bearish); stability reads mildly bullish.
func OilScore(wtiNow, wti30dAgo *float64) float64 {
	if wtiNow == nil || wti30dAgo == nil || *wti30dAgo == 0 {
		return 0
	}
	pct := (*wtiNow - *wti30dAgo) / *wti30dAgo * 100
	var score float64
	switch {
	case pct > 15:
		score = -0.5 - math.Min(0.3, (pct-15)/30)
	case pct > 5:
		score = -0.2 - (pct-5)/50
	case pct < -20:
		score = -0.3
	case pct < -10:
		score = -0.1
	case math.Abs(pct) < 5:
		score = 0.15
	}
	return domain.ClampScore(score)
}

// CarryScore measures carry-trade stress from the USD/JPY weekly drawdown
// and the VIX level. It returns the composite score and the continuous
// stress reading in [0,1].
func CarryScore(jpyNow, jpy7dAgo, vix *float64) (score, stress float64) {
	if jpyNow == nil {
		return 0, 0
	}

	weeklyPct := 0.0
	forexStress := 0.0
	if jpy7dAgo != nil && *jpy7dAgo != 0 {
		weeklyPct = (*jpyNow - *jpy7dAgo) / *jpy7dAgo * 100
		// A falling pair means the yen is strengthening into the trade.
		forexStress = math.Max(0, math.Min(1, -weeklyPct/5))
	}

	vixStress := 0.0
	if vix != nil {
		switch v := *vix; {
		case v > 35:
			vixStress = 1.0
		case v > 30:
			vixStress = 0.7
		case v > 25:
			vixStress = 0.4
		case v > 20:
			vixStress = 0.15
		}
	}

	stress = math.Min(1, 0.5*forexStress+0.5*vixStress)

	switch {
	case weeklyPct < -5:
		score = -0.8
	case weeklyPct < -2:
		score = -0.4
	case vixStress > 0.5 && forexStress > 0.3:
		score = -0.9
	case stress < 0.2:
		score = 0.2
	case stress < 0.4:
		score = 0.0
	case stress < 0.6:
		score = -0.2
	case stress < 0.8:
		score = -0.5
	default:
		score = -0.8
	}
	return domain.ClampScore(score), stress
}

// Compose takes the weighted mean of the five sub-signals.
func Compose(liquidity, treasury, dollar, oil, carry float64) float64 {
	return domain.ClampScore(
		liquidityWeight*liquidity +
			treasuryWeight*treasury +
			dollarWeight*dollar +
			oilWeight*oil +
			carryWeight*carry)
}

// Regime labels the environment from the composite and the sub-signals,
// checked in priority order. Confidence is the composite magnitude.
func Regime(score, liquidity, treasury, carry float64) (domain.MacroRegime, float64) {
	confidence := math.Abs(score)
	switch {
	case carry <= -0.6:
		return domain.RegimeCarryUnwind, confidence
	case liquidity <= -0.3 && treasury <= -0.2:
		return domain.RegimeTightening, confidence
	case liquidity >= 0.3 && treasury >= 0:
		return domain.RegimeEasing, confidence
	case score <= -0.35:
		return domain.RegimeRiskOff, confidence
	case score >= 0.35:
		return domain.RegimeRiskOn, confidence
	default:
		return domain.RegimeNeutral, confidence
	}
}
