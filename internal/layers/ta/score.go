// Package ta scores price action for one (symbol, timeframe) pair from its
// candle history.
package ta

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
)

// MinBars is the warm-up needed before the slowest indicator (SMA200) plus
// cross lookback produces values.
const MinBars = 210

// fibRatios are the retracement levels measured from the latest swing.
var fibRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}

// Params are the tunable rule inputs; zero values take defaults.
type Params struct {
	ZigZagBars   int     // swing detection window, default 20
	FibATRFactor float64 // fib proximity as a fraction of ATR, default 0.25
}

func (p Params) withDefaults() Params {
	if p.ZigZagBars <= 0 {
		p.ZigZagBars = 20
	}
	if p.FibATRFactor <= 0 {
		p.FibATRFactor = 0.25
	}
	return p
}

// Snapshot is the scored indicator state at one instant.
type Snapshot struct {
	Indicators domain.TAIndicators
	SubSignals map[string]float64
	Score      float64
}

// Compute derives the indicator set and sub-signal score from candles
// ordered ascending. The composite is the arithmetic mean of the non-zero
// sub-signals, clamped. Sub-signals producing NaN are dropped, not fatal.
func Compute(candles []domain.Candle, params Params) (*Snapshot, bool) {
	params = params.withDefaults()
	if len(candles) < MinBars {
		return nil, false
	}

	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	rsi7 := talib.Rsi(closes, 7)
	rsi14 := talib.Rsi(closes, 14)
	macd, macdSignal, macdHist := talib.Macd(closes, 12, 26, 9)
	stochK, stochD := talib.Stoch(highs, lows, closes, 14, 3, 0, 3, 0)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, 20, 2, 2, 0)
	sma20 := talib.Sma(closes, 20)
	sma50 := talib.Sma(closes, 50)
	sma200 := talib.Sma(closes, 200)
	ema12 := talib.Ema(closes, 12)
	ema26 := talib.Ema(closes, 26)
	atr14 := talib.Atr(highs, lows, closes, 14)

	last := n - 1
	close := closes[last]

	ind := domain.TAIndicators{
		RSI7:       rsi7[last],
		RSI14:      rsi14[last],
		MACD:       macd[last],
		MACDSignal: macdSignal[last],
		MACDHist:   macdHist[last],
		StochK:     stochK[last],
		StochD:     stochD[last],
		BBUpper:    bbUpper[last],
		BBMiddle:   bbMiddle[last],
		BBLower:    bbLower[last],
		SMA20:      sma20[last],
		SMA50:      sma50[last],
		SMA200:     sma200[last],
		EMA12:      ema12[last],
		EMA26:      ema26[last],
		ATR14:      atr14[last],
	}

	subs := make(map[string]float64)

	// RSI extremes scale linearly into the overbought/oversold bands.
	switch {
	case ind.RSI14 > 70:
		subs["rsi"] = -(ind.RSI14 - 70) / 30
	case ind.RSI14 < 30:
		subs["rsi"] = (30 - ind.RSI14) / 30
	}

	// MACD line crossing its signal, sticky for the crossing bar only.
	if macd[last-1] <= macdSignal[last-1] && macd[last] > macdSignal[last] {
		subs["macd_cross"] = 0.3
		ind.MACDCrossUp = true
	} else if macd[last-1] >= macdSignal[last-1] && macd[last] < macdSignal[last] {
		subs["macd_cross"] = -0.3
		ind.MACDCrossDn = true
	}

	// Close escaping the Bollinger envelope is treated as mean-reverting.
	if close < ind.BBLower {
		subs["bollinger"] = 0.3
	} else if close > ind.BBUpper {
		subs["bollinger"] = -0.3
	}

	// Golden/death cross holds its contribution for three bars.
	for i := last; i > last-3 && i > 0; i-- {
		if math.IsNaN(sma200[i]) || math.IsNaN(sma200[i-1]) {
			break
		}
		if sma50[i-1] <= sma200[i-1] && sma50[i] > sma200[i] {
			subs["ma_cross"] = 0.4
			ind.GoldenCross = true
			break
		}
		if sma50[i-1] >= sma200[i-1] && sma50[i] < sma200[i] {
			subs["ma_cross"] = -0.4
			ind.DeathCross = true
			break
		}
	}

	// Fibonacci proximity from the latest zig-zag swing.
	swingHigh, swingLow := swing(highs, lows, params.ZigZagBars)
	if swingHigh > swingLow {
		span := swingHigh - swingLow
		for _, ratio := range fibRatios {
			ind.FibLevels = append(ind.FibLevels, swingHigh-span*ratio)
		}
		tol := params.FibATRFactor * ind.ATR14
		for _, level := range ind.FibLevels {
			if math.Abs(close-level) <= tol {
				trend := 1.0
				if close < ind.SMA50 {
					trend = -1.0
				}
				subs["fibonacci"] = trend * 0.2
				break
			}
		}
	}

	// Drop NaN sub-signals so one broken indicator cannot poison the mean.
	sum, count := 0.0, 0
	for name, v := range subs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			log.Warn().Str("sub_signal", name).Msg("Dropping non-finite TA sub-signal")
			delete(subs, name)
			continue
		}
		if v != 0 {
			sum += v
			count++
		}
	}

	score := 0.0
	if count > 0 {
		score = domain.ClampScore(sum / float64(count))
	}

	return &Snapshot{Indicators: ind, SubSignals: subs, Score: score}, true
}

// swing returns the most recent swing high and low detected over trailing
// zig-zag windows.
func swing(highs, lows []float64, window int) (float64, float64) {
	n := len(highs)
	span := 3 * window
	if span > n {
		span = n
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := n - span; i < n; i++ {
		if highs[i] > hi {
			hi = highs[i]
		}
		if lows[i] < lo {
			lo = lows[i]
		}
	}
	return hi, lo
}
