package ta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
)

// flatCandles builds n hourly bars priced at level, with the closes slice
// overriding the tail. High/Low/Open track Close so indicator inputs stay
// fully determined by the close series.
func flatCandles(n int, level float64, tail ...float64) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		price := level
		if j := i - (n - len(tail)); j >= 0 {
			price = tail[j]
		}
		candles[i] = domain.Candle{
			Symbol:    "BTC/USDT",
			Timeframe: domain.TF1h,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		}
	}
	return candles
}

func rampCandles(n int, start, step float64) []domain.Candle {
	candles := flatCandles(n, start)
	for i := range candles {
		price := start + float64(i)*step
		candles[i].Open = price
		candles[i].High = price
		candles[i].Low = price
		candles[i].Close = price
	}
	return candles
}

func TestComputeNeedsWarmup(t *testing.T) {
	snap, ok := Compute(flatCandles(MinBars-1, 100), Params{})
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestComputeGoldenCross(t *testing.T) {
	// A long flat stretch keeps SMA50 pinned to SMA200; one strong bar
	// lifts the fast average through the slow one on the final print.
	snap, ok := Compute(flatCandles(220, 100, 200), Params{})
	require.True(t, ok)

	assert.True(t, snap.Indicators.GoldenCross)
	assert.False(t, snap.Indicators.DeathCross)
	assert.Equal(t, 0.4, snap.SubSignals["ma_cross"])

	// The same bar trips the momentum and envelope rules.
	assert.Equal(t, 0.3, snap.SubSignals["macd_cross"])
	assert.True(t, snap.Indicators.MACDCrossUp)
	assert.Equal(t, -0.3, snap.SubSignals["bollinger"])
	assert.Equal(t, -1.0, snap.SubSignals["rsi"], "all gains pins RSI at 100")

	// Mean of the four live sub-signals.
	assert.InDelta(t, (-1.0+0.3-0.3+0.4)/4, snap.Score, 1e-9)
}

func TestComputeDeathCross(t *testing.T) {
	snap, ok := Compute(flatCandles(220, 200, 100), Params{})
	require.True(t, ok)

	assert.True(t, snap.Indicators.DeathCross)
	assert.Equal(t, -0.4, snap.SubSignals["ma_cross"])
	assert.Equal(t, -0.3, snap.SubSignals["macd_cross"])
	assert.Equal(t, 0.3, snap.SubSignals["bollinger"])
	assert.Equal(t, 1.0, snap.SubSignals["rsi"])
	assert.InDelta(t, (1.0-0.3+0.3-0.4)/4, snap.Score, 1e-9)
}

func TestComputeOverboughtRamp(t *testing.T) {
	// A steady one-point climb never crosses anything and stays inside the
	// bands; the only live sub-signal is the pinned RSI.
	snap, ok := Compute(rampCandles(220, 100, 1), Params{})
	require.True(t, ok)

	assert.InDelta(t, 100, snap.Indicators.RSI14, 1e-9)
	assert.Equal(t, -1.0, snap.SubSignals["rsi"])
	assert.NotContains(t, snap.SubSignals, "ma_cross")
	assert.NotContains(t, snap.SubSignals, "macd_cross")
	assert.NotContains(t, snap.SubSignals, "bollinger")
	assert.InDelta(t, -1.0, snap.Score, 1e-9)
}

func TestComputeScoreClamped(t *testing.T) {
	snap, ok := Compute(flatCandles(220, 100, 200), Params{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, snap.Score, -1.0)
	assert.LessOrEqual(t, snap.Score, 1.0)
}

func TestSwingWindow(t *testing.T) {
	highs := make([]float64, 100)
	lows := make([]float64, 100)
	for i := range highs {
		highs[i] = 100
		lows[i] = 90
	}
	// Extremes outside the trailing 3*window span are ignored.
	highs[10] = 500
	lows[10] = 1
	highs[80] = 140
	lows[60] = 50

	hi, lo := swing(highs, lows, 20)
	assert.Equal(t, 140.0, hi)
	assert.Equal(t, 50.0, lo)
}
