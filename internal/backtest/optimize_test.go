package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateSimplex(t *testing.T) {
	// Vectors of dimension 3 summing to 2: C(4,2) = 6.
	grid := enumerateSimplex(2, 3)
	require.Len(t, grid, 6)
	for _, v := range grid {
		sum := 0
		for _, x := range v {
			sum += x
		}
		assert.Equal(t, 2, sum)
	}
	assert.Contains(t, grid, []int{2, 0, 0})
	assert.Contains(t, grid, []int{0, 1, 1})
}

func TestEnumerateSimplexSevenLayers(t *testing.T) {
	// Steps 4 over 7 dimensions: C(10,6) = 210 candidates.
	grid := enumerateSimplex(4, 7)
	assert.Len(t, grid, 210)
}

func TestObjectiveValue(t *testing.T) {
	report := &SignalReport{HitRate: 0.6, MeanReturnPct: 2.5, Sharpe: 1.1}
	assert.Equal(t, 0.6, objectiveValue(ObjectiveHitRate, report))
	assert.Equal(t, 2.5, objectiveValue(ObjectiveMeanReturn, report))
	assert.Equal(t, 1.1, objectiveValue(ObjectiveSharpe, report))
	assert.Equal(t, 1.1, objectiveValue(Objective("unknown"), report))
}

func TestFillStats(t *testing.T) {
	report := &SignalReport{}
	fillStats(report, []float64{10, -5, 20, -5})

	assert.Equal(t, 0.5, report.HitRate)
	assert.InDelta(t, 5.0, report.MeanReturnPct, 1e-9)
	assert.Greater(t, report.MaxDrawdownPct, 0.0)
	assert.NotZero(t, report.Sharpe)

	empty := &SignalReport{}
	fillStats(empty, nil)
	assert.Zero(t, empty.HitRate)
	assert.Zero(t, empty.Sharpe)
}
