package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
)

// maxGridCandidates bounds the grid so a careless granularity cannot spin
// for days.
const maxGridCandidates = 20000

// Objective names a report statistic the grid search maximizes.
type Objective string

const (
	ObjectiveHitRate    Objective = "hit_rate"
	ObjectiveMeanReturn Objective = "mean_return"
	ObjectiveSharpe     Objective = "sharpe"
)

// OptimizeParams configures the weight grid search.
type OptimizeParams struct {
	Signal      SignalParams `json:"signal"`
	Granularity float64      `json:"granularity"` // weight step, default 0.1
	TopK        int          `json:"top_k"`       // default 5
	Objective   Objective    `json:"objective"`   // default sharpe
}

// WeightResult is one evaluated weight vector.
type WeightResult struct {
	Weights map[domain.Layer]float64 `json:"weights"`
	Score   float64                  `json:"score"`
	Report  *SignalReport            `json:"report"`
}

// OptimizeReport is the grid search output.
type OptimizeReport struct {
	Params     OptimizeParams `json:"params"`
	Candidates int            `json:"candidates"`
	Top        []WeightResult `json:"top"`
}

// Optimize grid-searches weight vectors on the simplex at the given
// granularity, replaying the signal backtest per candidate, and returns the
// top-k by the chosen objective.
func (b *SignalBacktester) Optimize(ctx context.Context, params OptimizeParams) (*OptimizeReport, error) {
	if params.Granularity <= 0 {
		params.Granularity = 0.1
	}
	if params.TopK <= 0 {
		params.TopK = 5
	}
	if params.Objective == "" {
		params.Objective = ObjectiveSharpe
	}

	steps := int(math.Round(1 / params.Granularity))
	if steps < 1 {
		return nil, fmt.Errorf("granularity %g too coarse", params.Granularity)
	}

	grid := enumerateSimplex(steps, len(domain.Layers))
	if len(grid) > maxGridCandidates {
		return nil, fmt.Errorf("granularity %g yields %d candidates, above the %d cap",
			params.Granularity, len(grid), maxGridCandidates)
	}

	report := &OptimizeReport{Params: params, Candidates: len(grid)}
	results := make([]WeightResult, 0, len(grid))

	for _, vector := range grid {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		weights := make(map[domain.Layer]float64, len(domain.Layers))
		for i, layer := range domain.Layers {
			weights[layer] = float64(vector[i]) / float64(steps)
		}

		signal := params.Signal
		signal.Weights = weights
		run, err := b.Run(ctx, signal)
		if err != nil {
			return nil, fmt.Errorf("grid candidate failed: %w", err)
		}
		results = append(results, WeightResult{
			Weights: weights,
			Score:   objectiveValue(params.Objective, run),
			Report:  run,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > params.TopK {
		results = results[:params.TopK]
	}
	report.Top = results

	log.Info().
		Int("candidates", report.Candidates).
		Str("objective", string(params.Objective)).
		Msg("Weight grid search complete")
	return report, nil
}

// enumerateSimplex lists the integer vectors of the given dimension summing
// to steps, i.e. the weight simplex at resolution 1/steps.
func enumerateSimplex(steps, dims int) [][]int {
	var out [][]int
	vector := make([]int, dims)
	var walk func(pos, remaining int)
	walk = func(pos, remaining int) {
		if pos == dims-1 {
			vector[pos] = remaining
			out = append(out, append([]int(nil), vector...))
			return
		}
		for v := 0; v <= remaining; v++ {
			vector[pos] = v
			walk(pos+1, remaining-v)
		}
	}
	walk(0, steps)
	return out
}

func objectiveValue(o Objective, r *SignalReport) float64 {
	switch o {
	case ObjectiveHitRate:
		return r.HitRate
	case ObjectiveMeanReturn:
		return r.MeanReturnPct
	default:
		return r.Sharpe
	}
}
