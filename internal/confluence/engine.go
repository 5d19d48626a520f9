// Package confluence fuses the seven layer scores into weighted composite
// rows with snapshotted weights.
package confluence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// Engine computes composite scores for configured (symbol, timeframe) pairs.
type Engine struct {
	repos *persistence.Repository
}

// NewEngine creates the confluence engine.
func NewEngine(repos *persistence.Repository) *Engine {
	return &Engine{repos: repos}
}

// ComputeComposite fuses the newest non-stale layer rows at the instant,
// writes the composite row and returns it. Stale or missing layers score 0
// and are excluded from alignment.
func (e *Engine) ComputeComposite(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time) (*domain.CompositeScore, error) {
	profile, err := e.repos.Weights.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active weight profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("active weight profile invalid: %w", err)
	}

	scores := make(map[domain.Layer]float64, len(domain.Layers))
	var stale []domain.Layer

	for _, layer := range domain.Layers {
		row, err := e.latestRow(ctx, layer, symbol, tf, at)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s layer score: %w", layer, err)
		}
		if row == nil || row.Degraded || at.Sub(row.Timestamp) > layers.StalenessFor(layer, tf) {
			scores[layer] = 0
			stale = append(stale, layer)
			continue
		}
		scores[layer] = row.Score
	}

	var composite float64
	for layer, w := range profile.Weights {
		composite += w * scores[layer]
	}
	composite = domain.ClampScore(composite)

	row := domain.CompositeScore{
		Symbol:        symbol,
		Timeframe:     tf,
		Timestamp:     at,
		LayerScores:   scores,
		Weights:       snapshotWeights(profile.Weights),
		Composite:     composite,
		Strength:      domain.StrengthFor(composite),
		AlignedLayers: alignedLayers(scores, stale, composite),
		StaleLayers:   stale,
	}

	if err := e.repos.Composites.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to write composite row: %w", err)
	}
	log.Debug().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Float64("composite", composite).
		Str("strength", string(row.Strength)).
		Int("aligned", row.AlignmentCount()).
		Msg("Composite computed")
	return &row, nil
}

// latestRow fetches the newest layer row at or before the instant, keyed the
// way the layer writes: TA by (symbol, timeframe), on-chain and sentiment by
// symbol, the rest globally.
func (e *Engine) latestRow(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error) {
	keySymbol, keyTF := symbol, tf
	switch layer {
	case domain.LayerTA:
	case domain.LayerOnChain, domain.LayerSentiment:
		keyTF = ""
	default:
		keySymbol, keyTF = "", ""
	}
	row, err := e.repos.Layers.LatestBefore(ctx, layer, keySymbol, keyTF, at)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

// alignedLayers returns the fresh layers with |score| >= 0.2 matching the
// composite's sign. A neutral-strength composite asserts no direction, so it
// takes the larger same-sign subset, preferring the positive side on ties.
func alignedLayers(scores map[domain.Layer]float64, stale []domain.Layer, composite float64) []domain.Layer {
	excluded := make(map[domain.Layer]bool, len(stale))
	for _, layer := range stale {
		excluded[layer] = true
	}

	var pos, neg []domain.Layer
	for _, layer := range domain.Layers {
		if excluded[layer] {
			continue
		}
		s := scores[layer]
		if math.Abs(s) < 0.2 {
			continue
		}
		if s > 0 {
			pos = append(pos, layer)
		} else {
			neg = append(neg, layer)
		}
	}

	if domain.StrengthFor(composite) == domain.Neutral {
		if len(neg) > len(pos) {
			return neg
		}
		return pos
	}
	if composite > 0 {
		return pos
	}
	return neg
}

func snapshotWeights(w map[domain.Layer]float64) map[domain.Layer]float64 {
	out := make(map[domain.Layer]float64, len(w))
	for layer, v := range w {
		out[layer] = v
	}
	return out
}
