// Package onchain scores chain-level valuation metrics for a symbol.
package onchain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// Producer computes the on-chain layer from stored metric rows.
type Producer struct {
	repos *persistence.Repository
}

// NewProducer creates the on-chain score producer.
func NewProducer(repos *persistence.Repository) *Producer {
	return &Producer{repos: repos}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerOnChain }
func (p *Producer) Scoped() bool           { return true }
func (p *Producer) Cadence() time.Duration { return 4 * time.Hour }

// Produce maps the newest metric row at or before at into a score. Missing
// or stale metrics write a degraded zero row.
func (p *Producer) Produce(ctx context.Context, symbol string, _ domain.Timeframe, at time.Time) layers.Result {
	var metrics *domain.OnChainMetrics
	err := layers.WithRetry(ctx, "onchain.metrics", func(ctx context.Context) error {
		var err error
		metrics, err = p.repos.OnChain.LatestBefore(ctx, symbol, at)
		if errors.Is(err, persistence.ErrNotFound) {
			metrics = nil
			return nil
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("On-chain produce skipped")
		return layers.Result{Reason: err.Error()}
	}

	row := domain.LayerScore{
		Layer:     domain.LayerOnChain,
		Symbol:    symbol,
		Timestamp: at,
	}

	if metrics == nil || at.Sub(metrics.Timestamp) > layers.StalenessFor(domain.LayerOnChain, "") {
		row.Degraded = true
	} else {
		score, available := Score(*metrics)
		if available == 0 {
			row.Degraded = true
		} else {
			row.Score = score
			row.Details = map[string]interface{}{
				"metrics_used": available,
				"metrics_ts":   metrics.Timestamp,
			}
		}
	}

	if err := layers.WithRetry(ctx, "onchain.upsert", func(ctx context.Context) error {
		return p.repos.Layers.Upsert(ctx, row)
	}); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("On-chain score write failed")
		return layers.Result{Reason: err.Error()}
	}
	return layers.Result{WroteRow: true, Degraded: row.Degraded}
}

// Backfill walks the range at the 4h cadence.
func (p *Producer) Backfill(ctx context.Context, symbol string, _ domain.Timeframe, from, to time.Time) error {
	for at := from; !at.After(to); at = at.Add(4 * time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Produce(ctx, symbol, "", at)
	}
	return nil
}

// Score maps each available metric through its fixed piecewise curve and
// returns the equal-weighted mean plus the number of contributing metrics.
func Score(m domain.OnChainMetrics) (float64, int) {
	var sum float64
	var count int

	if m.ExchangeNetflow != nil {
		sum += netflowScore(*m.ExchangeNetflow)
		count++
	}
	if m.NUPL != nil {
		sum += piecewise(*m.NUPL, []point{{0, 1}, {0.5, 0}, {0.75, -1}})
		count++
	}
	if m.MVRVZ != nil {
		sum += piecewise(*m.MVRVZ, []point{{0, 1}, {3.5, 0}, {7, -1}})
		count++
	}
	if m.SOPR != nil {
		sum += piecewise(*m.SOPR, []point{{0.95, 0.5}, {1, 0}, {1.05, -0.3}})
		count++
	}

	if count == 0 {
		return 0, 0
	}
	return domain.ClampScore(sum / float64(count)), count
}

// netflowScore is sign-inverted: coins leaving exchanges read as bullish.
func netflowScore(netflow float64) float64 {
	switch {
	case netflow < -1000:
		return 0.5
	case netflow < 0:
		return 0.3
	case netflow < 1000:
		return -0.1
	default:
		return -0.3
	}
}

type point struct{ x, y float64 }

// piecewise interpolates linearly between control points, flat beyond the
// ends.
func piecewise(x float64, points []point) float64 {
	if x <= points[0].x {
		return points[0].y
	}
	last := points[len(points)-1]
	if x >= last.x {
		return last.y
	}
	for i := 1; i < len(points); i++ {
		if x <= points[i].x {
			a, b := points[i-1], points[i]
			frac := (x - a.x) / (b.x - a.x)
			return a.y + frac*(b.y-a.y)
		}
	}
	return last.y
}
