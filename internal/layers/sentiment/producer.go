// Package sentiment scores market mood contrarian-style from the Fear &
// Greed index, optionally blended with social and search-trend sources.
package sentiment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// auxWeight is the blend weight of the optional social/trends sources.
const auxWeight = 0.2

// Producer computes the sentiment layer from stored fear & greed rows.
type Producer struct {
	repos *persistence.Repository
}

// NewProducer creates the sentiment score producer.
func NewProducer(repos *persistence.Repository) *Producer {
	return &Producer{repos: repos}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerSentiment }
func (p *Producer) Scoped() bool           { return true }
func (p *Producer) Cadence() time.Duration { return 4 * time.Hour }

// Produce scores the newest observation at or before at. A missing or stale
// observation writes a degraded zero row.
func (p *Producer) Produce(ctx context.Context, symbol string, _ domain.Timeframe, at time.Time) layers.Result {
	var obs *domain.SentimentRow
	err := layers.WithRetry(ctx, "sentiment.latest", func(ctx context.Context) error {
		var err error
		obs, err = p.repos.Sentiment.LatestBefore(ctx, symbol, at)
		if errors.Is(err, persistence.ErrNotFound) {
			obs = nil
			return nil
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Sentiment produce skipped")
		return layers.Result{Reason: err.Error()}
	}

	row := domain.LayerScore{
		Layer:     domain.LayerSentiment,
		Symbol:    symbol,
		Timestamp: at,
	}

	if obs == nil || at.Sub(obs.Timestamp) > layers.StalenessFor(domain.LayerSentiment, "") {
		row.Degraded = true
	} else {
		row.Score = Score(obs.FearGreed, obs.SocialScore, obs.TrendsScore)
		row.Details = map[string]interface{}{
			"fear_greed": obs.FearGreed,
			"source_ts":  obs.Timestamp,
		}
	}

	if err := layers.WithRetry(ctx, "sentiment.upsert", func(ctx context.Context) error {
		return p.repos.Layers.Upsert(ctx, row)
	}); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Sentiment score write failed")
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

// Score maps fear & greed contrarian-style and blends optional auxiliary
// sources in at a fixed weight. Extreme fear reads bullish, extreme greed
// bearish.
func Score(fearGreed int, social, trends *float64) float64 {
	base := fearGreedScore(fearGreed)

	var auxSum float64
	var auxCount int
	if social != nil {
		auxSum += domain.ClampScore(*social)
		auxCount++
	}
	if trends != nil {
		auxSum += domain.ClampScore(*trends)
		auxCount++
	}
	if auxCount == 0 {
		return base
	}
	aux := auxSum / float64(auxCount)
	return domain.ClampScore((1-auxWeight)*base + auxWeight*aux)
}

func fearGreedScore(fg int) float64 {
	switch {
	case fg < 20:
		return 0.8
	case fg < 40:
		return 0.3
	case fg <= 60:
		return 0
	case fg <= 80:
		return -0.3
	default:
		return -0.8
	}
}
