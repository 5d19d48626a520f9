package celestial

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// Producer computes the global celestial layer once per civil day.
type Producer struct {
	repos *persistence.Repository
	eph   Ephemeris

	// Trend symbol/timeframe anchor the sign of trend-dependent rules
	// (Saturn-Jupiter conjunction) to the prior 30-day composite drift.
	TrendSymbol    string
	TrendTimeframe domain.Timeframe
}

// NewProducer creates the celestial score producer.
func NewProducer(repos *persistence.Repository, eph Ephemeris) *Producer {
	return &Producer{
		repos:          repos,
		eph:            eph,
		TrendSymbol:    "BTC/USDT",
		TrendTimeframe: domain.TF1d,
	}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerCelestial }
func (p *Producer) Scoped() bool           { return false }
func (p *Producer) Cadence() time.Duration { return 24 * time.Hour }

// Produce computes and persists the state and score for at's civil day.
func (p *Producer) Produce(ctx context.Context, _ string, _ domain.Timeframe, at time.Time) layers.Result {
	state := p.eph.StateAt(at)
	state.Score = Score(state, p.trendSign(ctx, at), p.eclipseNearby(at))

	err := layers.WithRetry(ctx, "celestial.upsert", func(ctx context.Context) error {
		if err := p.repos.Celestial.Upsert(ctx, state); err != nil {
			return err
		}
		return p.repos.Layers.Upsert(ctx, domain.LayerScore{
			Layer:     domain.LayerCelestial,
			Timestamp: state.Date,
			Score:     state.Score,
			Details: map[string]interface{}{
				"lunar_phase":      state.LunarPhaseName,
				"retrograde_count": state.RetrogradeCount,
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Time("date", state.Date).Msg("Celestial write failed")
		return layers.Result{Reason: err.Error()}
	}
	return layers.Result{WroteRow: true}
}

// Backfill walks the range one day at a time.
func (p *Producer) Backfill(ctx context.Context, _ string, _ domain.Timeframe, from, to time.Time) error {
	for at := from; !at.After(to); at = at.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Produce(ctx, "", "", at)
	}
	return nil
}

// trendSign is the sign of the mean composite over the prior 30 days, +1
// when no history exists.
func (p *Producer) trendSign(ctx context.Context, at time.Time) float64 {
	rows, err := p.repos.Composites.Range(ctx, p.TrendSymbol, p.TrendTimeframe, persistence.TimeRange{
		From: at.AddDate(0, 0, -30),
		To:   at,
	})
	if err != nil || len(rows) == 0 {
		return 1
	}
	sum := 0.0
	for _, row := range rows {
		sum += row.Composite
	}
	if sum < 0 {
		return -1
	}
	return 1
}

// eclipseNearby reports an eclipse on any day within three days of at in
// either direction.
func (p *Producer) eclipseNearby(at time.Time) bool {
	for offset := -3; offset <= 3; offset++ {
		s := p.eph.StateAt(at.AddDate(0, 0, offset))
		if s.IsLunarEclipse || s.IsSolarEclipse {
			return true
		}
	}
	return false
}

// Score applies the fixed rule set to a day's state and clamps.
// New moon +0.2, full moon -0.2, mercury retrograde -0.3, three or more
// retrogrades an extra -0.2, eclipse within three days -0.4, Mars square
// Saturn -0.3, Saturn-Jupiter conjunction 0.4 signed by trend.
func Score(state domain.CelestialState, trendSign float64, eclipseNearby bool) float64 {
	score := 0.0

	switch state.LunarPhaseName {
	case "new_moon":
		score += 0.2
	case "full_moon":
		score -= 0.2
	}

	if state.Retrogrades["mercury"] {
		score -= 0.3
	}
	if state.RetrogradeCount >= 3 {
		score -= 0.2
	}

	if eclipseNearby {
		score -= 0.4
	}

	for _, asp := range state.ActiveAspects {
		pair := asp.Planet1 + "/" + asp.Planet2
		switch {
		case asp.Name == "conjunction" && (pair == "jupiter/saturn" || pair == "saturn/jupiter"):
			score += 0.4 * trendSign
		case asp.Name == "square" && (pair == "mars/saturn" || pair == "saturn/mars"):
			score -= 0.3
		}
	}

	return domain.ClampScore(score)
}
