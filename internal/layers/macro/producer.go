package macro

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// seriesLookback bounds how far back a "latest" observation may sit before a
// series is considered absent.
const seriesLookback = 90 * 24 * time.Hour

// Producer computes the global macro layer every fifteen minutes.
type Producer struct {
	repos *persistence.Repository
}

// NewProducer creates the macro score producer.
func NewProducer(repos *persistence.Repository) *Producer {
	return &Producer{repos: repos}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerMacro }
func (p *Producer) Scoped() bool           { return false }
func (p *Producer) Cadence() time.Duration { return 15 * time.Minute }

// Produce reads the raw series, computes the five sub-signals and persists
// the macro row plus the uniform layer row. With no series present at all it
// writes a degraded zero row.
func (p *Producer) Produce(ctx context.Context, _ string, _ domain.Timeframe, at time.Time) layers.Result {
	var (
		m2Now     = p.valueAt(ctx, domain.SeriesM2, at)
		m2YearAgo = p.valueAt(ctx, domain.SeriesM2, at.AddDate(-1, 0, 0))
		fedNow    = p.valueAt(ctx, domain.SeriesFedBalanceSheet, at)
		fed3mAgo  = p.valueAt(ctx, domain.SeriesFedBalanceSheet, at.AddDate(0, -3, 0))
		spread    = p.valueAt(ctx, domain.Series2s10s, at)
		realRate  = p.valueAt(ctx, domain.SeriesRealRate, at)
		dxyNow    = p.valueAt(ctx, domain.SeriesDXY, at)
		dxy20d    = p.valueAt(ctx, domain.SeriesDXY, at.AddDate(0, 0, -20))
		wtiNow    = p.valueAt(ctx, domain.SeriesWTI, at)
		wti30d    = p.valueAt(ctx, domain.SeriesWTI, at.AddDate(0, 0, -30))
		jpyNow    = p.valueAt(ctx, domain.SeriesUSDJPY, at)
		jpy7d     = p.valueAt(ctx, domain.SeriesUSDJPY, at.AddDate(0, 0, -7))
		vix       = p.valueAt(ctx, domain.SeriesVIX, at)
	)

	degraded := m2Now == nil && spread == nil && dxyNow == nil && wtiNow == nil && jpyNow == nil

	liquidity := LiquidityScore(m2Now, m2YearAgo, fedNow, fed3mAgo)
	treasury := TreasuryScore(spread, realRate)
	dollar := DollarScore(dxyNow, dxy20d)
	oil := OilScore(wtiNow, wti30d)
	carry, stress := CarryScore(jpyNow, jpy7d, vix)

	score := Compose(liquidity, treasury, dollar, oil, carry)
	regime, confidence := Regime(score, liquidity, treasury, carry)
	if degraded {
		score, regime, confidence = 0, domain.RegimeNeutral, 0
	}

	row := domain.MacroScore{
		Timestamp:        at,
		Liquidity:        liquidity,
		Treasury:         treasury,
		Dollar:           dollar,
		Oil:              oil,
		Carry:            carry,
		Score:            score,
		Regime:           regime,
		RegimeConfidence: confidence,
		Degraded:         degraded,
	}

	err := layers.WithRetry(ctx, "macro.upsert", func(ctx context.Context) error {
		if err := p.repos.Macro.UpsertScore(ctx, row); err != nil {
			return err
		}
		return p.repos.Layers.Upsert(ctx, domain.LayerScore{
			Layer:     domain.LayerMacro,
			Timestamp: at,
			Score:     score,
			Degraded:  degraded,
			Details: map[string]interface{}{
				"liquidity":    liquidity,
				"treasury":     treasury,
				"dollar":       dollar,
				"oil":          oil,
				"carry":        carry,
				"carry_stress": stress,
				"regime":       string(regime),
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Msg("Macro write failed")
		return layers.Result{Reason: err.Error()}
	}
	if degraded {
		return layers.Result{WroteRow: true, Degraded: true, Reason: "no macro series"}
	}
	return layers.Result{WroteRow: true}
}

// Backfill walks the range at the 15m cadence.
func (p *Producer) Backfill(ctx context.Context, _ string, _ domain.Timeframe, from, to time.Time) error {
	for at := from; !at.After(to); at = at.Add(15 * time.Minute) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Produce(ctx, "", "", at)
	}
	return nil
}

// valueAt returns the newest observation of the series at or before at
// within the lookback, nil when absent.
func (p *Producer) valueAt(ctx context.Context, series domain.MacroSeries, at time.Time) *float64 {
	var obs []domain.MacroObservation
	err := layers.WithRetry(ctx, "macro.series", func(ctx context.Context) error {
		var err error
		obs, err = p.repos.Macro.SeriesRange(ctx, series, persistence.TimeRange{
			From: at.Add(-seriesLookback),
			To:   at,
		})
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("series", string(series)).Msg("Macro series read failed")
		return nil
	}
	if len(obs) == 0 {
		return nil
	}
	v := obs[len(obs)-1].Value
	return &v
}
