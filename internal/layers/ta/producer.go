package ta

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// Producer computes the TA layer from stored candles.
type Producer struct {
	repos  *persistence.Repository
	params Params
}

// NewProducer creates the TA score producer.
func NewProducer(repos *persistence.Repository, params Params) *Producer {
	return &Producer{repos: repos, params: params}
}

func (p *Producer) Layer() domain.Layer       { return domain.LayerTA }
func (p *Producer) Scoped() bool              { return true }
func (p *Producer) Cadence() time.Duration    { return time.Hour }

// Produce scores one (symbol, timeframe) instant from candles with ts <= at.
// A thin or stale candle window writes a degraded zero row.
func (p *Producer) Produce(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time) layers.Result {
	var candles []domain.Candle
	err := layers.WithRetry(ctx, "ta.candles", func(ctx context.Context) error {
		var err error
		candles, err = p.repos.Candles.UpTo(ctx, symbol, tf, at, MinBars+60)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("TA produce skipped")
		return layers.Result{Reason: err.Error()}
	}

	row := domain.LayerScore{
		Layer:     domain.LayerTA,
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: at,
	}

	snap, ok := Compute(candles, p.params)
	stale := len(candles) > 0 && at.Sub(candles[len(candles)-1].Timestamp) > layers.StalenessFor(domain.LayerTA, tf)
	if !ok || stale {
		row.Degraded = true
		row.Score = 0
	} else {
		row.Score = snap.Score
		row.Details = indicatorDetails(snap)
	}

	if err := layers.WithRetry(ctx, "ta.upsert", func(ctx context.Context) error {
		return p.repos.Layers.Upsert(ctx, row)
	}); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("TA score write failed")
		return layers.Result{Reason: err.Error()}
	}

	return layers.Result{WroteRow: true, Degraded: row.Degraded}
}

// Backfill walks the range at the timeframe's bar cadence.
func (p *Producer) Backfill(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) error {
	step := tf.Duration()
	for at := from; !at.After(to); at = at.Add(step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Produce(ctx, symbol, tf, at)
	}
	return nil
}

func indicatorDetails(snap *Snapshot) map[string]interface{} {
	data, err := json.Marshal(snap.Indicators)
	if err != nil {
		return nil
	}
	details := make(map[string]interface{})
	if err := json.Unmarshal(data, &details); err != nil {
		return nil
	}
	details["sub_signals"] = snap.SubSignals
	return details
}
