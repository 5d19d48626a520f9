package numerology

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// DefaultWatchedNumbers are the price digit-sum targets checked daily.
var DefaultWatchedNumbers = []int{47, 11, 22, 33, 7, 9, 13}

// Producer computes the global numerology layer once per civil day.
type Producer struct {
	repos          *persistence.Repository
	watched        map[int]bool
	TrendSymbol    string
	TrendTimeframe domain.Timeframe
}

// NewProducer creates the numerology score producer. An empty watched list
// takes the defaults.
func NewProducer(repos *persistence.Repository, watched []int) *Producer {
	if len(watched) == 0 {
		watched = DefaultWatchedNumbers
	}
	set := make(map[int]bool, len(watched))
	for _, n := range watched {
		set[n] = true
	}
	return &Producer{
		repos:          repos,
		watched:        set,
		TrendSymbol:    "BTC/USDT",
		TrendTimeframe: domain.TF1d,
	}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerNumerology }
func (p *Producer) Scoped() bool           { return false }
func (p *Producer) Cadence() time.Duration { return 24 * time.Hour }

// Produce computes and persists the numerology row for at's civil day.
func (p *Producer) Produce(ctx context.Context, _ string, _ domain.Timeframe, at time.Time) layers.Result {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	dateInt, _ := strconv.Atoi(day.Format("20060102"))
	digitSum, universal, master := UniversalDay(dateInt)

	var cycles []domain.CustomCycle
	err := layers.WithRetry(ctx, "numerology.cycles", func(ctx context.Context) error {
		var err error
		cycles, err = p.repos.Cycles.List(ctx)
		return err
	})
	if err != nil {
		log.Error().Err(err).Time("date", day).Msg("Numerology produce skipped")
		return layers.Result{Reason: err.Error()}
	}

	var alignedIDs []int64
	for _, c := range cycles {
		if c.AlignsOn(day) {
			alignedIDs = append(alignedIDs, c.ID)
		}
	}

	trend := p.trendSign(ctx, day)
	score := Score(master, len(alignedIDs), p.priceMatch(ctx, day), trend)

	row := domain.NumerologyDay{
		Date:            day,
		DigitSum:        digitSum,
		UniversalDay:    universal,
		IsMasterNumber:  master,
		AlignedCycleIDs: alignedIDs,
		Score:           score,
	}

	err = layers.WithRetry(ctx, "numerology.upsert", func(ctx context.Context) error {
		if err := p.repos.Numerology.Upsert(ctx, row); err != nil {
			return err
		}
		return p.repos.Layers.Upsert(ctx, domain.LayerScore{
			Layer:     domain.LayerNumerology,
			Timestamp: day,
			Score:     score,
			Details: map[string]interface{}{
				"universal_day":    universal,
				"is_master_number": master,
				"aligned_cycles":   len(alignedIDs),
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Time("date", day).Msg("Numerology write failed")
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

// Score sums the numerology rules and clamps. A master date contributes 0.2
// signed by trend; cycle alignments contribute -0.4 multiplied by the
// alignment count capped at 3; a watched price digit sum contributes 0.1
// signed by trend.
func Score(masterDate bool, alignedCycles int, priceMatch bool, trendSign float64) float64 {
	score := 0.0
	if masterDate {
		score += 0.2 * trendSign
	}
	if alignedCycles > 0 {
		mult := alignedCycles
		if mult > 3 {
			mult = 3
		}
		score += -0.4 * float64(mult)
	}
	if priceMatch {
		score += 0.1 * trendSign
	}
	return domain.ClampScore(score)
}

// priceMatch reports whether the reference symbol's daily close digit sum
// (raw or reduced) hits a watched number.
func (p *Producer) priceMatch(ctx context.Context, day time.Time) bool {
	candles, err := p.repos.Candles.UpTo(ctx, p.TrendSymbol, p.TrendTimeframe, day, 1)
	if err != nil || len(candles) == 0 {
		return false
	}
	sum := DigitSum(int(candles[0].Close))
	reduced, _ := Reduce(int(candles[0].Close))
	return p.watched[sum] || p.watched[reduced]
}

// trendSign mirrors the celestial producer: sign of the prior 30-day
// composite drift, +1 without history.
func (p *Producer) trendSign(ctx context.Context, at time.Time) float64 {
	rows, err := p.repos.Composites.Range(ctx, p.TrendSymbol, p.TrendTimeframe, persistence.TimeRange{
		From: at.AddDate(0, 0, -30),
		To:   at,
	})
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
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
