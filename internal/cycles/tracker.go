// Package cycles tracks user-defined day cycles: alignment queries for the
// API and automatic hit/miss scoring of closed alignment windows.
package cycles

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// reactionHorizon is how long after an alignment occurrence the market gets
// to confirm the cycle's expected direction.
const reactionHorizon = 48 * time.Hour

// hitMovePct is the minimum percent move counting as a directional hit.
const hitMovePct = 3.0

// Alignment describes one cycle's position relative to a target date.
type Alignment struct {
	Cycle         domain.CustomCycle `json:"cycle"`
	DaysSince     int                `json:"days_since_reference"`
	CycleNumber   int                `json:"cycle_number"`
	DayInCycle    int                `json:"day_in_cycle"`
	DaysRemaining int                `json:"days_remaining"`
	IsAligned     bool               `json:"is_aligned"`
	DaysToNext    int                `json:"days_to_next_alignment"`
}

// Tracker evaluates cycles against the reference symbol's daily closes.
type Tracker struct {
	repos     *persistence.Repository
	symbol    string
	timeframe domain.Timeframe
}

// NewTracker creates a cycle tracker scoring outcomes against the symbol's
// daily candles.
func NewTracker(repos *persistence.Repository, symbol string) *Tracker {
	return &Tracker{repos: repos, symbol: symbol, timeframe: domain.TF1d}
}

// CheckDate reports every cycle's position on the target date.
func (t *Tracker) CheckDate(ctx context.Context, target time.Time) ([]Alignment, error) {
	cycles, err := t.repos.Cycles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}

	out := make([]Alignment, 0, len(cycles))
	for _, c := range cycles {
		days := c.DaysSinceAnchor(target)
		if days < 0 {
			continue
		}
		dayInCycle := days % c.PeriodDays
		remaining := c.PeriodDays - dayInCycle
		toNext := remaining
		if dayInCycle <= c.ToleranceDays {
			toNext = 0
		}
		out = append(out, Alignment{
			Cycle:         c,
			DaysSince:     days,
			CycleNumber:   days/c.PeriodDays + 1,
			DayInCycle:    dayInCycle,
			DaysRemaining: remaining,
			IsAligned:     c.AlignsOn(target),
			DaysToNext:    toNext,
		})
	}
	return out, nil
}

// EvaluateOutcomes scores every alignment occurrence whose reaction window
// has fully closed by now. A hit is a move of at least hitMovePct in the
// cycle's expected direction within the horizon; cycles with unknown
// direction count any such move either way. The repo watermark makes
// re-evaluation a no-op.
func (t *Tracker) EvaluateOutcomes(ctx context.Context, now time.Time) error {
	cycles, err := t.repos.Cycles.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cycles: %w", err)
	}

	for _, c := range cycles {
		occurrence, ok := latestClosedOccurrence(c, now)
		if !ok {
			continue
		}
		if c.LastOutcomeAt != nil && !occurrence.After(*c.LastOutcomeAt) {
			continue
		}

		hit, ok, err := t.outcomeAt(ctx, c, occurrence)
		if err != nil {
			log.Warn().Err(err).Str("cycle", c.Name).Msg("Cycle outcome evaluation skipped")
			continue
		}
		if !ok {
			continue
		}
		if err := t.repos.Cycles.RecordOutcome(ctx, c.ID, hit, occurrence); err != nil {
			return fmt.Errorf("failed to record outcome for cycle %q: %w", c.Name, err)
		}
		log.Info().Str("cycle", c.Name).Time("occurrence", occurrence).Bool("hit", hit).Msg("Cycle outcome recorded")
	}
	return nil
}

// latestClosedOccurrence returns the newest period multiple whose tolerance
// window plus reaction horizon has fully elapsed.
func latestClosedOccurrence(c domain.CustomCycle, now time.Time) (time.Time, bool) {
	anchor := c.AnchorDate.UTC().Truncate(24 * time.Hour)
	days := c.DaysSinceAnchor(now)
	if days <= 0 || c.PeriodDays <= 0 {
		return time.Time{}, false
	}
	for n := days / c.PeriodDays; n >= 1; n-- {
		occurrence := anchor.AddDate(0, 0, n*c.PeriodDays)
		closes := occurrence.AddDate(0, 0, c.ToleranceDays).Add(reactionHorizon)
		if closes.Before(now) {
			return occurrence, true
		}
	}
	return time.Time{}, false
}

// outcomeAt compares the close at the occurrence with the extreme close over
// the reaction horizon. The third return is false when candles are missing.
func (t *Tracker) outcomeAt(ctx context.Context, c domain.CustomCycle, occurrence time.Time) (hit, ok bool, err error) {
	base, err := t.repos.Candles.UpTo(ctx, t.symbol, t.timeframe, occurrence, 1)
	if err != nil || len(base) == 0 {
		return false, false, err
	}
	window, err := t.repos.Candles.Range(ctx, t.symbol, t.timeframe, persistence.TimeRange{
		From: occurrence,
		To:   occurrence.AddDate(0, 0, c.ToleranceDays).Add(reactionHorizon),
	}, 0)
	if err != nil || len(window) == 0 {
		return false, false, err
	}

	ref := base[0].Close
	maxUp, maxDown := 0.0, 0.0
	for _, candle := range window {
		pct := (candle.Close - ref) / ref * 100
		if pct > maxUp {
			maxUp = pct
		}
		if pct < maxDown {
			maxDown = pct
		}
	}

	switch c.Direction {
	case domain.CycleBullish:
		return maxUp >= hitMovePct, true, nil
	case domain.CycleBearish:
		return -maxDown >= hitMovePct, true, nil
	default:
		return maxUp >= hitMovePct || -maxDown >= hitMovePct, true, nil
	}
}
