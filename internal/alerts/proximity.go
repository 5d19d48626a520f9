package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// EvaluateProximity runs the date- and event-driven alert conditions at the
// given instant. Each condition is independent; a failing read logs and skips
// that condition rather than aborting the sweep.
func (e *Engine) EvaluateProximity(ctx context.Context, at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)

	cycles := e.listCycles(ctx)
	numerology := e.numerologyDay(ctx, day)

	e.checkCycles(ctx, cycles, at, day)
	e.checkCelestial(ctx, at, day)
	e.checkSentiment(ctx, at)
	e.checkNumerologyDate(ctx, numerology, at)
	e.checkBlackSwan(ctx, at)
	e.checkScheduledEvents(ctx, cycles, numerology, at, day)
	e.checkNarrativeShift(ctx, at)
}

// checkCycles fires cycle_alignment once per cycle occurrence: the bucket is
// the occurrence date, so every day inside the tolerance window maps to the
// same idempotency key.
func (e *Engine) checkCycles(ctx context.Context, cycles []domain.CustomCycle, at, day time.Time) {
	for _, c := range cycles {
		if !c.AlignsOn(day) {
			continue
		}
		n := c.CycleNumber(day)
		occurrence := c.AnchorDate.UTC().Truncate(24 * time.Hour).AddDate(0, 0, n*c.PeriodDays)
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertCycleAlignment,
			Title:       fmt.Sprintf("Cycle %q alignment (occurrence %d)", c.Name, n),
			Description: fmt.Sprintf("Day %d of the %d-day cycle %q is within tolerance %d", c.DaysSinceAnchor(day), c.PeriodDays, c.Name, c.ToleranceDays),
			TriggerContext: map[string]interface{}{
				"cycle_id":     c.ID,
				"period_days":  c.PeriodDays,
				"occurrence":   n,
				"direction":    string(c.Direction),
				"hit_rate":     c.HitRate(),
			},
			TriggeredAt: at,
		}, occurrence, fmt.Sprintf("cycle-%d", c.ID))
	}
}

// checkCelestial fires on retrograde boundary days and on eclipses within the
// next 48h.
func (e *Engine) checkCelestial(ctx context.Context, at, day time.Time) {
	today, err := e.repos.Celestial.GetByDate(ctx, day)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("Celestial alert check skipped")
		}
		return
	}
	yesterday, err := e.repos.Celestial.GetByDate(ctx, day.AddDate(0, 0, -1))
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		log.Warn().Err(err).Msg("Celestial alert check skipped")
		return
	}

	if yesterday != nil {
		for planet, retro := range today.Retrogrades {
			was := yesterday.Retrogrades[planet]
			if retro == was {
				continue
			}
			phase := "stationed retrograde"
			if was {
				phase = "stationed direct"
			}
			e.fire(ctx, domain.Alert{
				Kind:        domain.AlertCelestialEvent,
				Title:       fmt.Sprintf("%s %s", planet, phase),
				Description: fmt.Sprintf("%s %s on %s", planet, phase, day.Format("2006-01-02")),
				TriggerContext: map[string]interface{}{
					"planet":     planet,
					"retrograde": retro,
				},
				TriggeredAt: at,
			}, day, "retro-"+planet)
		}
	}

	states, err := e.repos.Celestial.Range(ctx, persistence.TimeRange{From: day, To: day.Add(48 * time.Hour)})
	if err != nil {
		log.Warn().Err(err).Msg("Eclipse alert check skipped")
		return
	}
	for _, s := range states {
		var kind string
		switch {
		case s.IsSolarEclipse:
			kind = "solar"
		case s.IsLunarEclipse:
			kind = "lunar"
		default:
			continue
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertCelestialEvent,
			Title:       fmt.Sprintf("%s eclipse on %s", kind, s.Date.Format("2006-01-02")),
			Description: fmt.Sprintf("A %s eclipse falls within the next 48 hours", kind),
			TriggerContext: map[string]interface{}{
				"eclipse_type": kind,
				"eclipse_date": s.Date.Format("2006-01-02"),
			},
			TriggeredAt: at,
		}, day, fmt.Sprintf("eclipse-%s-%s", kind, s.Date.Format("2006-01-02")))
	}
}

// checkSentiment fires extreme_sentiment per symbol when the fresh Fear &
// Greed reading leaves [10, 90].
func (e *Engine) checkSentiment(ctx context.Context, at time.Time) {
	seen := make(map[string]bool, len(e.pairs))
	for _, p := range e.pairs {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true

		obs, err := e.repos.Sentiment.LatestBefore(ctx, p.Symbol, at)
		if err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Sentiment alert check skipped")
			}
			continue
		}
		if at.Sub(obs.Timestamp) > 24*time.Hour {
			continue
		}
		if obs.FearGreed >= 10 && obs.FearGreed <= 90 {
			continue
		}
		mood := "extreme fear"
		if obs.FearGreed > 90 {
			mood = "extreme greed"
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertExtremeSentiment,
			Symbol:      p.Symbol,
			Title:       fmt.Sprintf("Fear & Greed at %d (%s)", obs.FearGreed, mood),
			Description: fmt.Sprintf("Fear & Greed index for %s reads %d", p.Symbol, obs.FearGreed),
			TriggerContext: map[string]interface{}{
				"fear_greed": obs.FearGreed,
			},
			TriggeredAt: at,
		}, at.Truncate(domain.WindowFor(domain.AlertExtremeSentiment)), "")
	}
}

// checkNumerologyDate fires per pair on master-number dates when at least two
// other layers are aligned on the latest composite.
func (e *Engine) checkNumerologyDate(ctx context.Context, numer *domain.NumerologyDay, at time.Time) {
	if numer == nil || !numer.IsMasterNumber {
		return
	}
	for _, p := range e.pairs {
		comp, err := e.repos.Composites.Latest(ctx, p.Symbol, p.Timeframe)
		if err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Numerology alert check skipped")
			}
			continue
		}
		others := 0
		for _, layer := range comp.AlignedLayers {
			if layer != domain.LayerNumerology {
				others++
			}
		}
		if others < 2 {
			continue
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertNumerologyDate,
			Symbol:      p.Symbol,
			Title:       fmt.Sprintf("Master number date %d with %d aligned layers", numer.UniversalDay, others),
			Description: fmt.Sprintf("Universal day %d on %s coincides with %d aligned layers on %s", numer.UniversalDay, numer.Date.Format("2006-01-02"), others, p.Symbol),
			TriggerContext: map[string]interface{}{
				"universal_day":  numer.UniversalDay,
				"aligned_layers": others,
				"timeframe":      string(p.Timeframe),
			},
			TriggeredAt: at,
		}, numer.Date, "")
	}
}

// checkBlackSwan fires on any breaking article in the last hour with urgency
// and relevance both above 0.9, keyed by headline hash.
func (e *Engine) checkBlackSwan(ctx context.Context, at time.Time) {
	news, err := e.repos.Political.ListNewsSince(ctx, at.Add(-time.Hour), at)
	if err != nil {
		log.Warn().Err(err).Msg("Black swan alert check skipped")
		return
	}
	for _, n := range news {
		if n.Urgency <= 0.9 || n.Relevance <= 0.9 {
			continue
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertPoliticalBlackSwan,
			Title:       "Black swan news event",
			Description: n.Headline,
			TriggerContext: map[string]interface{}{
				"source":    n.Source,
				"sentiment": n.Sentiment,
				"urgency":   n.Urgency,
				"relevance": n.Relevance,
			},
			TriggeredAt: at,
		}, at.Truncate(domain.WindowFor(domain.AlertPoliticalBlackSwan)), n.HeadlineHash)
	}
}

// checkScheduledEvents fires scheduled_macro_event for high or extreme
// volatility calendar entries within 24h, and esoteric_political when an
// event date coincides with a cycle alignment on a master-number date.
func (e *Engine) checkScheduledEvents(ctx context.Context, cycles []domain.CustomCycle, numer *domain.NumerologyDay, at, day time.Time) {
	events, err := e.repos.Political.ListEventsBetween(ctx, persistence.TimeRange{From: at, To: at.Add(24 * time.Hour)})
	if err != nil {
		log.Warn().Err(err).Msg("Scheduled event alert check skipped")
		return
	}

	cycleAligned := false
	for _, c := range cycles {
		if c.AlignsOn(day) {
			cycleAligned = true
			break
		}
	}
	masterDate := numer != nil && numer.IsMasterNumber

	for _, ev := range events {
		if ev.Volatility != domain.VolHigh && ev.Volatility != domain.VolExtreme {
			continue
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertScheduledMacroEvent,
			Title:       fmt.Sprintf("%s within 24h", ev.Name),
			Description: fmt.Sprintf("%s (%s volatility) is scheduled at %s", ev.Name, ev.Volatility, ev.EventDate.Format(time.RFC3339)),
			TriggerContext: map[string]interface{}{
				"event_id":   ev.ID,
				"category":   ev.Category,
				"volatility": string(ev.Volatility),
				"relevance":  ev.CryptoRelevance,
			},
			TriggeredAt: at,
		}, ev.EventDate.UTC().Truncate(24*time.Hour), fmt.Sprintf("event-%d", ev.ID))

		sameDay := ev.EventDate.UTC().Truncate(24 * time.Hour).Equal(day)
		if sameDay && cycleAligned && masterDate {
			e.fire(ctx, domain.Alert{
				Kind:        domain.AlertEsotericPolitical,
				Title:       fmt.Sprintf("Esoteric confluence around %s", ev.Name),
				Description: fmt.Sprintf("%s falls on a master-number date with an active cycle alignment", ev.Name),
				TriggerContext: map[string]interface{}{
					"event_id":      ev.ID,
					"universal_day": numer.UniversalDay,
				},
				TriggeredAt: at,
			}, day, fmt.Sprintf("event-%d", ev.ID))
		}
	}
}

// checkNarrativeShift fires when the dominant narrative direction flips
// between consecutive 4h windows.
func (e *Engine) checkNarrativeShift(ctx context.Context, at time.Time) {
	cur, err := e.repos.Political.ScoreBefore(ctx, at)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("Narrative shift check skipped")
		}
		return
	}
	prev, err := e.repos.Political.ScoreBefore(ctx, at.Add(-4*time.Hour))
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("Narrative shift check skipped")
		}
		return
	}
	if cur.Dominant == nil || prev.Dominant == nil {
		return
	}
	if cur.Dominant.Direction == prev.Dominant.Direction {
		return
	}
	e.fire(ctx, domain.Alert{
		Kind:        domain.AlertNarrativeShift,
		Title:       fmt.Sprintf("Narrative shift in %s/%s", cur.Dominant.Category, cur.Dominant.Subcategory),
		Description: fmt.Sprintf("Dominant narrative flipped from %+.0f to %+.0f", prev.Dominant.Direction, cur.Dominant.Direction),
		TriggerContext: map[string]interface{}{
			"category":      cur.Dominant.Category,
			"subcategory":   cur.Dominant.Subcategory,
			"direction":     cur.Dominant.Direction,
			"article_count": cur.Dominant.ArticleCount,
		},
		TriggeredAt: at,
	}, at.Truncate(domain.WindowFor(domain.AlertNarrativeShift)), "")
}

func (e *Engine) listCycles(ctx context.Context) []domain.CustomCycle {
	cycles, err := e.repos.Cycles.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cycle list read failed")
		return nil
	}
	return cycles
}

func (e *Engine) numerologyDay(ctx context.Context, day time.Time) *domain.NumerologyDay {
	numer, err := e.repos.Numerology.GetByDate(ctx, day)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Msg("Numerology day read failed")
		}
		return nil
	}
	return numer
}
