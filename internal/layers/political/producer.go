package political

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// Producer computes the global political layer hourly.
type Producer struct {
	repos  *persistence.Repository
	params Params
}

// NewProducer creates the political score producer.
func NewProducer(repos *persistence.Repository, params Params) *Producer {
	return &Producer{repos: repos, params: params}
}

func (p *Producer) Layer() domain.Layer    { return domain.LayerPolitical }
func (p *Producer) Scoped() bool           { return false }
func (p *Producer) Cadence() time.Duration { return time.Hour }

// Produce composes calendar, news and narrative components at the instant
// and persists both the detail row and the uniform layer row.
func (p *Producer) Produce(ctx context.Context, _ string, _ domain.Timeframe, at time.Time) layers.Result {
	var events []domain.PoliticalEvent
	var news []domain.NewsItem

	err := layers.WithRetry(ctx, "political.inputs", func(ctx context.Context) error {
		var err error
		events, err = p.repos.Political.ListEventsBetween(ctx, persistence.TimeRange{
			From: at, To: at.Add(calendarHorizon),
		})
		if err != nil {
			return err
		}
		news, err = p.repos.Political.ListNewsSince(ctx, at.Add(-narrativeWindow), at)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Political produce skipped")
		return layers.Result{Reason: err.Error()}
	}

	calendar, highVol := CalendarScore(events, at)
	newsScore := NewsScore(news, at, p.params)
	narratives := Narratives(news, at)
	narrativeScore := NarrativeScore(narratives)
	swan := BlackSwan(news, at)
	score := Compose(calendar, newsScore, narrativeScore, swan)

	row := domain.PoliticalScore{
		Timestamp:         at,
		CalendarProximity: calendar,
		NewsFlow:          newsScore,
		NarrativeScore:    narrativeScore,
		Score:             score,
		HighVolZone:       highVol,
		BlackSwan:         swan != nil,
	}
	if len(narratives) > 0 {
		row.Dominant = &narratives[0]
	}

	err = layers.WithRetry(ctx, "political.upsert", func(ctx context.Context) error {
		if err := p.repos.Political.UpsertScore(ctx, row); err != nil {
			return err
		}
		return p.repos.Layers.Upsert(ctx, domain.LayerScore{
			Layer:     domain.LayerPolitical,
			Timestamp: at,
			Score:     score,
			Details: map[string]interface{}{
				"calendar_proximity": calendar,
				"news_flow":          newsScore,
				"narrative":          narrativeScore,
				"high_vol_zone":      highVol,
				"black_swan":         swan != nil,
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Msg("Political write failed")
		return layers.Result{Reason: err.Error()}
	}
	return layers.Result{WroteRow: true}
}

// Backfill walks the range hourly.
func (p *Producer) Backfill(ctx context.Context, _ string, _ domain.Timeframe, from, to time.Time) error {
	for at := from; !at.After(to); at = at.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Produce(ctx, "", "", at)
	}
	return nil
}
