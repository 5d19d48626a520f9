package political

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
)

var at = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func calendarEvent(hoursAhead float64, direction, relevance float64, vol domain.EventVolatility) domain.PoliticalEvent {
	return domain.PoliticalEvent{
		Name:              "event",
		EventDate:         at.Add(time.Duration(hoursAhead * float64(time.Hour))),
		Volatility:        vol,
		ExpectedDirection: direction,
		CryptoRelevance:   relevance,
	}
}

func article(ageHours, sentiment, relevance, urgency, velocity float64) domain.NewsItem {
	return domain.NewsItem{
		Timestamp:       at.Add(-time.Duration(ageHours * float64(time.Hour))),
		Category:        "regulation",
		Subcategory:     "sec",
		Sentiment:       sentiment,
		Relevance:       relevance,
		Urgency:         urgency,
		MentionVelocity: velocity,
	}
}

func TestCalendarScore(t *testing.T) {
	t.Run("decayed directional pull", func(t *testing.T) {
		// 84h out decays to half weight: 1 * 0.8 * (1 - 84/168) = 0.4.
		events := []domain.PoliticalEvent{calendarEvent(84, 1, 0.8, domain.VolHigh)}
		score, highVol := CalendarScore(events, at)
		assert.InDelta(t, 0.4, score, 1e-9)
		assert.False(t, highVol)
	})

	t.Run("past and far events ignored", func(t *testing.T) {
		events := []domain.PoliticalEvent{
			calendarEvent(-2, 1, 1, domain.VolHigh),
			calendarEvent(24*8, -1, 1, domain.VolHigh),
		}
		score, _ := CalendarScore(events, at)
		assert.Zero(t, score)
	})

	t.Run("imminent extreme unknown zeroes the component", func(t *testing.T) {
		events := []domain.PoliticalEvent{
			calendarEvent(84, 1, 0.8, domain.VolHigh),
			calendarEvent(12, 0, 1, domain.VolExtreme),
		}
		score, highVol := CalendarScore(events, at)
		assert.Zero(t, score)
		assert.True(t, highVol)
	})
}

func TestNewsScore(t *testing.T) {
	t.Run("decayed weighted mean", func(t *testing.T) {
		// One six-hour-old article at half weight.
		items := []domain.NewsItem{article(6, 0.8, 0.9, 1, 0)}
		want := 0.8 * 0.9 * 1 * 0.5
		assert.InDelta(t, want, NewsScore(items, at, Params{}), 1e-9)
	})

	t.Run("relevance floor filters", func(t *testing.T) {
		items := []domain.NewsItem{article(1, 1, 0.2, 1, 0)}
		assert.Zero(t, NewsScore(items, at, Params{}))
	})

	t.Run("stale articles ignored", func(t *testing.T) {
		items := []domain.NewsItem{article(30, 1, 1, 1, 0)}
		assert.Zero(t, NewsScore(items, at, Params{}))
	})

	t.Run("velocity spike boosts by half", func(t *testing.T) {
		calm := []domain.NewsItem{article(0, 0.4, 1, 1, 0)}
		hot := []domain.NewsItem{article(0, 0.4, 1, 1, 9)}
		assert.InDelta(t, 1.5*NewsScore(calm, at, Params{}), NewsScore(hot, at, Params{}), 1e-9)
	})
}

func TestNarratives(t *testing.T) {
	var items []domain.NewsItem
	// Six bearish regulation articles form a cluster.
	for i := 0; i < 6; i++ {
		items = append(items, article(float64(i+1), -0.5, 0.8, 0.5, 2))
	}
	// Four bullish ETF articles miss the size cutoff.
	for i := 0; i < 4; i++ {
		n := article(float64(i+1), 0.6, 0.8, 0.5, 1)
		n.Category, n.Subcategory = "markets", "etf"
		items = append(items, n)
	}
	// An article outside the 72h window never joins.
	items = append(items, article(80, -0.5, 0.8, 0.5, 2))

	narratives := Narratives(items, at)
	require.Len(t, narratives, 1)
	n := narratives[0]
	assert.Equal(t, "regulation", n.Category)
	assert.Equal(t, 6, n.ArticleCount)
	assert.Equal(t, -1.0, n.Direction)
	// count * |mean| * (1 + mean velocity) = 6 * 0.5 * 3.
	assert.InDelta(t, 9.0, n.Strength, 1e-9)
}

func TestNarrativeScore(t *testing.T) {
	assert.Zero(t, NarrativeScore(nil))
	assert.InDelta(t, -0.3, NarrativeScore([]domain.Narrative{{ArticleCount: 6, Direction: -1}}), 1e-9)
	assert.InDelta(t, 1.0, NarrativeScore([]domain.Narrative{{ArticleCount: 40, Direction: 1}}), 1e-9)
}

func TestBlackSwan(t *testing.T) {
	// Urgency and relevance must both clear 0.9 inside the last hour.
	assert.Nil(t, BlackSwan([]domain.NewsItem{article(0.5, -1, 0.95, 0.8, 0)}, at))
	assert.Nil(t, BlackSwan([]domain.NewsItem{article(2, -1, 0.95, 0.95, 0)}, at))

	swan := BlackSwan([]domain.NewsItem{article(0.5, -1, 0.95, 0.95, 0)}, at)
	require.NotNil(t, swan)
	assert.Equal(t, -1.0, swan.Sentiment)
}

func TestCompose(t *testing.T) {
	assert.InDelta(t, 0.3*0.4+0.35*0.2+0.35*(-0.1), Compose(0.4, 0.2, -0.1, nil), 1e-9)

	negative := &domain.NewsItem{Sentiment: -0.9}
	assert.Equal(t, -0.8, Compose(0.9, 0.9, 0.9, negative))
	positive := &domain.NewsItem{Sentiment: 0.9}
	assert.Equal(t, 0.8, Compose(-0.9, -0.9, -0.9, positive))

	assert.Equal(t, 1.0, Compose(1, 1, 1, nil))
}
