// Package political scores scheduled events, classified news flow and
// narrative clusters into one layer, with a black-swan override for
// breaking high-impact articles.
package political

import (
	"math"
	"sort"
	"time"

	"github.com/astroquant/confluence/internal/domain"
)

const (
	calendarWeight  = 0.30
	newsWeight      = 0.35
	narrativeWeight = 0.35

	// newsHalfLife halves an article's influence every six hours.
	newsHalfLife = 6.0

	// calendarHorizon is how far ahead events pull on the score.
	calendarHorizon = 7 * 24 * time.Hour

	// narrativeWindow bounds the clustering lookback.
	narrativeWindow = 72 * time.Hour

	// narrativeMinArticles is the minimum cluster size to count.
	narrativeMinArticles = 5

	// blackSwanWindow is the breaking-news lookback for the override.
	blackSwanWindow = time.Hour
)

// Params are the tunable scoring inputs; zero values take defaults.
type Params struct {
	RelevanceFloor    float64 // minimum article relevance, default 0.3
	VelocityThreshold float64 // mention velocity triggering the boost, default 5
}

func (p Params) withDefaults() Params {
	if p.RelevanceFloor <= 0 {
		p.RelevanceFloor = 0.3
	}
	if p.VelocityThreshold <= 0 {
		p.VelocityThreshold = 5
	}
	return p
}

// CalendarScore sums decayed event contributions over the next seven days.
// contribution = expectedDirection * cryptoRelevance * (1 - hours/168).
// An extreme-volatility event within 24h with unknown direction zeroes the
// component and raises the high volatility flag instead.
func CalendarScore(events []domain.PoliticalEvent, at time.Time) (score float64, highVolZone bool) {
	for _, e := range events {
		hours := e.EventDate.Sub(at).Hours()
		if hours < 0 || hours > calendarHorizon.Hours() {
			continue
		}
		if hours <= 24 && e.Volatility == domain.VolExtreme && e.ExpectedDirection == 0 {
			highVolZone = true
		}
		decay := math.Max(0, 1-hours/calendarHorizon.Hours())
		score += e.ExpectedDirection * e.CryptoRelevance * decay
	}
	if highVolZone {
		return 0, true
	}
	return domain.ClampScore(score), false
}

// NewsScore takes the mean of decayed article weights over the last 24h.
// Articles below the relevance floor are ignored; each contributes
// sentiment * relevance * urgency * exp(-ln2 * ageHours / 6). A mention
// velocity spike boosts the whole component by half.
func NewsScore(items []domain.NewsItem, at time.Time, params Params) float64 {
	params = params.withDefaults()

	var sum float64
	var count int
	boost := false
	for _, n := range items {
		age := at.Sub(n.Timestamp).Hours()
		if age < 0 || age > 24 {
			continue
		}
		if n.Relevance <= params.RelevanceFloor {
			continue
		}
		decay := math.Exp(-math.Ln2 * age / newsHalfLife)
		sum += n.Sentiment * n.Relevance * n.Urgency * decay
		count++
		if n.MentionVelocity > params.VelocityThreshold {
			boost = true
		}
	}
	if count == 0 {
		return 0
	}
	score := sum / float64(count)
	if boost {
		score *= 1.5
	}
	return domain.ClampScore(score)
}

// Narratives clusters the last 72h of articles by category+subcategory and
// returns same-sign clusters of at least five articles, strongest first.
// Strength is count * |mean sentiment| * (1 + mean velocity).
func Narratives(items []domain.NewsItem, at time.Time) []domain.Narrative {
	type cluster struct {
		category, subcategory string
		count                 int
		sentimentSum          float64
		velocitySum           float64
	}
	clusters := make(map[string]*cluster)

	for _, n := range items {
		age := at.Sub(n.Timestamp)
		if age < 0 || age > narrativeWindow {
			continue
		}
		key := n.Category + "/" + n.Subcategory
		c, ok := clusters[key]
		if !ok {
			c = &cluster{category: n.Category, subcategory: n.Subcategory}
			clusters[key] = c
		}
		c.count++
		c.sentimentSum += n.Sentiment
		c.velocitySum += n.MentionVelocity
	}

	var out []domain.Narrative
	for _, c := range clusters {
		if c.count < narrativeMinArticles {
			continue
		}
		mean := c.sentimentSum / float64(c.count)
		if mean == 0 {
			continue
		}
		dir := 1.0
		if mean < 0 {
			dir = -1.0
		}
		out = append(out, domain.Narrative{
			Category:     c.category,
			Subcategory:  c.subcategory,
			ArticleCount: c.count,
			Direction:    dir,
			Strength:     float64(c.count) * math.Abs(mean) * (1 + c.velocitySum/float64(c.count)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// NarrativeScore is the dominant cluster's contribution:
// min(1, count/20) signed by its direction.
func NarrativeScore(narratives []domain.Narrative) float64 {
	if len(narratives) == 0 {
		return 0
	}
	dominant := narratives[0]
	magnitude := math.Min(1, float64(dominant.ArticleCount)/20)
	return domain.ClampScore(magnitude * dominant.Direction)
}

// BlackSwan returns the override article, if any item in the last hour has
// urgency and relevance both above 0.9.
func BlackSwan(items []domain.NewsItem, at time.Time) *domain.NewsItem {
	for i := range items {
		n := items[i]
		age := at.Sub(n.Timestamp)
		if age < 0 || age > blackSwanWindow {
			continue
		}
		if n.Urgency > 0.9 && n.Relevance > 0.9 {
			return &n
		}
	}
	return nil
}

// Compose fuses the components, applying the black-swan override when
// present: political = 0.8 * sign(article sentiment).
func Compose(calendar, news, narrative float64, swan *domain.NewsItem) float64 {
	if swan != nil {
		if swan.Sentiment < 0 {
			return -0.8
		}
		return 0.8
	}
	return domain.ClampScore(calendarWeight*calendar + newsWeight*news + narrativeWeight*narrative)
}
