package domain

import "time"

// EventVolatility grades the expected market impact of a calendar event.
type EventVolatility string

const (
	VolLow     EventVolatility = "low"
	VolMedium  EventVolatility = "medium"
	VolHigh    EventVolatility = "high"
	VolExtreme EventVolatility = "extreme"
)

// PoliticalEvent is one scheduled macro/political calendar entry.
// ExpectedDirection is +1 bullish, -1 bearish, 0 unknown.
type PoliticalEvent struct {
	ID                int64           `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	Category          string          `json:"category" db:"category"`
	EventDate         time.Time       `json:"event_date" db:"event_date"`
	Volatility        EventVolatility `json:"volatility" db:"volatility"`
	ExpectedDirection float64         `json:"expected_direction" db:"expected_direction"`
	CryptoRelevance   float64         `json:"crypto_relevance" db:"crypto_relevance"`
	Outcome           *string         `json:"outcome,omitempty" db:"outcome"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// NewsItem is one classified article. HeadlineHash deduplicates re-ingestion
// of the same headline from the same source.
type NewsItem struct {
	ID              int64     `json:"id" db:"id"`
	Timestamp       time.Time `json:"ts" db:"ts"`
	Source          string    `json:"source" db:"source"`
	HeadlineHash    string    `json:"headline_hash" db:"headline_hash"`
	Headline        string    `json:"headline" db:"headline"`
	Category        string    `json:"category" db:"category"`
	Subcategory     string    `json:"subcategory" db:"subcategory"`
	Sentiment       float64   `json:"sentiment" db:"sentiment"`
	Relevance       float64   `json:"relevance" db:"relevance"`
	Urgency         float64   `json:"urgency" db:"urgency"`
	MentionVelocity float64   `json:"mention_velocity" db:"mention_velocity"`
}

// Narrative is a dominant same-sign news cluster over a trailing window.
type Narrative struct {
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	ArticleCount int     `json:"article_count"`
	Direction    float64 `json:"direction"`
	Strength     float64 `json:"strength"`
}

// PoliticalScore is one computed political layer row with its components.
type PoliticalScore struct {
	Timestamp         time.Time  `json:"ts" db:"ts"`
	CalendarProximity float64    `json:"calendar_proximity" db:"calendar_proximity"`
	NewsFlow          float64    `json:"news_flow" db:"news_flow"`
	NarrativeScore    float64    `json:"narrative_score" db:"narrative_score"`
	Score             float64    `json:"score" db:"score"`
	HighVolZone       bool       `json:"high_vol_zone" db:"high_vol_zone"`
	BlackSwan         bool       `json:"black_swan" db:"black_swan"`
	Dominant          *Narrative `json:"dominant_narrative,omitempty" db:"dominant_narrative"`
	Degraded          bool       `json:"degraded" db:"degraded"`
}
