package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// politicalRepo implements PoliticalRepo for PostgreSQL.
type politicalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPoliticalRepo creates a PostgreSQL political data repository.
func NewPoliticalRepo(db *sqlx.DB, timeout time.Duration) persistence.PoliticalRepo {
	return &politicalRepo{db: db, timeout: timeout}
}

// UpsertEvent writes a calendar event, keyed by (name, event_date) so the
// recurring seeder is idempotent.
func (r *politicalRepo) UpsertEvent(ctx context.Context, e domain.PoliticalEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO political_events (name, category, event_date, volatility, expected_direction, crypto_relevance, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name, event_date) DO UPDATE SET
			category = EXCLUDED.category,
			volatility = EXCLUDED.volatility,
			expected_direction = EXCLUDED.expected_direction,
			crypto_relevance = EXCLUDED.crypto_relevance,
			outcome = COALESCE(EXCLUDED.outcome, political_events.outcome)`

	_, err := r.db.ExecContext(ctx, query,
		e.Name, e.Category, e.EventDate.UTC(), e.Volatility,
		e.ExpectedDirection, e.CryptoRelevance, e.Outcome)
	if err != nil {
		return fmt.Errorf("failed to upsert political event: %w", err)
	}
	return nil
}

func (r *politicalRepo) ListEventsBetween(ctx context.Context, tr persistence.TimeRange) ([]domain.PoliticalEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, name, category, event_date, volatility, expected_direction, crypto_relevance, outcome, created_at
		FROM political_events
		WHERE event_date >= $1 AND event_date <= $2
		ORDER BY event_date ASC`

	var events []domain.PoliticalEvent
	if err := r.db.SelectContext(ctx, &events, query, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("failed to query political events: %w", err)
	}
	return events, nil
}

// InsertNews writes one classified article, silently skipping duplicates on
// (ts, source, headline_hash).
func (r *politicalRepo) InsertNews(ctx context.Context, n domain.NewsItem) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO news_items (ts, source, headline_hash, headline, category, subcategory, sentiment, relevance, urgency, mention_velocity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ts, source, headline_hash) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		n.Timestamp.UTC(), n.Source, n.HeadlineHash, n.Headline,
		n.Category, n.Subcategory, n.Sentiment, n.Relevance, n.Urgency, n.MentionVelocity)
	if err != nil {
		return fmt.Errorf("failed to insert news item: %w", err)
	}
	return nil
}

func (r *politicalRepo) ListNewsSince(ctx context.Context, since time.Time, until time.Time) ([]domain.NewsItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, source, headline_hash, headline, category, subcategory, sentiment, relevance, urgency, mention_velocity
		FROM news_items
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC`

	var items []domain.NewsItem
	if err := r.db.SelectContext(ctx, &items, query, since, until); err != nil {
		return nil, fmt.Errorf("failed to query news items: %w", err)
	}
	return items, nil
}

func (r *politicalRepo) UpsertScore(ctx context.Context, s domain.PoliticalScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	narrativeJSON, err := json.Marshal(s.Dominant)
	if err != nil {
		return fmt.Errorf("failed to marshal dominant narrative: %w", err)
	}

	query := `
		INSERT INTO political_scores (ts, calendar_proximity, news_flow, narrative_score, score, high_vol_zone, black_swan, dominant_narrative, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ts) DO UPDATE SET
			calendar_proximity = EXCLUDED.calendar_proximity,
			news_flow = EXCLUDED.news_flow,
			narrative_score = EXCLUDED.narrative_score,
			score = EXCLUDED.score,
			high_vol_zone = EXCLUDED.high_vol_zone,
			black_swan = EXCLUDED.black_swan,
			dominant_narrative = EXCLUDED.dominant_narrative,
			degraded = EXCLUDED.degraded`

	_, err = r.db.ExecContext(ctx, query,
		s.Timestamp.UTC(), s.CalendarProximity, s.NewsFlow, s.NarrativeScore,
		domain.ClampScore(s.Score), s.HighVolZone, s.BlackSwan, narrativeJSON, s.Degraded)
	if err != nil {
		return fmt.Errorf("failed to upsert political score: %w", err)
	}
	return nil
}

func (r *politicalRepo) LatestScore(ctx context.Context) (*domain.PoliticalScore, error) {
	return r.ScoreBefore(ctx, time.Now().UTC())
}

func (r *politicalRepo) ScoreBefore(ctx context.Context, at time.Time) (*domain.PoliticalScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, calendar_proximity, news_flow, narrative_score, score, high_vol_zone, black_swan, dominant_narrative, degraded
		FROM political_scores
		WHERE ts <= $1
		ORDER BY ts DESC
		LIMIT 1`

	var s domain.PoliticalScore
	var narrativeJSON []byte
	err := r.db.QueryRowxContext(ctx, query, at).Scan(
		&s.Timestamp, &s.CalendarProximity, &s.NewsFlow, &s.NarrativeScore,
		&s.Score, &s.HighVolZone, &s.BlackSwan, &narrativeJSON, &s.Degraded)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query political score: %w", err)
	}

	if len(narrativeJSON) > 0 && string(narrativeJSON) != "null" {
		s.Dominant = &domain.Narrative{}
		if err := json.Unmarshal(narrativeJSON, s.Dominant); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dominant narrative: %w", err)
		}
	}
	return &s, nil
}
