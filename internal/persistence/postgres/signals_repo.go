package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// onchainRepo implements OnChainRepo for PostgreSQL.
type onchainRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOnChainRepo creates a PostgreSQL on-chain metrics repository.
func NewOnChainRepo(db *sqlx.DB, timeout time.Duration) persistence.OnChainRepo {
	return &onchainRepo{db: db, timeout: timeout}
}

func (r *onchainRepo) Upsert(ctx context.Context, m domain.OnChainMetrics) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO onchain_metrics (symbol, ts, exchange_netflow, nupl, mvrv_z, sopr)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			exchange_netflow = EXCLUDED.exchange_netflow,
			nupl = EXCLUDED.nupl,
			mvrv_z = EXCLUDED.mvrv_z,
			sopr = EXCLUDED.sopr`

	_, err := r.db.ExecContext(ctx, query,
		m.Symbol, m.Timestamp.UTC(), m.ExchangeNetflow, m.NUPL, m.MVRVZ, m.SOPR)
	if err != nil {
		return fmt.Errorf("failed to upsert onchain metrics: %w", err)
	}
	return nil
}

func (r *onchainRepo) LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.OnChainMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, ts, exchange_netflow, nupl, mvrv_z, sopr
		FROM onchain_metrics
		WHERE symbol = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT 1`

	var m domain.OnChainMetrics
	if err := r.db.GetContext(ctx, &m, query, symbol, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query onchain metrics: %w", err)
	}
	return &m, nil
}

func (r *onchainRepo) Latest(ctx context.Context, symbol string) (*domain.OnChainMetrics, error) {
	return r.LatestBefore(ctx, symbol, time.Now().UTC())
}

// sentimentRepo implements SentimentRepo for PostgreSQL.
type sentimentRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSentimentRepo creates a PostgreSQL sentiment repository.
func NewSentimentRepo(db *sqlx.DB, timeout time.Duration) persistence.SentimentRepo {
	return &sentimentRepo{db: db, timeout: timeout}
}

func (r *sentimentRepo) Upsert(ctx context.Context, s domain.SentimentRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO sentiment (symbol, ts, fear_greed, social_score, trends_score, score, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			fear_greed = EXCLUDED.fear_greed,
			social_score = EXCLUDED.social_score,
			trends_score = EXCLUDED.trends_score,
			score = EXCLUDED.score,
			degraded = EXCLUDED.degraded`

	_, err := r.db.ExecContext(ctx, query,
		s.Symbol, s.Timestamp.UTC(), s.FearGreed, s.SocialScore, s.TrendsScore,
		domain.ClampScore(s.Score), s.Degraded)
	if err != nil {
		return fmt.Errorf("failed to upsert sentiment: %w", err)
	}
	return nil
}

func (r *sentimentRepo) LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.SentimentRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, ts, fear_greed, social_score, trends_score, score, degraded
		FROM sentiment
		WHERE symbol = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT 1`

	var s domain.SentimentRow
	if err := r.db.GetContext(ctx, &s, query, symbol, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query sentiment: %w", err)
	}
	return &s, nil
}

func (r *sentimentRepo) Latest(ctx context.Context, symbol string) (*domain.SentimentRow, error) {
	return r.LatestBefore(ctx, symbol, time.Now().UTC())
}
