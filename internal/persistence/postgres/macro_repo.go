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

// macroRepo implements MacroRepo for PostgreSQL.
type macroRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMacroRepo creates a PostgreSQL macro repository.
func NewMacroRepo(db *sqlx.DB, timeout time.Duration) persistence.MacroRepo {
	return &macroRepo{db: db, timeout: timeout}
}

func (r *macroRepo) UpsertObservation(ctx context.Context, o domain.MacroObservation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO macro_observations (series, ts, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (series, ts) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db.ExecContext(ctx, query, o.Series, o.Timestamp.UTC(), o.Value); err != nil {
		return fmt.Errorf("failed to upsert macro observation: %w", err)
	}
	return nil
}

func (r *macroRepo) SeriesRange(ctx context.Context, series domain.MacroSeries, tr persistence.TimeRange) ([]domain.MacroObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT series, ts, value
		FROM macro_observations
		WHERE series = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`

	var obs []domain.MacroObservation
	if err := r.db.SelectContext(ctx, &obs, query, series, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("failed to query %s series: %w", series, err)
	}
	return obs, nil
}

func (r *macroRepo) LatestObservation(ctx context.Context, series domain.MacroSeries) (*domain.MacroObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT series, ts, value
		FROM macro_observations
		WHERE series = $1
		ORDER BY ts DESC
		LIMIT 1`

	var o domain.MacroObservation
	if err := r.db.GetContext(ctx, &o, query, series); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest %s observation: %w", series, err)
	}
	return &o, nil
}

func (r *macroRepo) UpsertScore(ctx context.Context, s domain.MacroScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO macro_scores (ts, liquidity, treasury, dollar, oil, carry, score, regime, regime_confidence, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ts) DO UPDATE SET
			liquidity = EXCLUDED.liquidity,
			treasury = EXCLUDED.treasury,
			dollar = EXCLUDED.dollar,
			oil = EXCLUDED.oil,
			carry = EXCLUDED.carry,
			score = EXCLUDED.score,
			regime = EXCLUDED.regime,
			regime_confidence = EXCLUDED.regime_confidence,
			degraded = EXCLUDED.degraded`

	_, err := r.db.ExecContext(ctx, query,
		s.Timestamp.UTC(), s.Liquidity, s.Treasury, s.Dollar, s.Oil, s.Carry,
		domain.ClampScore(s.Score), s.Regime, s.RegimeConfidence, s.Degraded)
	if err != nil {
		return fmt.Errorf("failed to upsert macro score: %w", err)
	}
	return nil
}

func (r *macroRepo) LatestScore(ctx context.Context) (*domain.MacroScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, liquidity, treasury, dollar, oil, carry, score, regime, regime_confidence, degraded
		FROM macro_scores
		ORDER BY ts DESC
		LIMIT 1`

	var s domain.MacroScore
	if err := r.db.GetContext(ctx, &s, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest macro score: %w", err)
	}
	return &s, nil
}
