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

// layerScoreRepo implements LayerScoreRepo for PostgreSQL. Every producer
// writes its uniform score row here; layer-specific detail tables live beside
// it. Global layers store empty symbol/timeframe, which keeps the primary key
// (layer, symbol, timeframe, ts) total.
type layerScoreRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLayerScoreRepo creates a PostgreSQL layer score repository.
func NewLayerScoreRepo(db *sqlx.DB, timeout time.Duration) persistence.LayerScoreRepo {
	return &layerScoreRepo{db: db, timeout: timeout}
}

// Upsert writes one score row; re-running a producer over the same instant
// replaces the row in place.
func (r *layerScoreRepo) Upsert(ctx context.Context, s domain.LayerScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailsJSON, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal score details: %w", err)
	}

	query := `
		INSERT INTO layer_scores (layer, symbol, timeframe, ts, score, degraded, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (layer, symbol, timeframe, ts) DO UPDATE SET
			score = EXCLUDED.score,
			degraded = EXCLUDED.degraded,
			details = EXCLUDED.details`

	_, err = r.db.ExecContext(ctx, query,
		s.Layer, s.Symbol, s.Timeframe, s.Timestamp.UTC(),
		domain.ClampScore(s.Score), s.Degraded, detailsJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert layer score: %w", err)
	}
	return nil
}

// LatestBefore returns the newest row with ts <= at for the key.
func (r *layerScoreRepo) LatestBefore(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT layer, symbol, timeframe, ts, score, degraded, details
		FROM layer_scores
		WHERE layer = $1 AND symbol = $2 AND timeframe = $3 AND ts <= $4
		ORDER BY ts DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, layer, symbol, tf, at)
	s, err := scanLayerScore(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest %s score: %w", layer, err)
	}
	return s, nil
}

// Range returns score rows within the window, ascending.
func (r *layerScoreRepo) Range(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.LayerScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT layer, symbol, timeframe, ts, score, degraded, details
		FROM layer_scores
		WHERE layer = $1 AND symbol = $2 AND timeframe = $3 AND ts >= $4 AND ts <= $5
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, layer, symbol, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s score range: %w", layer, err)
	}
	defer rows.Close()

	var scores []domain.LayerScore
	for rows.Next() {
		s, err := scanLayerScoreRows(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score rows: %w", err)
	}
	return scores, nil
}

// Count returns the number of score rows in the window.
func (r *layerScoreRepo) Count(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM layer_scores
		WHERE layer = $1 AND symbol = $2 AND timeframe = $3 AND ts >= $4 AND ts <= $5`

	var count int64
	if err := r.db.GetContext(ctx, &count, query, layer, symbol, tf, tr.From, tr.To); err != nil {
		return 0, fmt.Errorf("failed to count %s scores: %w", layer, err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLayerScore(row rowScanner) (*domain.LayerScore, error) {
	var s domain.LayerScore
	var detailsJSON []byte

	err := row.Scan(&s.Layer, &s.Symbol, &s.Timeframe, &s.Timestamp, &s.Score, &s.Degraded, &detailsJSON)
	if err != nil {
		return nil, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &s.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score details: %w", err)
		}
	}
	return &s, nil
}

func scanLayerScoreRows(rows *sqlx.Rows) (*domain.LayerScore, error) {
	return scanLayerScore(rows)
}
