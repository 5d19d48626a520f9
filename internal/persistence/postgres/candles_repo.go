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

// candleRepo implements CandleRepo for PostgreSQL.
type candleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCandleRepo creates a PostgreSQL candle repository.
func NewCandleRepo(db *sqlx.DB, timeout time.Duration) persistence.CandleRepo {
	return &candleRepo{db: db, timeout: timeout}
}

const candleUpsert = `
	INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`

// Upsert writes one bar, replacing any existing row on the primary key so
// late corrections are repairs rather than duplicates.
func (r *candleRepo) Upsert(ctx context.Context, c domain.Candle) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, candleUpsert,
		c.Symbol, c.Timeframe, c.Timestamp.UTC(),
		c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("failed to upsert candle: %w", err)
	}
	return nil
}

// UpsertBatch writes a batch of bars atomically.
func (r *candleRepo) UpsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(candles)/200+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, candleUpsert)
	if err != nil {
		return fmt.Errorf("failed to prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, c.Timeframe, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to upsert candle in batch: %w", err)
		}
	}

	return tx.Commit()
}

// Range returns candles within the window in ascending ts order. A limit of
// zero returns the whole window.
func (r *candleRepo) Range(ctx context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange, limit int) ([]domain.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
		LIMIT NULLIF($5, 0)`

	var candles []domain.Candle
	if err := r.db.SelectContext(ctx, &candles, query, symbol, tf, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	return candles, nil
}

// UpTo returns up to limit candles with ts <= at, ascending. Used for
// indicator warm-up windows ahead of a scoring instant.
func (r *candleRepo) UpTo(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time, limit int) ([]domain.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM (
			SELECT symbol, timeframe, ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1 AND timeframe = $2 AND ts <= $3
			ORDER BY ts DESC
			LIMIT $4
		) recent
		ORDER BY ts ASC`

	var candles []domain.Candle
	if err := r.db.SelectContext(ctx, &candles, query, symbol, tf, at, limit); err != nil {
		return nil, fmt.Errorf("failed to query candles before %s: %w", at, err)
	}
	return candles, nil
}

// Latest returns the newest bar for the pair, or ErrNotFound.
func (r *candleRepo) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY ts DESC
		LIMIT 1`

	var c domain.Candle
	if err := r.db.GetContext(ctx, &c, query, symbol, tf); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	return &c, nil
}

// Count returns the number of bars in the window.
func (r *candleRepo) Count(ctx context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4`

	var count int64
	if err := r.db.GetContext(ctx, &count, query, symbol, tf, tr.From, tr.To); err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}
