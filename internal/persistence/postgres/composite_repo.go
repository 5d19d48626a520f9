package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// compositeRepo implements CompositeRepo for PostgreSQL. Composite rows are
// append-only per (symbol, timeframe, ts); the upsert only exists so reruns
// over an unchanged snapshot are idempotent.
type compositeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCompositeRepo creates a PostgreSQL composite score repository.
func NewCompositeRepo(db *sqlx.DB, timeout time.Duration) persistence.CompositeRepo {
	return &compositeRepo{db: db, timeout: timeout}
}

func (r *compositeRepo) Upsert(ctx context.Context, c domain.CompositeScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	layersJSON, err := json.Marshal(c.LayerScores)
	if err != nil {
		return fmt.Errorf("failed to marshal layer scores: %w", err)
	}
	weightsJSON, err := json.Marshal(c.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	query := `
		INSERT INTO composite_scores (symbol, timeframe, ts, layer_scores, weights, composite, strength, aligned_layers, stale_layers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			layer_scores = EXCLUDED.layer_scores,
			weights = EXCLUDED.weights,
			composite = EXCLUDED.composite,
			strength = EXCLUDED.strength,
			aligned_layers = EXCLUDED.aligned_layers,
			stale_layers = EXCLUDED.stale_layers`

	_, err = r.db.ExecContext(ctx, query,
		c.Symbol, c.Timeframe, c.Timestamp.UTC(),
		layersJSON, weightsJSON, domain.ClampScore(c.Composite), c.Strength,
		pq.Array(layersToStrings(c.AlignedLayers)), pq.Array(layersToStrings(c.StaleLayers)))
	if err != nil {
		return fmt.Errorf("failed to upsert composite score: %w", err)
	}
	return nil
}

const compositeColumns = `symbol, timeframe, ts, layer_scores, weights, composite, strength, aligned_layers, stale_layers, created_at`

func (r *compositeRepo) LatestBefore(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time) (*domain.CompositeScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + compositeColumns + `
		FROM composite_scores
		WHERE symbol = $1 AND timeframe = $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT 1`

	return scanComposite(r.db.QueryRowxContext(ctx, query, symbol, tf, at))
}

func (r *compositeRepo) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + compositeColumns + `
		FROM composite_scores
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY ts DESC
		LIMIT 1`

	return scanComposite(r.db.QueryRowxContext(ctx, query, symbol, tf))
}

func (r *compositeRepo) Range(ctx context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.CompositeScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + compositeColumns + `
		FROM composite_scores
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite range: %w", err)
	}
	defer rows.Close()

	var composites []domain.CompositeScore
	for rows.Next() {
		c, err := scanComposite(rows)
		if err != nil {
			return nil, err
		}
		composites = append(composites, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite rows: %w", err)
	}
	return composites, nil
}

// GetCursor returns the persisted leading edge for the pair, or ErrNotFound
// before the first composite has been observed.
func (r *compositeRepo) GetCursor(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeCursor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, triggered_at, composite, updated_at
		FROM composite_cursors
		WHERE symbol = $1 AND timeframe = $2`

	var cur domain.CompositeCursor
	if err := r.db.GetContext(ctx, &cur, query, symbol, tf); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query composite cursor: %w", err)
	}
	return &cur, nil
}

// PutCursor advances the leading edge. The guard keeps backfill writes from
// dragging the cursor backwards.
func (r *compositeRepo) PutCursor(ctx context.Context, cur domain.CompositeCursor) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO composite_cursors (symbol, timeframe, triggered_at, composite, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (symbol, timeframe) DO UPDATE SET
			triggered_at = EXCLUDED.triggered_at,
			composite = EXCLUDED.composite,
			updated_at = NOW()
		WHERE composite_cursors.triggered_at < EXCLUDED.triggered_at`

	if _, err := r.db.ExecContext(ctx, query, cur.Symbol, cur.Timeframe, cur.TriggeredAt.UTC(), cur.Composite); err != nil {
		return fmt.Errorf("failed to put composite cursor: %w", err)
	}
	return nil
}

func scanComposite(row rowScanner) (*domain.CompositeScore, error) {
	var c domain.CompositeScore
	var layersJSON, weightsJSON []byte
	var aligned, stale pq.StringArray

	err := row.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp,
		&layersJSON, &weightsJSON, &c.Composite, &c.Strength,
		&aligned, &stale, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan composite score: %w", err)
	}

	if err := unmarshalInto(layersJSON, &c.LayerScores); err != nil {
		return nil, err
	}
	if err := unmarshalInto(weightsJSON, &c.Weights); err != nil {
		return nil, err
	}
	c.AlignedLayers = stringsToLayers(aligned)
	c.StaleLayers = stringsToLayers(stale)
	return &c, nil
}

func layersToStrings(layers []domain.Layer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = string(l)
	}
	return out
}

func stringsToLayers(strs []string) []domain.Layer {
	if len(strs) == 0 {
		return nil
	}
	out := make([]domain.Layer, len(strs))
	for i, s := range strs {
		out[i] = domain.Layer(s)
	}
	return out
}
