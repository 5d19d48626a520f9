package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// cycleRepo implements CycleRepo for PostgreSQL.
type cycleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCycleRepo creates a PostgreSQL cycle repository.
func NewCycleRepo(db *sqlx.DB, timeout time.Duration) persistence.CycleRepo {
	return &cycleRepo{db: db, timeout: timeout}
}

// Insert writes a new cycle. Duplicate (name, period) pairs are rejected so
// two overlapping definitions cannot both fire alerts.
func (r *cycleRepo) Insert(ctx context.Context, c domain.CustomCycle) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := c.Validate(); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO custom_cycles (name, period_days, anchor_date, tolerance_days, direction)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		c.Name, c.PeriodDays, c.AnchorDate.UTC().Truncate(24*time.Hour),
		c.ToleranceDays, c.Direction).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("cycle %q with period %d already exists: %w", c.Name, c.PeriodDays, err)
		}
		return 0, fmt.Errorf("failed to insert cycle: %w", err)
	}
	return id, nil
}

const cycleColumns = `id, name, period_days, anchor_date, tolerance_days, direction, hits, misses, last_outcome_at, created_at`

func (r *cycleRepo) Get(ctx context.Context, id int64) (*domain.CustomCycle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var c domain.CustomCycle
	query := `SELECT ` + cycleColumns + ` FROM custom_cycles WHERE id = $1`
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	return &c, nil
}

func (r *cycleRepo) List(ctx context.Context) ([]domain.CustomCycle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cycles []domain.CustomCycle
	query := `SELECT ` + cycleColumns + ` FROM custom_cycles ORDER BY id ASC`
	if err := r.db.SelectContext(ctx, &cycles, query); err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	return cycles, nil
}

// RecordOutcome bumps a counter in place and advances the outcome watermark.
// Counters are never decremented or reset, and an occurrence at or behind the
// watermark is a no-op, so re-evaluation after a crash cannot double-count.
func (r *cycleRepo) RecordOutcome(ctx context.Context, id int64, hit bool, occurrence time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	column := "misses"
	if hit {
		column = "hits"
	}

	query := fmt.Sprintf(`
		UPDATE custom_cycles
		SET %s = %s + 1, last_outcome_at = $2
		WHERE id = $1 AND (last_outcome_at IS NULL OR last_outcome_at < $2)`, column, column)
	if _, err := r.db.ExecContext(ctx, query, id, occurrence.UTC()); err != nil {
		return fmt.Errorf("failed to record cycle outcome: %w", err)
	}
	return nil
}
