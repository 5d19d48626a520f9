package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astroquant/confluence/internal/persistence"
)

// backtestRepo implements BacktestRepo for PostgreSQL. Reports are stored as
// opaque JSON under a caller-supplied id.
type backtestRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBacktestRepo creates a PostgreSQL backtest result repository.
func NewBacktestRepo(db *sqlx.DB, timeout time.Duration) persistence.BacktestRepo {
	return &backtestRepo{db: db, timeout: timeout}
}

func (r *backtestRepo) InsertResult(ctx context.Context, id string, kind string, report interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest report: %w", err)
	}

	query := `
		INSERT INTO backtest_results (id, kind, report)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, report = EXCLUDED.report`

	if _, err := r.db.ExecContext(ctx, query, id, kind, reportJSON); err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}
	return nil
}

func (r *backtestRepo) GetResult(ctx context.Context, id string) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var kind string
	var report []byte
	query := `SELECT kind, report FROM backtest_results WHERE id = $1`
	if err := r.db.QueryRowxContext(ctx, query, id).Scan(&kind, &report); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, persistence.ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to get backtest result: %w", err)
	}
	return kind, report, nil
}
