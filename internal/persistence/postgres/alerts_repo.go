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

// alertRepo implements AlertRepo for PostgreSQL. Idempotency is enforced by a
// partial unique index on (idempotency_key) WHERE status = 'active'.
type alertRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertRepo creates a PostgreSQL alert repository.
func NewAlertRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertRepo {
	return &alertRepo{db: db, timeout: timeout}
}

// InsertIfAbsent writes the alert unless an active alert with the same key
// exists. The conflict target is the partial unique index, so acknowledged
// and dismissed alerts stop suppressing later windows.
func (r *alertRepo) InsertIfAbsent(ctx context.Context, a domain.Alert) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	contextJSON, err := json.Marshal(a.TriggerContext)
	if err != nil {
		return false, fmt.Errorf("failed to marshal trigger context: %w", err)
	}

	query := `
		INSERT INTO alerts (id, kind, severity, symbol, title, description, trigger_context, status, idempotency_key, triggered_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE idempotency_key = $9 AND status = 'active'
		)`

	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.Kind, a.Severity, a.Symbol, a.Title, a.Description,
		contextJSON, domain.AlertActive, a.IdempotencyKey, a.TriggeredAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read alert insert result: %w", err)
	}
	return n > 0, nil
}

const alertColumns = `id, kind, severity, symbol, title, description, trigger_context, status, idempotency_key, triggered_at, created_at`

func (r *alertRepo) Get(ctx context.Context, id string) (*domain.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	return scanAlert(r.db.QueryRowxContext(ctx, query, id))
}

func (r *alertRepo) ListByStatus(ctx context.Context, status domain.AlertStatus, limit int) ([]domain.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = $1
		ORDER BY triggered_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts by status: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// UpdateStatus transitions an alert out of (or between) non-active states.
// Alerts never return to active.
func (r *alertRepo) UpdateStatus(ctx context.Context, id string, status domain.AlertStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if status == domain.AlertActive {
		return fmt.Errorf("alerts cannot transition back to active")
	}

	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read alert update result: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *alertRepo) CountSince(ctx context.Context, kind domain.AlertKind, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	query := `SELECT COUNT(*) FROM alerts WHERE kind = $1 AND triggered_at >= $2`
	if err := r.db.GetContext(ctx, &count, query, kind, since); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var contextJSON []byte
	var symbol sql.NullString

	err := row.Scan(&a.ID, &a.Kind, &a.Severity, &symbol, &a.Title, &a.Description,
		&contextJSON, &a.Status, &a.IdempotencyKey, &a.TriggeredAt, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	a.Symbol = symbol.String
	if err := unmarshalInto(contextJSON, &a.TriggerContext); err != nil {
		return nil, err
	}
	return &a, nil
}
