package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astroquant/confluence/internal/persistence"
)

// leaseRepo implements LeaseRepo for PostgreSQL. A lease row per job name is
// the only cross-process mutex in the system; all acquisition is a single
// conditional upsert so two workers can never both win.
type leaseRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLeaseRepo creates a PostgreSQL lease repository.
func NewLeaseRepo(db *sqlx.DB, timeout time.Duration) persistence.LeaseRepo {
	return &leaseRepo{db: db, timeout: timeout}
}

// Acquire takes the lease if it is unheld, expired, or already ours.
func (r *leaseRepo) Acquire(ctx context.Context, jobName, ownerID string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO job_leases (job_name, owner_id, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (job_name) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			expires_at = EXCLUDED.expires_at
		WHERE job_leases.expires_at < NOW() OR job_leases.owner_id = EXCLUDED.owner_id`

	res, err := r.db.ExecContext(ctx, query, jobName, ownerID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", jobName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n > 0, nil
}

// Renew extends a lease we still hold.
func (r *leaseRepo) Renew(ctx context.Context, jobName, ownerID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE job_leases
		SET expires_at = NOW() + $3::interval
		WHERE job_name = $1 AND owner_id = $2 AND expires_at >= NOW()`

	res, err := r.db.ExecContext(ctx, query, jobName, ownerID, ttl.String())
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", jobName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lease renew result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lease %s lost by %s", jobName, ownerID)
	}
	return nil
}

// Release frees the lease if this owner still holds it. Losing the lease
// first is not an error; the next owner already took over.
func (r *leaseRepo) Release(ctx context.Context, jobName, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `DELETE FROM job_leases WHERE job_name = $1 AND owner_id = $2`
	if _, err := r.db.ExecContext(ctx, query, jobName, ownerID); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", jobName, err)
	}
	return nil
}
