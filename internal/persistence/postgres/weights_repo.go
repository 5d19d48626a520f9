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

// weightRepo implements WeightRepo for PostgreSQL.
type weightRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWeightRepo creates a PostgreSQL weight profile repository.
func NewWeightRepo(db *sqlx.DB, timeout time.Duration) persistence.WeightRepo {
	return &weightRepo{db: db, timeout: timeout}
}

// Active returns the single active profile. When no profile has been stored
// yet, the shipped defaults are returned without writing a row.
func (r *weightRepo) Active(ctx context.Context) (*domain.WeightProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, name, weights, active, updated_at
		FROM weight_profiles
		WHERE active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`

	var p domain.WeightProfile
	var weightsJSON []byte
	err := r.db.QueryRowxContext(ctx, query).Scan(&p.ID, &p.Name, &weightsJSON, &p.Active, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			defaults := make(map[domain.Layer]float64, len(domain.DefaultWeights))
			for l, w := range domain.DefaultWeights {
				defaults[l] = w
			}
			return &domain.WeightProfile{Name: "default", Weights: defaults, Active: true}, nil
		}
		return nil, fmt.Errorf("failed to query active weight profile: %w", err)
	}

	if err := json.Unmarshal(weightsJSON, &p.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &p, nil
}

// SetActive validates, persists and activates the profile in one
// transaction, deactivating whichever profile was active before.
func (r *weightRepo) SetActive(ctx context.Context, p domain.WeightProfile) (*domain.WeightProfile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	weightsJSON, err := json.Marshal(p.Weights)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weights: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE weight_profiles SET active = FALSE WHERE active = TRUE`); err != nil {
		return nil, fmt.Errorf("failed to deactivate previous profile: %w", err)
	}

	name := p.Name
	if name == "" {
		name = "custom"
	}

	query := `
		INSERT INTO weight_profiles (name, weights, active, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		RETURNING id, updated_at`

	if err := tx.QueryRowxContext(ctx, query, name, weightsJSON).Scan(&p.ID, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert weight profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit weight profile: %w", err)
	}

	p.Name = name
	p.Active = true
	return &p, nil
}
