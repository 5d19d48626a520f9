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

// celestialRepo implements CelestialRepo for PostgreSQL. One row per civil
// day; re-computation replaces the row.
type celestialRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCelestialRepo creates a PostgreSQL celestial state repository.
func NewCelestialRepo(db *sqlx.DB, timeout time.Duration) persistence.CelestialRepo {
	return &celestialRepo{db: db, timeout: timeout}
}

func (r *celestialRepo) Upsert(ctx context.Context, s domain.CelestialState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	retroJSON, err := json.Marshal(s.Retrogrades)
	if err != nil {
		return fmt.Errorf("failed to marshal retrogrades: %w", err)
	}
	lonJSON, err := json.Marshal(s.Longitudes)
	if err != nil {
		return fmt.Errorf("failed to marshal longitudes: %w", err)
	}
	aspectsJSON, err := json.Marshal(s.ActiveAspects)
	if err != nil {
		return fmt.Errorf("failed to marshal aspects: %w", err)
	}
	ingressJSON, err := json.Marshal(s.Ingresses)
	if err != nil {
		return fmt.Errorf("failed to marshal ingresses: %w", err)
	}

	query := `
		INSERT INTO celestial_state (
			date, lunar_phase_angle, lunar_phase_name, lunar_illumination,
			days_to_next_new_moon, days_to_next_full_moon,
			is_lunar_eclipse, is_solar_eclipse,
			retrogrades, retrograde_count, longitudes,
			active_aspects, ingresses, score, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (date) DO UPDATE SET
			lunar_phase_angle = EXCLUDED.lunar_phase_angle,
			lunar_phase_name = EXCLUDED.lunar_phase_name,
			lunar_illumination = EXCLUDED.lunar_illumination,
			days_to_next_new_moon = EXCLUDED.days_to_next_new_moon,
			days_to_next_full_moon = EXCLUDED.days_to_next_full_moon,
			is_lunar_eclipse = EXCLUDED.is_lunar_eclipse,
			is_solar_eclipse = EXCLUDED.is_solar_eclipse,
			retrogrades = EXCLUDED.retrogrades,
			retrograde_count = EXCLUDED.retrograde_count,
			longitudes = EXCLUDED.longitudes,
			active_aspects = EXCLUDED.active_aspects,
			ingresses = EXCLUDED.ingresses,
			score = EXCLUDED.score,
			degraded = EXCLUDED.degraded`

	_, err = r.db.ExecContext(ctx, query,
		s.Date.UTC().Truncate(24*time.Hour),
		s.LunarPhaseAngle, s.LunarPhaseName, s.LunarIllumination,
		s.DaysToNextNewMoon, s.DaysToNextFullMoon,
		s.IsLunarEclipse, s.IsSolarEclipse,
		retroJSON, s.RetrogradeCount, lonJSON,
		aspectsJSON, ingressJSON, domain.ClampScore(s.Score), s.Degraded)
	if err != nil {
		return fmt.Errorf("failed to upsert celestial state: %w", err)
	}
	return nil
}

const celestialColumns = `
	date, lunar_phase_angle, lunar_phase_name, lunar_illumination,
	days_to_next_new_moon, days_to_next_full_moon,
	is_lunar_eclipse, is_solar_eclipse,
	retrogrades, retrograde_count, longitudes,
	active_aspects, ingresses, score, degraded`

func (r *celestialRepo) GetByDate(ctx context.Context, date time.Time) (*domain.CelestialState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + celestialColumns + ` FROM celestial_state WHERE date = $1`
	row := r.db.QueryRowxContext(ctx, query, date.UTC().Truncate(24*time.Hour))
	return scanCelestial(row)
}

func (r *celestialRepo) Latest(ctx context.Context) (*domain.CelestialState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + celestialColumns + ` FROM celestial_state ORDER BY date DESC LIMIT 1`
	row := r.db.QueryRowxContext(ctx, query)
	return scanCelestial(row)
}

func (r *celestialRepo) Range(ctx context.Context, tr persistence.TimeRange) ([]domain.CelestialState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + celestialColumns + ` FROM celestial_state WHERE date >= $1 AND date <= $2 ORDER BY date ASC`
	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query celestial range: %w", err)
	}
	defer rows.Close()

	var states []domain.CelestialState
	for rows.Next() {
		s, err := scanCelestial(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating celestial rows: %w", err)
	}
	return states, nil
}

func scanCelestial(row rowScanner) (*domain.CelestialState, error) {
	var s domain.CelestialState
	var retroJSON, lonJSON, aspectsJSON, ingressJSON []byte

	err := row.Scan(
		&s.Date, &s.LunarPhaseAngle, &s.LunarPhaseName, &s.LunarIllumination,
		&s.DaysToNextNewMoon, &s.DaysToNextFullMoon,
		&s.IsLunarEclipse, &s.IsSolarEclipse,
		&retroJSON, &s.RetrogradeCount, &lonJSON,
		&aspectsJSON, &ingressJSON, &s.Score, &s.Degraded)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan celestial state: %w", err)
	}

	if err := unmarshalInto(retroJSON, &s.Retrogrades); err != nil {
		return nil, err
	}
	if err := unmarshalInto(lonJSON, &s.Longitudes); err != nil {
		return nil, err
	}
	if err := unmarshalInto(aspectsJSON, &s.ActiveAspects); err != nil {
		return nil, err
	}
	if err := unmarshalInto(ingressJSON, &s.Ingresses); err != nil {
		return nil, err
	}
	return &s, nil
}

func unmarshalInto(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}
	return nil
}

// numerologyRepo implements NumerologyRepo for PostgreSQL.
type numerologyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNumerologyRepo creates a PostgreSQL numerology repository.
func NewNumerologyRepo(db *sqlx.DB, timeout time.Duration) persistence.NumerologyRepo {
	return &numerologyRepo{db: db, timeout: timeout}
}

func (r *numerologyRepo) Upsert(ctx context.Context, d domain.NumerologyDay) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO numerology_days (date, digit_sum, universal_day, is_master_number, aligned_cycle_ids, score, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (date) DO UPDATE SET
			digit_sum = EXCLUDED.digit_sum,
			universal_day = EXCLUDED.universal_day,
			is_master_number = EXCLUDED.is_master_number,
			aligned_cycle_ids = EXCLUDED.aligned_cycle_ids,
			score = EXCLUDED.score,
			degraded = EXCLUDED.degraded`

	_, err := r.db.ExecContext(ctx, query,
		d.Date.UTC().Truncate(24*time.Hour),
		d.DigitSum, d.UniversalDay, d.IsMasterNumber,
		pq.Array(d.AlignedCycleIDs), domain.ClampScore(d.Score), d.Degraded)
	if err != nil {
		return fmt.Errorf("failed to upsert numerology day: %w", err)
	}
	return nil
}

func (r *numerologyRepo) GetByDate(ctx context.Context, date time.Time) (*domain.NumerologyDay, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT date, digit_sum, universal_day, is_master_number, aligned_cycle_ids, score, degraded
		FROM numerology_days
		WHERE date = $1`

	return scanNumerology(r.db.QueryRowxContext(ctx, query, date.UTC().Truncate(24*time.Hour)))
}

func (r *numerologyRepo) Latest(ctx context.Context) (*domain.NumerologyDay, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT date, digit_sum, universal_day, is_master_number, aligned_cycle_ids, score, degraded
		FROM numerology_days
		ORDER BY date DESC
		LIMIT 1`

	return scanNumerology(r.db.QueryRowxContext(ctx, query))
}

func scanNumerology(row rowScanner) (*domain.NumerologyDay, error) {
	var d domain.NumerologyDay
	var ids pq.Int64Array

	err := row.Scan(&d.Date, &d.DigitSum, &d.UniversalDay, &d.IsMasterNumber, &ids, &d.Score, &d.Degraded)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan numerology day: %w", err)
	}
	d.AlignedCycleIDs = []int64(ids)
	return &d, nil
}
