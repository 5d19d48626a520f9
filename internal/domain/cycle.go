package domain

import (
	"fmt"
	"math"
	"time"
)

// CycleDirection is the expected market reaction at an alignment.
type CycleDirection string

const (
	CycleBullish CycleDirection = "bullish"
	CycleBearish CycleDirection = "bearish"
	CycleUnknown CycleDirection = "unknown"
)

// CustomCycle is a named integer-day period anchored at a reference date. A
// date aligns when it falls within tolerance of any whole multiple of the
// period counted from the anchor.
type CustomCycle struct {
	ID            int64          `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	PeriodDays    int            `json:"period_days" db:"period_days"`
	AnchorDate    time.Time      `json:"anchor_date" db:"anchor_date"`
	ToleranceDays int            `json:"tolerance_days" db:"tolerance_days"`
	Direction     CycleDirection `json:"direction" db:"direction"`
	Hits          int64          `json:"hits" db:"hits"`
	Misses        int64          `json:"misses" db:"misses"`
	LastOutcomeAt *time.Time     `json:"last_outcome_at,omitempty" db:"last_outcome_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Validate checks structural constraints before persisting a cycle.
func (c CustomCycle) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cycle name required")
	}
	if c.PeriodDays < 2 {
		return fmt.Errorf("cycle period must be at least 2 days, got %d", c.PeriodDays)
	}
	if c.ToleranceDays < 0 || c.ToleranceDays >= c.PeriodDays/2 {
		return fmt.Errorf("tolerance %d out of range for period %d", c.ToleranceDays, c.PeriodDays)
	}
	return nil
}

// DaysSinceAnchor counts whole UTC days from the anchor to d.
func (c CustomCycle) DaysSinceAnchor(d time.Time) int {
	anchor := time.Date(c.AnchorDate.Year(), c.AnchorDate.Month(), c.AnchorDate.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(anchor).Hours() / 24)
}

// AlignsOn reports whether d falls within tolerance of a period multiple.
// Distance is measured to the nearer of 0 and period in modular arithmetic.
func (c CustomCycle) AlignsOn(d time.Time) bool {
	days := c.DaysSinceAnchor(d)
	if days < 0 || c.PeriodDays <= 0 {
		return false
	}
	rem := days % c.PeriodDays
	dist := int(math.Min(float64(rem), float64(c.PeriodDays-rem)))
	return dist <= c.ToleranceDays
}

// CycleNumber is which period multiple d is nearest to, for alert scoping.
func (c CustomCycle) CycleNumber(d time.Time) int {
	days := c.DaysSinceAnchor(d)
	if c.PeriodDays <= 0 {
		return 0
	}
	return (days + c.PeriodDays/2) / c.PeriodDays
}

// HitRate is hits/(hits+misses), or 0 before any outcome is recorded.
func (c CustomCycle) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}
