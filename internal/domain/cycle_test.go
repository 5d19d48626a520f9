package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCycleAlignsOn(t *testing.T) {
	cycle := CustomCycle{
		Name:          "47-day",
		PeriodDays:    47,
		AnchorDate:    day(2025, 10, 10),
		ToleranceDays: 2,
	}

	// Day 47 is the exact first multiple; 45 and 49 sit inside tolerance.
	assert.True(t, cycle.AlignsOn(day(2025, 11, 26)), "day 47")
	assert.True(t, cycle.AlignsOn(day(2025, 11, 24)), "day 45")
	assert.True(t, cycle.AlignsOn(day(2025, 11, 28)), "day 49")
	assert.False(t, cycle.AlignsOn(day(2025, 11, 29)), "day 50")
	assert.False(t, cycle.AlignsOn(day(2025, 11, 5)), "day 26")

	// Anchor day itself is multiple zero.
	assert.True(t, cycle.AlignsOn(day(2025, 10, 10)))
	// Dates before the anchor never align.
	assert.False(t, cycle.AlignsOn(day(2025, 10, 1)))
}

func TestCycleNumber(t *testing.T) {
	cycle := CustomCycle{PeriodDays: 47, AnchorDate: day(2025, 10, 10)}
	assert.Equal(t, 0, cycle.CycleNumber(day(2025, 10, 12)))
	assert.Equal(t, 1, cycle.CycleNumber(day(2025, 11, 26)))
	assert.Equal(t, 1, cycle.CycleNumber(day(2025, 11, 28)))
	assert.Equal(t, 2, cycle.CycleNumber(day(2026, 1, 12)))
}

func TestCycleValidate(t *testing.T) {
	valid := CustomCycle{Name: "weekly", PeriodDays: 7, ToleranceDays: 1, AnchorDate: day(2025, 1, 1)}
	assert.NoError(t, valid.Validate())

	assert.Error(t, CustomCycle{PeriodDays: 7}.Validate(), "missing name")
	assert.Error(t, CustomCycle{Name: "x", PeriodDays: 1}.Validate(), "period too short")
	assert.Error(t, CustomCycle{Name: "x", PeriodDays: 10, ToleranceDays: 5}.Validate(),
		"tolerance must stay below half the period")
}

func TestCycleHitRate(t *testing.T) {
	assert.Equal(t, 0.0, CustomCycle{}.HitRate())
	assert.Equal(t, 0.75, CustomCycle{Hits: 3, Misses: 1}.HitRate())
}
