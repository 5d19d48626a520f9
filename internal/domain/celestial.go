package domain

import "time"

// Aspect is one angular relationship between two planets within orb.
type Aspect struct {
	Planet1     string  `json:"planet1"`
	Planet2     string  `json:"planet2"`
	Name        string  `json:"aspect"`
	ExactAngle  float64 `json:"exact_angle"`
	OrbDistance float64 `json:"orb_distance"`
}

// Ingress is one planet changing zodiac sign on a given day.
type Ingress struct {
	Planet   string `json:"planet"`
	FromSign string `json:"from_sign"`
	ToSign   string `json:"to_sign"`
}

// CelestialState is the full astronomical snapshot for one civil day, one row
// per day.
type CelestialState struct {
	Date               time.Time          `json:"date" db:"date"`
	LunarPhaseAngle    float64            `json:"lunar_phase_angle" db:"lunar_phase_angle"`
	LunarPhaseName     string             `json:"lunar_phase_name" db:"lunar_phase_name"`
	LunarIllumination  float64            `json:"lunar_illumination" db:"lunar_illumination"`
	DaysToNextNewMoon  float64            `json:"days_to_next_new_moon" db:"days_to_next_new_moon"`
	DaysToNextFullMoon float64            `json:"days_to_next_full_moon" db:"days_to_next_full_moon"`
	IsLunarEclipse     bool               `json:"is_lunar_eclipse" db:"is_lunar_eclipse"`
	IsSolarEclipse     bool               `json:"is_solar_eclipse" db:"is_solar_eclipse"`
	Retrogrades        map[string]bool    `json:"retrogrades" db:"retrogrades"`
	RetrogradeCount    int                `json:"retrograde_count" db:"retrograde_count"`
	Longitudes         map[string]float64 `json:"longitudes" db:"longitudes"`
	ActiveAspects      []Aspect           `json:"active_aspects" db:"active_aspects"`
	Ingresses          []Ingress          `json:"ingresses" db:"ingresses"`
	Score              float64            `json:"score" db:"score"`
	Degraded           bool               `json:"degraded" db:"degraded"`
}

// NumerologyDay is the calendrical scoring row for one civil day.
type NumerologyDay struct {
	Date            time.Time `json:"date" db:"date"`
	DigitSum        int       `json:"digit_sum" db:"digit_sum"`
	UniversalDay    int       `json:"universal_day" db:"universal_day"`
	IsMasterNumber  bool      `json:"is_master_number" db:"is_master_number"`
	AlignedCycleIDs []int64   `json:"aligned_cycle_ids,omitempty" db:"aligned_cycle_ids"`
	Score           float64   `json:"score" db:"score"`
	Degraded        bool      `json:"degraded" db:"degraded"`
}
