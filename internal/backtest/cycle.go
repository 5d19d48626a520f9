package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// CycleParams configures one cycle-significance run.
type CycleParams struct {
	Symbol        string    `json:"symbol"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	DrawdownPct   float64   `json:"drawdown_pct"`   // significance rule, default 10
	WindowHours   int       `json:"window_hours"`   // drawdown lookback, default 48
	PeriodDays    int       `json:"period_days"`    // hypothesis period to mark, 0 = none
	ToleranceDays int       `json:"tolerance_days"` // match tolerance, default 2
	BinDays       int       `json:"bin_days"`       // histogram bin width, default 7
}

func (p CycleParams) withDefaults() CycleParams {
	if p.DrawdownPct <= 0 {
		p.DrawdownPct = 10
	}
	if p.WindowHours <= 0 {
		p.WindowHours = 48
	}
	if p.ToleranceDays <= 0 {
		p.ToleranceDays = 2
	}
	if p.BinDays <= 0 {
		p.BinDays = 7
	}
	return p
}

// EventEnrichment is the celestial/numerology state at one event date.
type EventEnrichment struct {
	Date            time.Time `json:"date"`
	LunarPhase      string    `json:"lunar_phase,omitempty"`
	RetrogradeCount int       `json:"retrograde_count"`
	Eclipse         bool      `json:"eclipse"`
	UniversalDay    int       `json:"universal_day"`
	MasterNumber    bool      `json:"master_number"`
}

// IntervalBin is one histogram bucket of the interval distribution.
type IntervalBin struct {
	FromDays int `json:"from_days"`
	ToDays   int `json:"to_days"`
	Observed int `json:"observed"`
}

// CycleReport is the cycle backtester output.
type CycleReport struct {
	Params         CycleParams       `json:"params"`
	EventCount     int               `json:"event_count"`
	Events         []time.Time       `json:"events"`
	Intervals      []int             `json:"intervals"`
	PeriodMatches  int               `json:"period_matches"`
	Bins           []IntervalBin     `json:"observed_vs_expected"`
	ExpectedPerBin float64           `json:"expected_per_bin"`
	ChiSquared     float64           `json:"chi2"`
	PValue         float64           `json:"p"`
	Enrichments    []EventEnrichment `json:"enrichments"`
	MasterDates    int               `json:"master_date_events"`
	EclipseEvents  int               `json:"eclipse_events"`
}

// CycleBacktester validates periodicity hypotheses against archived candles.
type CycleBacktester struct {
	repos *persistence.Repository
}

// NewCycleBacktester creates the cycle backtester.
func NewCycleBacktester(repos *persistence.Repository) *CycleBacktester {
	return &CycleBacktester{repos: repos}
}

// Run detects significant drawdown events over the range, builds the interval
// distribution, tests it against a uniform null and enriches each event with
// the celestial and numerology state on its date.
func (b *CycleBacktester) Run(ctx context.Context, params CycleParams) (*CycleReport, error) {
	params = params.withDefaults()

	candles, err := b.repos.Candles.Range(ctx, params.Symbol, domain.TF1d, persistence.TimeRange{
		From: params.From, To: params.To,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily candles: %w", err)
	}
	if len(candles) < 30 {
		return nil, fmt.Errorf("need at least 30 daily candles, got %d", len(candles))
	}

	events := SignificantEvents(candles, params.DrawdownPct, time.Duration(params.WindowHours)*time.Hour)
	intervals := eventIntervals(events)

	report := &CycleReport{
		Params:     params,
		EventCount: len(events),
		Events:     events,
		Intervals:  intervals,
	}

	if params.PeriodDays > 0 {
		for _, iv := range intervals {
			if matchesPeriod(iv, params.PeriodDays, params.ToleranceDays) {
				report.PeriodMatches++
			}
		}
	}

	if len(intervals) >= 2 {
		report.Bins, report.ExpectedPerBin = binIntervals(intervals, params.BinDays)
		report.ChiSquared, report.PValue = chiSquaredUniform(report.Bins, report.ExpectedPerBin)
	}

	for _, event := range events {
		report.Enrichments = append(report.Enrichments, b.enrich(ctx, event))
	}
	for _, en := range report.Enrichments {
		if en.MasterNumber {
			report.MasterDates++
		}
		if en.Eclipse {
			report.EclipseEvents++
		}
	}

	log.Info().
		Str("symbol", params.Symbol).
		Int("events", report.EventCount).
		Float64("chi2", report.ChiSquared).
		Float64("p", report.PValue).
		Msg("Cycle backtest complete")
	return report, nil
}

// SignificantEvents returns the dates where the close fell at least
// drawdownPct below the rolling peak of the preceding window. The peak resets
// after each event so a long slide counts once.
func SignificantEvents(candles []domain.Candle, drawdownPct float64, window time.Duration) []time.Time {
	var events []time.Time
	threshold := 1 - drawdownPct/100

	start := 0      // first index still inside the trailing window
	lastEvent := -1 // peak search restarts after an event fires
	for i, c := range candles {
		for start < i && c.Timestamp.Sub(candles[start].Timestamp) > window {
			start++
		}
		lo := start
		if lastEvent >= lo {
			lo = lastEvent + 1
		}
		peak := 0.0
		for j := lo; j <= i; j++ {
			if candles[j].Close > peak {
				peak = candles[j].Close
			}
		}
		if peak > 0 && c.Close <= peak*threshold {
			events = append(events, c.Timestamp)
			lastEvent = i
		}
	}
	return events
}

func eventIntervals(events []time.Time) []int {
	var intervals []int
	for i := 1; i < len(events); i++ {
		days := int(math.Round(events[i].Sub(events[i-1]).Hours() / 24))
		intervals = append(intervals, days)
	}
	return intervals
}

// matchesPeriod reports whether the interval is within tolerance of any
// whole multiple of the period.
func matchesPeriod(interval, period, tolerance int) bool {
	if period <= 0 || interval <= 0 {
		return false
	}
	rem := interval % period
	dist := rem
	if period-rem < dist {
		dist = period - rem
	}
	return dist <= tolerance
}

// binIntervals histograms intervals into fixed-width bins spanning the
// observed range, with the uniform-null expectation per bin.
func binIntervals(intervals []int, binDays int) ([]IntervalBin, float64) {
	minIv, maxIv := intervals[0], intervals[0]
	for _, iv := range intervals {
		if iv < minIv {
			minIv = iv
		}
		if iv > maxIv {
			maxIv = iv
		}
	}

	binCount := (maxIv-minIv)/binDays + 1
	bins := make([]IntervalBin, binCount)
	for i := range bins {
		bins[i].FromDays = minIv + i*binDays
		bins[i].ToDays = minIv + (i+1)*binDays - 1
	}
	for _, iv := range intervals {
		bins[(iv-minIv)/binDays].Observed++
	}
	return bins, float64(len(intervals)) / float64(binCount)
}

// chiSquaredUniform tests the binned distribution against uniformity.
func chiSquaredUniform(bins []IntervalBin, expected float64) (chi2, p float64) {
	if len(bins) < 2 || expected <= 0 {
		return 0, 1
	}
	for _, bin := range bins {
		diff := float64(bin.Observed) - expected
		chi2 += diff * diff / expected
	}
	dist := distuv.ChiSquared{K: float64(len(bins) - 1)}
	return chi2, 1 - dist.CDF(chi2)
}

func (b *CycleBacktester) enrich(ctx context.Context, event time.Time) EventEnrichment {
	en := EventEnrichment{Date: event}
	if cs, err := b.repos.Celestial.GetByDate(ctx, event); err == nil {
		en.LunarPhase = cs.LunarPhaseName
		en.RetrogradeCount = cs.RetrogradeCount
		en.Eclipse = cs.IsSolarEclipse || cs.IsLunarEclipse
	}
	if nd, err := b.repos.Numerology.GetByDate(ctx, event); err == nil {
		en.UniversalDay = nd.UniversalDay
		en.MasterNumber = nd.IsMasterNumber
	}
	return en
}
