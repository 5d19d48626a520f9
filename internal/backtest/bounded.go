// Package backtest replays the producers and the confluence engine over
// archived inputs: a cycle-significance mode and a signal-simulation mode.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// errReadOnly guards raw-input tables against writes during a replay.
var errReadOnly = errors.New("backtest store is read-only for raw inputs")

// clock returns the walker's current instant.
type clock func() time.Time

// NewBoundedRepository builds a replay view of the store. Reads see only rows
// strictly before the walker's instant; computed-row writes land in an
// in-memory overlay that later reads merge in, so a replay is hermetic.
// The active weight profile is fixed to the given profile.
func NewBoundedRepository(base *persistence.Repository, now clock, profile *domain.WeightProfile) *persistence.Repository {
	ov := &overlay{
		layers:     make(map[string][]domain.LayerScore),
		composites: make(map[string][]domain.CompositeScore),
		cursors:    make(map[string]domain.CompositeCursor),
		celestial:  make(map[string]domain.CelestialState),
		numerology: make(map[string]domain.NumerologyDay),
	}
	return &persistence.Repository{
		Candles:    &boundedCandles{base: base.Candles, now: now},
		Layers:     &overlayLayers{base: base.Layers, now: now, ov: ov},
		Celestial:  &overlayCelestial{base: base.Celestial, now: now, ov: ov},
		Numerology: &overlayNumerology{base: base.Numerology, now: now, ov: ov},
		OnChain:    &boundedOnChain{base: base.OnChain, now: now},
		Sentiment:  &boundedSentiment{base: base.Sentiment, now: now},
		Political:  &overlayPolitical{base: base.Political, now: now, ov: ov},
		Macro:      &overlayMacro{base: base.Macro, now: now, ov: ov},
		Composites: &overlayComposites{now: now, ov: ov},
		Cycles:     &boundedCycles{base: base.Cycles},
		Weights:    fixedWeights{profile: profile},
		Alerts:     base.Alerts,
		Leases:     base.Leases,
		Backtests:  base.Backtests,
	}
}

// overlay is the in-memory sink for computed rows written during a replay.
type overlay struct {
	mu         sync.RWMutex
	layers     map[string][]domain.LayerScore
	composites map[string][]domain.CompositeScore
	cursors    map[string]domain.CompositeCursor
	celestial  map[string]domain.CelestialState
	numerology map[string]domain.NumerologyDay
	political  []domain.PoliticalScore
	macro      []domain.MacroScore
}

func layerKey(layer domain.Layer, symbol string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s|%s|%s", layer, symbol, tf)
}

func pairKey(symbol string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// upsertSorted replaces the same-timestamp element or inserts in ts order.
func upsertSorted[T any](rows []T, ts func(T) time.Time, row T) []T {
	at := ts(row)
	i := sort.Search(len(rows), func(i int) bool { return !ts(rows[i]).Before(at) })
	if i < len(rows) && ts(rows[i]).Equal(at) {
		rows[i] = row
		return rows
	}
	rows = append(rows, row)
	copy(rows[i+1:], rows[i:])
	rows[i] = row
	return rows
}

// newestBefore returns the last element with ts < cutoff and ts <= at.
func newestBefore[T any](rows []T, ts func(T) time.Time, at, cutoff time.Time) (T, bool) {
	var zero T
	for i := len(rows) - 1; i >= 0; i-- {
		t := ts(rows[i])
		if t.Before(cutoff) && !t.After(at) {
			return rows[i], true
		}
	}
	return zero, false
}

// ---- candles (read-only, clamped) ----

type boundedCandles struct {
	base persistence.CandleRepo
	now  clock
}

func (r *boundedCandles) Upsert(context.Context, domain.Candle) error        { return errReadOnly }
func (r *boundedCandles) UpsertBatch(context.Context, []domain.Candle) error { return errReadOnly }

func (r *boundedCandles) Range(ctx context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange, limit int) ([]domain.Candle, error) {
	rows, err := r.base.Range(ctx, symbol, tf, tr, limit)
	return clampRows(rows, func(c domain.Candle) time.Time { return c.Timestamp }, r.now()), err
}

func (r *boundedCandles) UpTo(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time, limit int) ([]domain.Candle, error) {
	if cutoff := r.now(); at.After(cutoff) || at.Equal(cutoff) {
		at = cutoff.Add(-time.Nanosecond)
	}
	return r.base.UpTo(ctx, symbol, tf, at, limit)
}

func (r *boundedCandles) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.Candle, error) {
	rows, err := r.UpTo(ctx, symbol, tf, r.now(), 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &rows[0], nil
}

func (r *boundedCandles) Count(ctx context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	if cutoff := r.now(); tr.To.After(cutoff) || tr.To.Equal(cutoff) {
		tr.To = cutoff.Add(-time.Nanosecond)
	}
	return r.base.Count(ctx, symbol, tf, tr)
}

func clampRows[T any](rows []T, ts func(T) time.Time, cutoff time.Time) []T {
	out := rows[:0]
	for _, row := range rows {
		if ts(row).Before(cutoff) {
			out = append(out, row)
		}
	}
	return out
}

// ---- layer scores (overlay) ----

type overlayLayers struct {
	base persistence.LayerScoreRepo
	now  clock
	ov   *overlay
}

func (r *overlayLayers) Upsert(_ context.Context, s domain.LayerScore) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	key := layerKey(s.Layer, s.Symbol, s.Timeframe)
	r.ov.layers[key] = upsertSorted(r.ov.layers[key], func(v domain.LayerScore) time.Time { return v.Timestamp }, s)
	return nil
}

func (r *overlayLayers) LatestBefore(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error) {
	cutoff := r.now()

	r.ov.mu.RLock()
	mem, memOK := newestBefore(r.ov.layers[layerKey(layer, symbol, tf)],
		func(v domain.LayerScore) time.Time { return v.Timestamp }, at, cutoff)
	r.ov.mu.RUnlock()

	boundedAt := at
	if boundedAt.After(cutoff) || boundedAt.Equal(cutoff) {
		boundedAt = cutoff.Add(-time.Nanosecond)
	}
	stored, err := r.base.LatestBefore(ctx, layer, symbol, tf, boundedAt)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	switch {
	case memOK && stored != nil:
		if stored.Timestamp.After(mem.Timestamp) {
			return stored, nil
		}
		return &mem, nil
	case memOK:
		return &mem, nil
	case stored != nil:
		return stored, nil
	default:
		return nil, persistence.ErrNotFound
	}
}

func (r *overlayLayers) Range(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.LayerScore, error) {
	cutoff := r.now()
	rows, err := r.base.Range(ctx, layer, symbol, tf, tr)
	if err != nil {
		return nil, err
	}
	rows = clampRows(rows, func(v domain.LayerScore) time.Time { return v.Timestamp }, cutoff)

	r.ov.mu.RLock()
	for _, row := range r.ov.layers[layerKey(layer, symbol, tf)] {
		if tr.Contains(row.Timestamp) && row.Timestamp.Before(cutoff) {
			rows = upsertSorted(rows, func(v domain.LayerScore) time.Time { return v.Timestamp }, row)
		}
	}
	r.ov.mu.RUnlock()
	return rows, nil
}

func (r *overlayLayers) Count(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	rows, err := r.Range(ctx, layer, symbol, tf, tr)
	return int64(len(rows)), err
}

// ---- celestial / numerology (overlay by day) ----

type overlayCelestial struct {
	base persistence.CelestialRepo
	now  clock
	ov   *overlay
}

func (r *overlayCelestial) Upsert(_ context.Context, s domain.CelestialState) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	r.ov.celestial[dayKey(s.Date)] = s
	return nil
}

func (r *overlayCelestial) GetByDate(ctx context.Context, date time.Time) (*domain.CelestialState, error) {
	r.ov.mu.RLock()
	s, ok := r.ov.celestial[dayKey(date)]
	r.ov.mu.RUnlock()
	if ok {
		return &s, nil
	}
	if !date.Before(r.now()) {
		return nil, persistence.ErrNotFound
	}
	return r.base.GetByDate(ctx, date)
}

func (r *overlayCelestial) Latest(ctx context.Context) (*domain.CelestialState, error) {
	states, err := r.Range(ctx, persistence.TimeRange{From: r.now().AddDate(0, 0, -7), To: r.now()})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &states[len(states)-1], nil
}

func (r *overlayCelestial) Range(ctx context.Context, tr persistence.TimeRange) ([]domain.CelestialState, error) {
	cutoff := r.now()
	rows, err := r.base.Range(ctx, tr)
	if err != nil {
		return nil, err
	}
	rows = clampRows(rows, func(v domain.CelestialState) time.Time { return v.Date }, cutoff)

	r.ov.mu.RLock()
	for _, row := range r.ov.celestial {
		if tr.Contains(row.Date) && row.Date.Before(cutoff) {
			rows = upsertSorted(rows, func(v domain.CelestialState) time.Time { return v.Date }, row)
		}
	}
	r.ov.mu.RUnlock()
	return rows, nil
}

type overlayNumerology struct {
	base persistence.NumerologyRepo
	now  clock
	ov   *overlay
}

func (r *overlayNumerology) Upsert(_ context.Context, d domain.NumerologyDay) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	r.ov.numerology[dayKey(d.Date)] = d
	return nil
}

func (r *overlayNumerology) GetByDate(ctx context.Context, date time.Time) (*domain.NumerologyDay, error) {
	r.ov.mu.RLock()
	d, ok := r.ov.numerology[dayKey(date)]
	r.ov.mu.RUnlock()
	if ok {
		return &d, nil
	}
	if !date.Before(r.now()) {
		return nil, persistence.ErrNotFound
	}
	return r.base.GetByDate(ctx, date)
}

func (r *overlayNumerology) Latest(ctx context.Context) (*domain.NumerologyDay, error) {
	for offset := 0; offset < 7; offset++ {
		d, err := r.GetByDate(ctx, r.now().AddDate(0, 0, -offset))
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
	}
	return nil, persistence.ErrNotFound
}

// ---- on-chain / sentiment (read-only, clamped) ----

type boundedOnChain struct {
	base persistence.OnChainRepo
	now  clock
}

func (r *boundedOnChain) Upsert(context.Context, domain.OnChainMetrics) error { return errReadOnly }

func (r *boundedOnChain) LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.OnChainMetrics, error) {
	if cutoff := r.now(); at.After(cutoff) || at.Equal(cutoff) {
		at = cutoff.Add(-time.Nanosecond)
	}
	return r.base.LatestBefore(ctx, symbol, at)
}

func (r *boundedOnChain) Latest(ctx context.Context, symbol string) (*domain.OnChainMetrics, error) {
	return r.LatestBefore(ctx, symbol, r.now())
}

type boundedSentiment struct {
	base persistence.SentimentRepo
	now  clock
}

func (r *boundedSentiment) Upsert(context.Context, domain.SentimentRow) error { return errReadOnly }

func (r *boundedSentiment) LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.SentimentRow, error) {
	if cutoff := r.now(); at.After(cutoff) || at.Equal(cutoff) {
		at = cutoff.Add(-time.Nanosecond)
	}
	return r.base.LatestBefore(ctx, symbol, at)
}

func (r *boundedSentiment) Latest(ctx context.Context, symbol string) (*domain.SentimentRow, error) {
	return r.LatestBefore(ctx, symbol, r.now())
}

// ---- political (raw reads clamped, score writes overlaid) ----

type overlayPolitical struct {
	base persistence.PoliticalRepo
	now  clock
	ov   *overlay
}

func (r *overlayPolitical) UpsertEvent(context.Context, domain.PoliticalEvent) error {
	return errReadOnly
}

// ListEventsBetween is deliberately not clamped: the calendar is known in
// advance, so looking at scheduled future events is not lookahead.
func (r *overlayPolitical) ListEventsBetween(ctx context.Context, tr persistence.TimeRange) ([]domain.PoliticalEvent, error) {
	return r.base.ListEventsBetween(ctx, tr)
}

func (r *overlayPolitical) InsertNews(context.Context, domain.NewsItem) error { return errReadOnly }

func (r *overlayPolitical) ListNewsSince(ctx context.Context, since, until time.Time) ([]domain.NewsItem, error) {
	if cutoff := r.now(); until.After(cutoff) || until.Equal(cutoff) {
		until = cutoff.Add(-time.Nanosecond)
	}
	return r.base.ListNewsSince(ctx, since, until)
}

func (r *overlayPolitical) UpsertScore(_ context.Context, s domain.PoliticalScore) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	r.ov.political = upsertSorted(r.ov.political, func(v domain.PoliticalScore) time.Time { return v.Timestamp }, s)
	return nil
}

func (r *overlayPolitical) LatestScore(ctx context.Context) (*domain.PoliticalScore, error) {
	return r.ScoreBefore(ctx, r.now())
}

func (r *overlayPolitical) ScoreBefore(ctx context.Context, at time.Time) (*domain.PoliticalScore, error) {
	cutoff := r.now()
	r.ov.mu.RLock()
	mem, ok := newestBefore(r.ov.political, func(v domain.PoliticalScore) time.Time { return v.Timestamp }, at, cutoff)
	r.ov.mu.RUnlock()
	if ok {
		return &mem, nil
	}
	if at.After(cutoff) || at.Equal(cutoff) {
		at = cutoff.Add(-time.Nanosecond)
	}
	return r.base.ScoreBefore(ctx, at)
}

// ---- macro (raw reads clamped, score writes overlaid) ----

type overlayMacro struct {
	base persistence.MacroRepo
	now  clock
	ov   *overlay
}

func (r *overlayMacro) UpsertObservation(context.Context, domain.MacroObservation) error {
	return errReadOnly
}

func (r *overlayMacro) SeriesRange(ctx context.Context, series domain.MacroSeries, tr persistence.TimeRange) ([]domain.MacroObservation, error) {
	rows, err := r.base.SeriesRange(ctx, series, tr)
	return clampRows(rows, func(o domain.MacroObservation) time.Time { return o.Timestamp }, r.now()), err
}

func (r *overlayMacro) LatestObservation(ctx context.Context, series domain.MacroSeries) (*domain.MacroObservation, error) {
	rows, err := r.SeriesRange(ctx, series, persistence.TimeRange{From: r.now().AddDate(-1, 0, 0), To: r.now()})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &rows[len(rows)-1], nil
}

func (r *overlayMacro) UpsertScore(_ context.Context, s domain.MacroScore) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	r.ov.macro = upsertSorted(r.ov.macro, func(v domain.MacroScore) time.Time { return v.Timestamp }, s)
	return nil
}

func (r *overlayMacro) LatestScore(context.Context) (*domain.MacroScore, error) {
	cutoff := r.now()
	r.ov.mu.RLock()
	defer r.ov.mu.RUnlock()
	mem, ok := newestBefore(r.ov.macro, func(v domain.MacroScore) time.Time { return v.Timestamp }, cutoff, cutoff)
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &mem, nil
}

// ---- composites (fully overlaid; replays never read live composites) ----

type overlayComposites struct {
	now clock
	ov  *overlay
}

func (r *overlayComposites) Upsert(_ context.Context, c domain.CompositeScore) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	key := pairKey(c.Symbol, c.Timeframe)
	r.ov.composites[key] = upsertSorted(r.ov.composites[key], func(v domain.CompositeScore) time.Time { return v.Timestamp }, c)
	return nil
}

func (r *overlayComposites) LatestBefore(_ context.Context, symbol string, tf domain.Timeframe, at time.Time) (*domain.CompositeScore, error) {
	r.ov.mu.RLock()
	defer r.ov.mu.RUnlock()
	mem, ok := newestBefore(r.ov.composites[pairKey(symbol, tf)],
		func(v domain.CompositeScore) time.Time { return v.Timestamp }, at, r.now())
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &mem, nil
}

func (r *overlayComposites) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeScore, error) {
	return r.LatestBefore(ctx, symbol, tf, r.now())
}

func (r *overlayComposites) Range(_ context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.CompositeScore, error) {
	cutoff := r.now()
	r.ov.mu.RLock()
	defer r.ov.mu.RUnlock()
	var out []domain.CompositeScore
	for _, row := range r.ov.composites[pairKey(symbol, tf)] {
		if tr.Contains(row.Timestamp) && row.Timestamp.Before(cutoff) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *overlayComposites) GetCursor(_ context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeCursor, error) {
	r.ov.mu.RLock()
	defer r.ov.mu.RUnlock()
	cur, ok := r.ov.cursors[pairKey(symbol, tf)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &cur, nil
}

func (r *overlayComposites) PutCursor(_ context.Context, cur domain.CompositeCursor) error {
	r.ov.mu.Lock()
	defer r.ov.mu.Unlock()
	r.ov.cursors[pairKey(cur.Symbol, cur.Timeframe)] = cur
	return nil
}

// ---- cycles (reads pass through, outcomes ignored) ----

type boundedCycles struct {
	base persistence.CycleRepo
}

func (r *boundedCycles) Insert(context.Context, domain.CustomCycle) (int64, error) {
	return 0, errReadOnly
}

func (r *boundedCycles) Get(ctx context.Context, id int64) (*domain.CustomCycle, error) {
	return r.base.Get(ctx, id)
}

func (r *boundedCycles) List(ctx context.Context) ([]domain.CustomCycle, error) {
	return r.base.List(ctx)
}

func (r *boundedCycles) RecordOutcome(context.Context, int64, bool, time.Time) error { return nil }

// ---- weights (fixed candidate profile) ----

type fixedWeights struct {
	profile *domain.WeightProfile
}

func (w fixedWeights) Active(context.Context) (*domain.WeightProfile, error) {
	return w.profile, nil
}

func (w fixedWeights) SetActive(context.Context, domain.WeightProfile) (*domain.WeightProfile, error) {
	return nil, errReadOnly
}
