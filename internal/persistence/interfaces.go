package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/astroquant/confluence/internal/domain"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// TimeRange is a closed time window for range queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.From) && !t.After(tr.To)
}

// CandleRepo stores OHLCV bars. Upserts are keyed (symbol, timeframe, ts) so
// re-ingestion and late corrections are idempotent.
type CandleRepo interface {
	Upsert(ctx context.Context, c domain.Candle) error
	UpsertBatch(ctx context.Context, candles []domain.Candle) error

	// Range returns candles in ascending ts order, at most limit rows;
	// limit zero means no cap.
	Range(ctx context.Context, symbol string, tf domain.Timeframe, tr TimeRange, limit int) ([]domain.Candle, error)

	// UpTo returns up to limit candles with ts <= at, ascending, for
	// indicator warm-up windows ahead of a scoring instant.
	UpTo(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time, limit int) ([]domain.Candle, error)

	Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.Candle, error)
	Count(ctx context.Context, symbol string, tf domain.Timeframe, tr TimeRange) (int64, error)
}

// LayerScoreRepo stores the uniform per-layer score rows read by the
// confluence engine. Global layers store empty symbol/timeframe.
type LayerScoreRepo interface {
	Upsert(ctx context.Context, s domain.LayerScore) error

	// LatestBefore returns the newest row with ts <= at for the key, or
	// ErrNotFound.
	LatestBefore(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error)

	Range(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr TimeRange) ([]domain.LayerScore, error)
	Count(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr TimeRange) (int64, error)
}

// CelestialRepo stores one astronomical state row per civil day.
type CelestialRepo interface {
	Upsert(ctx context.Context, s domain.CelestialState) error
	GetByDate(ctx context.Context, date time.Time) (*domain.CelestialState, error)
	Latest(ctx context.Context) (*domain.CelestialState, error)
	Range(ctx context.Context, tr TimeRange) ([]domain.CelestialState, error)
}

// NumerologyRepo stores one numerology row per civil day.
type NumerologyRepo interface {
	Upsert(ctx context.Context, d domain.NumerologyDay) error
	GetByDate(ctx context.Context, date time.Time) (*domain.NumerologyDay, error)
	Latest(ctx context.Context) (*domain.NumerologyDay, error)
}

// OnChainRepo stores raw chain metric rows per symbol.
type OnChainRepo interface {
	Upsert(ctx context.Context, m domain.OnChainMetrics) error
	LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.OnChainMetrics, error)
	Latest(ctx context.Context, symbol string) (*domain.OnChainMetrics, error)
}

// SentimentRepo stores fear & greed observations per symbol.
type SentimentRepo interface {
	Upsert(ctx context.Context, s domain.SentimentRow) error
	LatestBefore(ctx context.Context, symbol string, at time.Time) (*domain.SentimentRow, error)
	Latest(ctx context.Context, symbol string) (*domain.SentimentRow, error)
}

// PoliticalRepo stores calendar events, classified news and computed
// political score rows.
type PoliticalRepo interface {
	UpsertEvent(ctx context.Context, e domain.PoliticalEvent) error
	ListEventsBetween(ctx context.Context, tr TimeRange) ([]domain.PoliticalEvent, error)

	// InsertNews ignores duplicates on (ts, source, headline_hash).
	InsertNews(ctx context.Context, n domain.NewsItem) error
	ListNewsSince(ctx context.Context, since time.Time, until time.Time) ([]domain.NewsItem, error)

	UpsertScore(ctx context.Context, s domain.PoliticalScore) error
	LatestScore(ctx context.Context) (*domain.PoliticalScore, error)
	ScoreBefore(ctx context.Context, at time.Time) (*domain.PoliticalScore, error)
}

// MacroRepo stores raw macro series observations and computed macro rows.
type MacroRepo interface {
	UpsertObservation(ctx context.Context, o domain.MacroObservation) error
	SeriesRange(ctx context.Context, series domain.MacroSeries, tr TimeRange) ([]domain.MacroObservation, error)
	LatestObservation(ctx context.Context, series domain.MacroSeries) (*domain.MacroObservation, error)

	UpsertScore(ctx context.Context, s domain.MacroScore) error
	LatestScore(ctx context.Context) (*domain.MacroScore, error)
}

// CompositeRepo stores fused composite rows and the per-pair alert cursor.
type CompositeRepo interface {
	Upsert(ctx context.Context, c domain.CompositeScore) error
	LatestBefore(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time) (*domain.CompositeScore, error)
	Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeScore, error)
	Range(ctx context.Context, symbol string, tf domain.Timeframe, tr TimeRange) ([]domain.CompositeScore, error)

	GetCursor(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeCursor, error)
	PutCursor(ctx context.Context, cur domain.CompositeCursor) error
}

// AlertRepo stores alerts with idempotency-key suppression.
type AlertRepo interface {
	// InsertIfAbsent inserts the alert unless an active alert with the same
	// idempotency key already exists. Reports whether a row was written.
	InsertIfAbsent(ctx context.Context, a domain.Alert) (bool, error)

	Get(ctx context.Context, id string) (*domain.Alert, error)
	ListByStatus(ctx context.Context, status domain.AlertStatus, limit int) ([]domain.Alert, error)
	UpdateStatus(ctx context.Context, id string, status domain.AlertStatus) error
	CountSince(ctx context.Context, kind domain.AlertKind, since time.Time) (int64, error)
}

// CycleRepo stores user-defined cycles and their outcome counters.
type CycleRepo interface {
	Insert(ctx context.Context, c domain.CustomCycle) (int64, error)
	Get(ctx context.Context, id int64) (*domain.CustomCycle, error)
	List(ctx context.Context) ([]domain.CustomCycle, error)

	// RecordOutcome bumps the hit or miss counter for the given alignment
	// occurrence. Counters only increase; an occurrence at or behind the
	// cycle's outcome watermark is ignored.
	RecordOutcome(ctx context.Context, id int64, hit bool, occurrence time.Time) error
}

// WeightRepo stores weight profiles; exactly one is active at a time.
type WeightRepo interface {
	Active(ctx context.Context) (*domain.WeightProfile, error)

	// SetActive validates, persists and activates the profile, deactivating
	// the previous one in the same transaction.
	SetActive(ctx context.Context, p domain.WeightProfile) (*domain.WeightProfile, error)
}

// LeaseRepo is the cross-process mutex primitive backing the scheduler.
type LeaseRepo interface {
	// Acquire takes the named lease if it is free or expired. Reports
	// whether this owner now holds it.
	Acquire(ctx context.Context, jobName, ownerID string, ttl time.Duration) (bool, error)

	// Renew extends a held lease; fails if the owner lost it.
	Renew(ctx context.Context, jobName, ownerID string, ttl time.Duration) error

	// Release frees the lease if this owner still holds it.
	Release(ctx context.Context, jobName, ownerID string) error
}

// BacktestRepo stores backtest run reports for later retrieval.
type BacktestRepo interface {
	InsertResult(ctx context.Context, id string, kind string, report interface{}) error
	GetResult(ctx context.Context, id string) (kind string, report []byte, err error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Candles    CandleRepo
	Layers     LayerScoreRepo
	Celestial  CelestialRepo
	Numerology NumerologyRepo
	OnChain    OnChainRepo
	Sentiment  SentimentRepo
	Political  PoliticalRepo
	Macro      MacroRepo
	Composites CompositeRepo
	Alerts     AlertRepo
	Cycles     CycleRepo
	Weights    WeightRepo
	Leases     LeaseRepo
	Backtests  BacktestRepo
}
