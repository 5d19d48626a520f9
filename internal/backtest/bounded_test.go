package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// fakeCandleStore is a minimal archive: rows are kept sorted by timestamp.
type fakeCandleStore struct {
	rows []domain.Candle
}

func (f *fakeCandleStore) Upsert(_ context.Context, c domain.Candle) error {
	f.rows = append(f.rows, c)
	return nil
}

func (f *fakeCandleStore) UpsertBatch(ctx context.Context, cs []domain.Candle) error {
	for _, c := range cs {
		if err := f.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCandleStore) Range(_ context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange, limit int) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.rows {
		if c.Symbol == symbol && c.Timeframe == tf && tr.Contains(c.Timestamp) {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCandleStore) UpTo(_ context.Context, symbol string, tf domain.Timeframe, at time.Time, limit int) ([]domain.Candle, error) {
	var out []domain.Candle
	for i := len(f.rows) - 1; i >= 0; i-- {
		c := f.rows[i]
		if c.Symbol == symbol && c.Timeframe == tf && !c.Timestamp.After(at) {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCandleStore) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.Candle, error) {
	rows, err := f.UpTo(ctx, symbol, tf, time.Now().UTC().AddDate(1, 0, 0), 1)
	if err != nil || len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &rows[0], nil
}

func (f *fakeCandleStore) Count(_ context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	var n int64
	for _, c := range f.rows {
		if c.Symbol == symbol && c.Timeframe == tf && tr.Contains(c.Timestamp) {
			n++
		}
	}
	return n, nil
}

// fakeLayerStore mirrors the archived layer-score table.
type fakeLayerStore struct {
	rows []domain.LayerScore
}

func (f *fakeLayerStore) Upsert(_ context.Context, s domain.LayerScore) error {
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeLayerStore) LatestBefore(_ context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error) {
	var best *domain.LayerScore
	for i := range f.rows {
		r := &f.rows[i]
		if r.Layer == layer && r.Symbol == symbol && r.Timeframe == tf && !r.Timestamp.After(at) {
			if best == nil || r.Timestamp.After(best.Timestamp) {
				best = r
			}
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	return best, nil
}

func (f *fakeLayerStore) Range(_ context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.LayerScore, error) {
	var out []domain.LayerScore
	for _, r := range f.rows {
		if r.Layer == layer && r.Symbol == symbol && r.Timeframe == tf && tr.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLayerStore) Count(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	rows, _ := f.Range(ctx, layer, symbol, tf, tr)
	return int64(len(rows)), nil
}

func fixedClock(at time.Time) clock {
	return func() time.Time { return at }
}

func boundedFixture(cutoff time.Time) (*persistence.Repository, *fakeCandleStore, *fakeLayerStore) {
	candles := &fakeCandleStore{}
	layerStore := &fakeLayerStore{}
	base := &persistence.Repository{Candles: candles, Layers: layerStore}
	profile := &domain.WeightProfile{Name: "candidate", Weights: domain.DefaultWeights, Active: true}
	return NewBoundedRepository(base, fixedClock(cutoff), profile), candles, layerStore
}

func hourlyCandle(at time.Time, close float64) domain.Candle {
	return domain.Candle{Symbol: "BTC/USDT", Timeframe: domain.TF1h, Timestamp: at, Close: close}
}

func TestBoundedCandlesRejectWrites(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, _, _ := boundedFixture(cutoff)
	ctx := context.Background()

	err := repos.Candles.Upsert(ctx, hourlyCandle(cutoff.Add(-time.Hour), 100))
	assert.ErrorIs(t, err, errReadOnly)
	err = repos.Candles.UpsertBatch(ctx, []domain.Candle{hourlyCandle(cutoff, 100)})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestBoundedCandlesClampAtWalker(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, candles, _ := boundedFixture(cutoff)
	ctx := context.Background()

	// Two archived rows before the walker, one at it, one after.
	candles.rows = []domain.Candle{
		hourlyCandle(cutoff.Add(-2*time.Hour), 100),
		hourlyCandle(cutoff.Add(-time.Hour), 101),
		hourlyCandle(cutoff, 102),
		hourlyCandle(cutoff.Add(time.Hour), 103),
	}

	// UpTo beyond the walker still sees only strictly-earlier rows.
	rows, err := repos.Candles.UpTo(ctx, "BTC/USDT", domain.TF1h, cutoff.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 101.0, rows[0].Close)

	tr := persistence.TimeRange{From: cutoff.Add(-24 * time.Hour), To: cutoff.Add(24 * time.Hour)}
	rows, err = repos.Candles.Range(ctx, "BTC/USDT", domain.TF1h, tr, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	latest, err := repos.Candles.Latest(ctx, "BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, 101.0, latest.Close)

	n, err := repos.Candles.Count(ctx, "BTC/USDT", domain.TF1h, tr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLayerOverlayMergesWithArchive(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, _, layerStore := boundedFixture(cutoff)
	ctx := context.Background()

	layerStore.rows = []domain.LayerScore{{
		Layer: domain.LayerTA, Symbol: "BTC/USDT", Timeframe: domain.TF1h,
		Timestamp: cutoff.Add(-2 * time.Hour), Score: 0.1,
	}}

	// Replay-computed row lands in the overlay, not the archive.
	require.NoError(t, repos.Layers.Upsert(ctx, domain.LayerScore{
		Layer: domain.LayerTA, Symbol: "BTC/USDT", Timeframe: domain.TF1h,
		Timestamp: cutoff.Add(-time.Hour), Score: 0.5,
	}))
	assert.Len(t, layerStore.rows, 1)

	latest, err := repos.Layers.LatestBefore(ctx, domain.LayerTA, "BTC/USDT", domain.TF1h, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0.5, latest.Score)

	tr := persistence.TimeRange{From: cutoff.Add(-24 * time.Hour), To: cutoff.Add(24 * time.Hour)}
	rows, err := repos.Layers.Range(ctx, domain.LayerTA, "BTC/USDT", domain.TF1h, tr)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0.1, rows[0].Score)
	assert.Equal(t, 0.5, rows[1].Score)
}

func TestLayerOverlayHidesFutureRows(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, _, layerStore := boundedFixture(cutoff)
	ctx := context.Background()

	// An archived row after the walker must stay invisible even when the
	// caller asks well past it.
	layerStore.rows = []domain.LayerScore{{
		Layer: domain.LayerTA, Symbol: "BTC/USDT", Timeframe: domain.TF1h,
		Timestamp: cutoff.Add(time.Hour), Score: 0.9,
	}}
	_, err := repos.Layers.LatestBefore(ctx, domain.LayerTA, "BTC/USDT", domain.TF1h, cutoff.Add(3*time.Hour))
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// Same rule for overlay writes stamped ahead of the walker.
	require.NoError(t, repos.Layers.Upsert(ctx, domain.LayerScore{
		Layer: domain.LayerTA, Symbol: "BTC/USDT", Timeframe: domain.TF1h,
		Timestamp: cutoff.Add(2 * time.Hour), Score: 0.7,
	}))
	_, err = repos.Layers.LatestBefore(ctx, domain.LayerTA, "BTC/USDT", domain.TF1h, cutoff.Add(3*time.Hour))
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestCompositeOverlayIsHermetic(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, _, _ := boundedFixture(cutoff)
	ctx := context.Background()

	_, err := repos.Composites.Latest(ctx, "BTC/USDT", domain.TF1h)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	row := domain.CompositeScore{
		Symbol: "BTC/USDT", Timeframe: domain.TF1h,
		Timestamp: cutoff.Add(-time.Hour), Composite: 0.42,
	}
	require.NoError(t, repos.Composites.Upsert(ctx, row))

	got, err := repos.Composites.Latest(ctx, "BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, 0.42, got.Composite)

	// Cursor state is replay-local too.
	_, err = repos.Composites.GetCursor(ctx, "BTC/USDT", domain.TF1h)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	require.NoError(t, repos.Composites.PutCursor(ctx, domain.CompositeCursor{
		Symbol: "BTC/USDT", Timeframe: domain.TF1h, Composite: 0.42, TriggeredAt: row.Timestamp,
	}))
	cur, err := repos.Composites.GetCursor(ctx, "BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, 0.42, cur.Composite)
}

func TestFixedWeightsProfile(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos, _, _ := boundedFixture(cutoff)
	ctx := context.Background()

	profile, err := repos.Weights.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "candidate", profile.Name)

	_, err = repos.Weights.SetActive(ctx, *profile)
	assert.ErrorIs(t, err, errReadOnly)
}
