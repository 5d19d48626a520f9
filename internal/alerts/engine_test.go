package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// fakeComposites implements CompositeRepo over maps.
type fakeComposites struct {
	rows    []domain.CompositeScore
	cursors map[string]domain.CompositeCursor
}

func newFakeComposites() *fakeComposites {
	return &fakeComposites{cursors: make(map[string]domain.CompositeCursor)}
}

func (f *fakeComposites) Upsert(_ context.Context, c domain.CompositeScore) error {
	f.rows = append(f.rows, c)
	return nil
}

func (f *fakeComposites) LatestBefore(_ context.Context, symbol string, tf domain.Timeframe, at time.Time) (*domain.CompositeScore, error) {
	var best *domain.CompositeScore
	for i := range f.rows {
		r := &f.rows[i]
		if r.Symbol == symbol && r.Timeframe == tf && !r.Timestamp.After(at) {
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

func (f *fakeComposites) Latest(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeScore, error) {
	return f.LatestBefore(ctx, symbol, tf, time.Now().UTC().Add(time.Hour))
}

func (f *fakeComposites) Range(_ context.Context, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.CompositeScore, error) {
	var out []domain.CompositeScore
	for _, r := range f.rows {
		if r.Symbol == symbol && r.Timeframe == tf && tr.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeComposites) GetCursor(_ context.Context, symbol string, tf domain.Timeframe) (*domain.CompositeCursor, error) {
	cur, ok := f.cursors[symbol+"|"+string(tf)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &cur, nil
}

func (f *fakeComposites) PutCursor(_ context.Context, cur domain.CompositeCursor) error {
	f.cursors[cur.Symbol+"|"+string(cur.Timeframe)] = cur
	return nil
}

// fakeAlerts implements AlertRepo with idempotency-key suppression.
type fakeAlerts struct {
	alerts []domain.Alert
}

func (f *fakeAlerts) InsertIfAbsent(_ context.Context, a domain.Alert) (bool, error) {
	for _, existing := range f.alerts {
		if existing.IdempotencyKey == a.IdempotencyKey && existing.Status == domain.AlertActive {
			return false, nil
		}
	}
	f.alerts = append(f.alerts, a)
	return true, nil
}

func (f *fakeAlerts) Get(_ context.Context, id string) (*domain.Alert, error) {
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			return &f.alerts[i], nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeAlerts) ListByStatus(_ context.Context, status domain.AlertStatus, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range f.alerts {
		if a.Status == status && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) UpdateStatus(_ context.Context, id string, status domain.AlertStatus) error {
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Status = status
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakeAlerts) CountSince(_ context.Context, kind domain.AlertKind, since time.Time) (int64, error) {
	var n int64
	for _, a := range f.alerts {
		if a.Kind == kind && a.TriggeredAt.After(since) {
			n++
		}
	}
	return n, nil
}

func testEngine() (*Engine, *fakeComposites, *fakeAlerts) {
	composites := newFakeComposites()
	alertStore := &fakeAlerts{}
	repos := &persistence.Repository{Composites: composites, Alerts: alertStore}
	engine := NewEngine(repos, []Pair{{Symbol: "BTC/USDT", Timeframe: domain.TF1h}})
	return engine, composites, alertStore
}

func compositeRow(composite float64, at time.Time, aligned ...domain.Layer) *domain.CompositeScore {
	return &domain.CompositeScore{
		Symbol:        "BTC/USDT",
		Timeframe:     domain.TF1h,
		Timestamp:     at,
		Composite:     composite,
		Strength:      domain.StrengthFor(composite),
		AlignedLayers: aligned,
	}
}

func TestThresholdCrossingFiresOnce(t *testing.T) {
	engine, composites, alertStore := testEngine()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	// Below the level: no alert, cursor advances.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.49, base)))
	assert.Empty(t, alertStore.alerts)
	cur, err := composites.GetCursor(ctx, "BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, 0.49, cur.Composite)

	// Crossing fires exactly one alert carrying both composites.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.52, base.Add(time.Hour))))
	require.Len(t, alertStore.alerts, 1)
	a := alertStore.alerts[0]
	assert.Equal(t, domain.AlertConfluenceThreshold, a.Kind)
	assert.Equal(t, domain.SeverityWarning, a.Severity)
	assert.Equal(t, 0.49, a.TriggerContext["previous_composite"])
	assert.Equal(t, 0.52, a.TriggerContext["composite"])

	// Still above the level: no re-fire without a reset below it.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.55, base.Add(2*time.Hour))))
	assert.Len(t, alertStore.alerts, 1)
}

func TestThresholdCrossingDown(t *testing.T) {
	engine, _, alertStore := testEngine()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	// First row with no cursor compares against zero, so -0.52 crosses down.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(-0.52, base)))
	require.Len(t, alertStore.alerts, 1)
	assert.Equal(t, 0.0, alertStore.alerts[0].TriggerContext["previous_composite"])
}

func TestBackfillRowsBehindCursorIgnored(t *testing.T) {
	engine, composites, alertStore := testEngine()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.1, base)))
	// A replayed older row must neither fire nor move the cursor.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.9, base.Add(-2*time.Hour))))
	assert.Empty(t, alertStore.alerts)

	cur, err := composites.GetCursor(ctx, "BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, base, cur.TriggeredAt)
}

func TestLayerAlignmentAlert(t *testing.T) {
	engine, _, alertStore := testEngine()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	// Three aligned layers stay quiet.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.3, base,
		domain.LayerTA, domain.LayerOnChain, domain.LayerSentiment)))
	assert.Empty(t, alertStore.alerts)

	// Four aligned layers fire.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.35, base.Add(time.Hour),
		domain.LayerTA, domain.LayerOnChain, domain.LayerSentiment, domain.LayerMacro)))
	require.Len(t, alertStore.alerts, 1)
	assert.Equal(t, domain.AlertLayerAlignment, alertStore.alerts[0].Kind)
}

func TestIdempotencyWithinWindow(t *testing.T) {
	engine, _, alertStore := testEngine()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.52, base.Add(5*time.Minute))))
	require.Len(t, alertStore.alerts, 1)

	// Dip below and re-cross inside the same hourly bucket: suppressed.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.2, base.Add(10*time.Minute))))
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.6, base.Add(20*time.Minute))))
	assert.Len(t, alertStore.alerts, 1)

	// The next bucket fires again.
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.1, base.Add(50*time.Minute))))
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.7, base.Add(70*time.Minute))))
	assert.Len(t, alertStore.alerts, 2)
}

func TestOnFireHook(t *testing.T) {
	engine, _, _ := testEngine()
	ctx := context.Background()

	var fired []domain.Alert
	engine.OnFire = func(a domain.Alert) { fired = append(fired, a) }

	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, engine.OnComposite(ctx, compositeRow(0.8, base)))
	require.Len(t, fired, 1)
	assert.Equal(t, domain.AlertConfluenceThreshold, fired[0].Kind)
	assert.NotEmpty(t, fired[0].ID)
}
