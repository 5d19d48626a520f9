package confluence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// fakeLayers serves the newest matching layer row from a slice.
type fakeLayers struct {
	rows []domain.LayerScore
}

func (f *fakeLayers) Upsert(_ context.Context, s domain.LayerScore) error {
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeLayers) LatestBefore(_ context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, at time.Time) (*domain.LayerScore, error) {
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

func (f *fakeLayers) Range(_ context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) ([]domain.LayerScore, error) {
	var out []domain.LayerScore
	for _, r := range f.rows {
		if r.Layer == layer && r.Symbol == symbol && r.Timeframe == tf && tr.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLayers) Count(ctx context.Context, layer domain.Layer, symbol string, tf domain.Timeframe, tr persistence.TimeRange) (int64, error) {
	rows, _ := f.Range(ctx, layer, symbol, tf, tr)
	return int64(len(rows)), nil
}

// fakeWeights serves one profile.
type fakeWeights struct {
	profile domain.WeightProfile
}

func (f *fakeWeights) Active(context.Context) (*domain.WeightProfile, error) {
	copy := f.profile
	copy.Weights = make(map[domain.Layer]float64, len(f.profile.Weights))
	for layer, w := range f.profile.Weights {
		copy.Weights[layer] = w
	}
	return &copy, nil
}

func (f *fakeWeights) SetActive(_ context.Context, p domain.WeightProfile) (*domain.WeightProfile, error) {
	f.profile = p
	return &f.profile, nil
}

// fakeComposites records the upserts.
type fakeComposites struct {
	rows []domain.CompositeScore
}

func (f *fakeComposites) Upsert(_ context.Context, c domain.CompositeScore) error {
	f.rows = append(f.rows, c)
	return nil
}

func (f *fakeComposites) LatestBefore(context.Context, string, domain.Timeframe, time.Time) (*domain.CompositeScore, error) {
	return nil, persistence.ErrNotFound
}

func (f *fakeComposites) Latest(context.Context, string, domain.Timeframe) (*domain.CompositeScore, error) {
	if len(f.rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &f.rows[len(f.rows)-1], nil
}

func (f *fakeComposites) Range(context.Context, string, domain.Timeframe, persistence.TimeRange) ([]domain.CompositeScore, error) {
	return f.rows, nil
}

func (f *fakeComposites) GetCursor(context.Context, string, domain.Timeframe) (*domain.CompositeCursor, error) {
	return nil, persistence.ErrNotFound
}

func (f *fakeComposites) PutCursor(context.Context, domain.CompositeCursor) error { return nil }

func testRepos(layerRows []domain.LayerScore) (*persistence.Repository, *fakeComposites) {
	composites := &fakeComposites{}
	repos := &persistence.Repository{
		Layers:     &fakeLayers{rows: layerRows},
		Weights:    &fakeWeights{profile: domain.WeightProfile{Name: "default", Weights: domain.DefaultWeights, Active: true}},
		Composites: composites,
	}
	return repos, composites
}

// layerRow builds a row keyed the way each layer class writes.
func layerRow(layer domain.Layer, score float64, at time.Time) domain.LayerScore {
	row := domain.LayerScore{Layer: layer, Timestamp: at, Score: score}
	switch layer {
	case domain.LayerTA:
		row.Symbol, row.Timeframe = "BTC/USDT", domain.TF1h
	case domain.LayerOnChain, domain.LayerSentiment:
		row.Symbol = "BTC/USDT"
	}
	return row
}

func TestComputeCompositeFusesAllLayers(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.LayerScore{
		layerRow(domain.LayerTA, 0.9, at.Add(-30*time.Minute)),
		layerRow(domain.LayerOnChain, 0.5, at.Add(-2*time.Hour)),
		layerRow(domain.LayerCelestial, 0.3, at.Add(-20*time.Hour)),
		layerRow(domain.LayerNumerology, 0.1, at.Add(-20*time.Hour)),
		layerRow(domain.LayerSentiment, 0.4, at.Add(-time.Hour)),
		layerRow(domain.LayerPolitical, 0.2, at.Add(-time.Hour)),
		layerRow(domain.LayerMacro, -0.3, at.Add(-time.Hour)),
	}
	repos, composites := testRepos(rows)

	row, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)

	want := 0.22*0.9 + 0.18*0.5 + 0.14*0.3 + 0.10*0.1 + 0.14*0.4 + 0.14*0.2 + 0.08*(-0.3)
	assert.InDelta(t, want, row.Composite, 1e-9)
	assert.Equal(t, domain.Buy, row.Strength)
	assert.Empty(t, row.StaleLayers)

	// Positive composite aligns the fresh layers at or above 0.2 on its side.
	assert.ElementsMatch(t, []domain.Layer{
		domain.LayerTA, domain.LayerOnChain, domain.LayerCelestial,
		domain.LayerSentiment, domain.LayerPolitical,
	}, row.AlignedLayers)

	require.Len(t, composites.rows, 1)
}

func TestComputeCompositeStaleLayersScoreZero(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.LayerScore{
		// TA staleness for 1h is 2h; three hours old is out.
		layerRow(domain.LayerTA, 0.9, at.Add(-3*time.Hour)),
		layerRow(domain.LayerOnChain, 0.5, at.Add(-2*time.Hour)),
	}
	repos, _ := testRepos(rows)

	row, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)

	assert.InDelta(t, 0.18*0.5, row.Composite, 1e-9)
	assert.Contains(t, row.StaleLayers, domain.LayerTA)
	assert.Zero(t, row.LayerScores[domain.LayerTA])
	assert.NotContains(t, row.AlignedLayers, domain.LayerTA)
}

func TestComputeCompositeDegradedExcluded(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	degraded := layerRow(domain.LayerOnChain, 0.8, at.Add(-time.Hour))
	degraded.Degraded = true
	repos, _ := testRepos([]domain.LayerScore{degraded})

	row, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)
	assert.Zero(t, row.LayerScores[domain.LayerOnChain])
	assert.Contains(t, row.StaleLayers, domain.LayerOnChain)
}

func TestNeutralCompositeTakesLargerSubset(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.LayerScore{
		layerRow(domain.LayerTA, 0.6, at.Add(-30*time.Minute)),
		layerRow(domain.LayerOnChain, -0.5, at.Add(-time.Hour)),
		layerRow(domain.LayerSentiment, -0.4, at.Add(-time.Hour)),
	}
	repos, _ := testRepos(rows)

	row, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)
	require.Equal(t, domain.Neutral, row.Strength)
	assert.ElementsMatch(t, []domain.Layer{domain.LayerOnChain, domain.LayerSentiment}, row.AlignedLayers)
}

func TestNeutralTiePrefersPositive(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.LayerScore{
		layerRow(domain.LayerTA, 0.5, at.Add(-30*time.Minute)),
		layerRow(domain.LayerOnChain, -0.6, at.Add(-time.Hour)),
	}
	repos, _ := testRepos(rows)

	row, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)
	require.Equal(t, domain.Neutral, row.Strength)
	assert.Equal(t, []domain.Layer{domain.LayerTA}, row.AlignedLayers)
}

func TestWeightsSnapshotted(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	repos, composites := testRepos([]domain.LayerScore{
		layerRow(domain.LayerTA, 0.5, at.Add(-30*time.Minute)),
	})

	_, err := NewEngine(repos).ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)

	// Mutating the stored snapshot must not touch the shared defaults.
	composites.rows[0].Weights[domain.LayerTA] = 0.99
	assert.Equal(t, 0.22, domain.DefaultWeights[domain.LayerTA])
}

func TestRecomputeIsDeterministic(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.LayerScore{
		layerRow(domain.LayerTA, 0.9, at.Add(-30*time.Minute)),
		layerRow(domain.LayerSentiment, 0.4, at.Add(-time.Hour)),
	}
	repos, _ := testRepos(rows)
	engine := NewEngine(repos)

	first, err := engine.ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)
	second, err := engine.ComputeComposite(context.Background(), "BTC/USDT", domain.TF1h, at)
	require.NoError(t, err)

	assert.Equal(t, first.Composite, second.Composite)
	assert.Equal(t, first.Strength, second.Strength)
	assert.ElementsMatch(t, first.AlignedLayers, second.AlignedLayers)
}
