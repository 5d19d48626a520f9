package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// stubWeights records the last SetActive call.
type stubWeights struct {
	profile domain.WeightProfile
	saved   *domain.WeightProfile
}

func (s *stubWeights) Active(context.Context) (*domain.WeightProfile, error) {
	return &s.profile, nil
}

func (s *stubWeights) SetActive(_ context.Context, p domain.WeightProfile) (*domain.WeightProfile, error) {
	s.saved = &p
	return &p, nil
}

// stubAlerts serves a fixed alert set.
type stubAlerts struct {
	alerts  []domain.Alert
	updated map[string]domain.AlertStatus
}

func (s *stubAlerts) InsertIfAbsent(context.Context, domain.Alert) (bool, error) { return true, nil }

func (s *stubAlerts) Get(_ context.Context, id string) (*domain.Alert, error) {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			return &s.alerts[i], nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (s *stubAlerts) ListByStatus(_ context.Context, status domain.AlertStatus, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.Status == status && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAlerts) UpdateStatus(_ context.Context, id string, status domain.AlertStatus) error {
	if s.updated == nil {
		s.updated = make(map[string]domain.AlertStatus)
	}
	s.updated[id] = status
	return nil
}

func (s *stubAlerts) CountSince(context.Context, domain.AlertKind, time.Time) (int64, error) {
	return 0, nil
}

// stubComposites serves one latest row.
type stubComposites struct {
	row *domain.CompositeScore
}

func (s *stubComposites) Upsert(context.Context, domain.CompositeScore) error { return nil }

func (s *stubComposites) LatestBefore(context.Context, string, domain.Timeframe, time.Time) (*domain.CompositeScore, error) {
	return s.Latest(context.Background(), "", "")
}

func (s *stubComposites) Latest(context.Context, string, domain.Timeframe) (*domain.CompositeScore, error) {
	if s.row == nil {
		return nil, persistence.ErrNotFound
	}
	return s.row, nil
}

func (s *stubComposites) Range(context.Context, string, domain.Timeframe, persistence.TimeRange) ([]domain.CompositeScore, error) {
	return nil, nil
}

func (s *stubComposites) GetCursor(context.Context, string, domain.Timeframe) (*domain.CompositeCursor, error) {
	return nil, persistence.ErrNotFound
}

func (s *stubComposites) PutCursor(context.Context, domain.CompositeCursor) error { return nil }

// stubCycles keeps cycles in a slice and fakes the unique index.
type stubCycles struct {
	cycles []domain.CustomCycle
}

func (s *stubCycles) Insert(_ context.Context, c domain.CustomCycle) (int64, error) {
	for _, existing := range s.cycles {
		if existing.Name == c.Name && existing.PeriodDays == c.PeriodDays {
			return 0, fmt.Errorf("cycle %q with period %d already exists", c.Name, c.PeriodDays)
		}
	}
	c.ID = int64(len(s.cycles) + 1)
	s.cycles = append(s.cycles, c)
	return c.ID, nil
}

func (s *stubCycles) Get(_ context.Context, id int64) (*domain.CustomCycle, error) {
	for i := range s.cycles {
		if s.cycles[i].ID == id {
			return &s.cycles[i], nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (s *stubCycles) List(context.Context) ([]domain.CustomCycle, error) { return s.cycles, nil }

func (s *stubCycles) RecordOutcome(context.Context, int64, bool, time.Time) error { return nil }

func handlerFixture() (*Handlers, *persistence.Repository) {
	repos := &persistence.Repository{
		Weights:    &stubWeights{profile: domain.WeightProfile{Name: "default", Weights: domain.DefaultWeights, Active: true}},
		Alerts:     &stubAlerts{},
		Composites: &stubComposites{},
		Cycles:     &stubCycles{},
	}
	return &Handlers{repos: repos}, repos
}

func doRequest(h http.HandlerFunc, method, target string, body string, vars map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestPutWeightsRejectsBadSum(t *testing.T) {
	h, repos := handlerFixture()

	body := `{"name":"tilted","weights":{"ta":0.5,"onchain":0.5,"celestial":0.5,"numerology":0.1,"sentiment":0.1,"political":0.1,"macro":0.1}}`
	rec := doRequest(h.PutWeights, http.MethodPost, "/api/confluence/weights", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_weights", resp.Code)
	assert.Nil(t, repos.Weights.(*stubWeights).saved, "rejected profiles never reach the store")
}

func TestPutWeightsRejectsMissingLayer(t *testing.T) {
	h, _ := handlerFixture()

	body := `{"weights":{"ta":0.5,"onchain":0.5}}`
	rec := doRequest(h.PutWeights, http.MethodPost, "/api/confluence/weights", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPutWeightsAcceptsValidProfile(t *testing.T) {
	h, repos := handlerFixture()

	body := `{"name":"heavy-ta","weights":{"ta":0.40,"onchain":0.15,"celestial":0.10,"numerology":0.05,"sentiment":0.10,"political":0.10,"macro":0.10}}`
	rec := doRequest(h.PutWeights, http.MethodPost, "/api/confluence/weights", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	saved := repos.Weights.(*stubWeights).saved
	require.NotNil(t, saved)
	assert.Equal(t, "heavy-ta", saved.Name)
	assert.Equal(t, 0.40, saved.Weights[domain.LayerTA])
}

func TestPutWeightsDefaultsName(t *testing.T) {
	h, repos := handlerFixture()

	body := `{"weights":{"ta":0.22,"onchain":0.18,"celestial":0.14,"numerology":0.10,"sentiment":0.14,"political":0.14,"macro":0.08}}`
	rec := doRequest(h.PutWeights, http.MethodPost, "/api/confluence/weights", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	saved := repos.Weights.(*stubWeights).saved
	require.NotNil(t, saved)
	assert.True(t, strings.HasPrefix(saved.Name, "custom-"))
}

func TestConfluenceScoresAreStrings(t *testing.T) {
	h, repos := handlerFixture()
	repos.Composites.(*stubComposites).row = &domain.CompositeScore{
		Symbol:    "BTC/USDT",
		Timeframe: domain.TF1h,
		Timestamp: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Composite: 0.452,
		Strength:  domain.Buy,
		LayerScores: map[domain.Layer]float64{
			domain.LayerTA: 0.9,
		},
		Weights: map[domain.Layer]float64{
			domain.LayerTA: 0.22,
		},
		AlignedLayers: []domain.Layer{domain.LayerTA},
	}

	rec := doRequest(h.Confluence, http.MethodGet, "/api/confluence/BTC/USDT", "", map[string]string{"symbol": "BTC/USDT"})
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, `"0.452"`, string(raw["composite"]))

	var resp ConfluenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Score("0.9"), resp.LayerScores["ta"])
	assert.Equal(t, "BUY", resp.Strength)
	assert.Equal(t, 1, resp.AlignmentCount)
}

func TestConfluenceInvalidTimeframe(t *testing.T) {
	h, _ := handlerFixture()
	rec := doRequest(h.Confluence, http.MethodGet, "/api/confluence/BTC?timeframe=13m", "", map[string]string{"symbol": "BTC"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfluenceNotFound(t *testing.T) {
	h, _ := handlerFixture()
	rec := doRequest(h.Confluence, http.MethodGet, "/api/confluence/BTC", "", map[string]string{"symbol": "BTC"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "entity_not_found", resp.Code)
}

func TestListAlertsInvalidStatus(t *testing.T) {
	h, _ := handlerFixture()
	rec := doRequest(h.ListAlerts, http.MethodGet, "/api/alerts?status=archived", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlertsDefaultsToActive(t *testing.T) {
	h, repos := handlerFixture()
	repos.Alerts.(*stubAlerts).alerts = []domain.Alert{
		{ID: "a1", Status: domain.AlertActive},
		{ID: "a2", Status: domain.AlertAcknowledged},
	}

	rec := doRequest(h.ListAlerts, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string         `json:"status"`
		Count  int            `json:"count"`
		Alerts []domain.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, 1, resp.Count)
}

func TestAcknowledgeAlert(t *testing.T) {
	h, repos := handlerFixture()
	store := repos.Alerts.(*stubAlerts)
	store.alerts = []domain.Alert{{ID: "a1", Status: domain.AlertActive}}

	rec := doRequest(h.AcknowledgeAlert, http.MethodPost, "/api/alerts/a1/acknowledge", "", map[string]string{"id": "a1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AlertAcknowledged, store.updated["a1"])
}

func TestAcknowledgeNonActiveAlertConflicts(t *testing.T) {
	h, repos := handlerFixture()
	repos.Alerts.(*stubAlerts).alerts = []domain.Alert{{ID: "a1", Status: domain.AlertDismissed}}

	rec := doRequest(h.AcknowledgeAlert, http.MethodPost, "/api/alerts/a1/acknowledge", "", map[string]string{"id": "a1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alert_not_active", resp.Code)
}

func TestCreateCycle(t *testing.T) {
	h, _ := handlerFixture()

	body := `{"name":"benner-47","period_days":47,"anchor_date":"2025-10-10T00:00:00Z","tolerance_days":2}`
	rec := doRequest(h.CreateCycle, http.MethodPost, "/api/cycles", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.CustomCycle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, domain.CycleUnknown, created.Direction, "direction defaults to unknown")

	// Same name and period again conflicts.
	rec = doRequest(h.CreateCycle, http.MethodPost, "/api/cycles", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateCycleInvalid(t *testing.T) {
	h, _ := handlerFixture()

	body := `{"name":"tight","period_days":10,"anchor_date":"2025-10-10T00:00:00Z","tolerance_days":5}`
	rec := doRequest(h.CreateCycle, http.MethodPost, "/api/cycles", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCycleStatus(t *testing.T) {
	h, repos := handlerFixture()
	store := repos.Cycles.(*stubCycles)
	store.cycles = []domain.CustomCycle{{
		ID: 3, Name: "benner-47", PeriodDays: 47, ToleranceDays: 2,
		AnchorDate: time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
		Hits:       3, Misses: 1,
	}}

	rec := doRequest(h.CycleStatus, http.MethodGet, "/api/cycles/3/status", "", map[string]string{"id": "3"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CycleStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.75, resp.HitRate)
	assert.Less(t, resp.DayInCycle, 47)
	assert.Less(t, resp.DaysToNext, 47)

	rec = doRequest(h.CycleStatus, http.MethodGet, "/api/cycles/x/status", "", map[string]string{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPricesInvalidLimit(t *testing.T) {
	h, _ := handlerFixture()
	rec := doRequest(h.Prices, http.MethodGet, "/api/prices/BTC?limit=-5", "", map[string]string{"symbol": "BTC"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_limit", resp.Code)
}
