package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/backtest"
	"github.com/astroquant/confluence/internal/db"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
	"github.com/astroquant/confluence/internal/sched"
)

const defaultPriceLimit = 200

// Handlers serves every REST endpoint over the persistence layer.
type Handlers struct {
	repos     *persistence.Repository
	manager   *db.Manager
	cycleBT   *backtest.CycleBacktester
	signalBT  *backtest.SignalBacktester
	snapshots *SnapshotService
	health    func() []sched.JobHealth
}

// NewHandlers creates the handler set. health may be nil when no scheduler
// runs in-process.
func NewHandlers(repos *persistence.Repository, manager *db.Manager,
	cycleBT *backtest.CycleBacktester, signalBT *backtest.SignalBacktester,
	snapshots *SnapshotService, health func() []sched.JobHealth) *Handlers {
	return &Handlers{
		repos:     repos,
		manager:   manager,
		cycleBT:   cycleBT,
		signalBT:  signalBT,
		snapshots: snapshots,
		health:    health,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(ctxRequestID).(string)
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// writeRepoError maps persistence failures to the wire taxonomy.
func (h *Handlers) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "entity_not_found", "no matching row")
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusServiceUnavailable, "dependency_timeout", "storage query timed out")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Handler storage error")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// timeframeParam parses ?timeframe=, defaulting to 1h.
func (h *Handlers) timeframeParam(r *http.Request) (domain.Timeframe, error) {
	raw := r.URL.Query().Get("timeframe")
	if raw == "" {
		return domain.TF1h, nil
	}
	return domain.ParseTimeframe(raw)
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

// Prices handles GET /api/prices/{symbol}.
func (h *Handlers) Prices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf, err := h.timeframeParam(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}

	limit := defaultPriceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
	}

	candles, err := h.repos.Candles.UpTo(r.Context(), symbol, tf, time.Now().UTC(), limit)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PricesResponse{
		Symbol:    symbol,
		Timeframe: string(tf),
		Count:     len(candles),
		Data:      candles,
	})
}

// TASignal handles GET /api/signals/ta/{symbol}.
func (h *Handlers) TASignal(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf, err := h.timeframeParam(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}
	h.layerSignal(w, r, domain.LayerTA, symbol, tf)
}

// layerSignal serves the newest layer row for the given key.
func (h *Handlers) layerSignal(w http.ResponseWriter, r *http.Request, layer domain.Layer, symbol string, tf domain.Timeframe) {
	row, err := h.repos.Layers.LatestBefore(r.Context(), layer, symbol, tf, time.Now().UTC())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LayerSignalResponse{
		Layer:     string(row.Layer),
		Symbol:    row.Symbol,
		Timeframe: string(row.Timeframe),
		Timestamp: row.Timestamp.UTC(),
		Score:     NewScore(row.Score),
		Degraded:  row.Degraded,
		Details:   row.Details,
	})
}

// OnChain handles GET /api/onchain/{symbol}.
func (h *Handlers) OnChain(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.OnChain.Latest(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// CelestialCurrent handles GET /api/celestial/current.
func (h *Handlers) CelestialCurrent(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.Celestial.Latest(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// NumerologyCurrent handles GET /api/numerology/current.
func (h *Handlers) NumerologyCurrent(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.Numerology.Latest(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// Sentiment handles GET /api/sentiment/{symbol}.
func (h *Handlers) Sentiment(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.Sentiment.Latest(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// PoliticalSignal handles GET /api/political/signal.
func (h *Handlers) PoliticalSignal(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.Political.LatestScore(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// MacroSignal handles GET /api/macro/signal.
func (h *Handlers) MacroSignal(w http.ResponseWriter, r *http.Request) {
	row, err := h.repos.Macro.LatestScore(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Database: "up"}
	status := http.StatusOK

	if err := h.manager.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "down"
		status = http.StatusServiceUnavailable
	}
	if h.health != nil {
		resp.Jobs = h.health()
	}
	h.writeJSON(w, status, resp)
}
