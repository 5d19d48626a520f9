package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/backtest"
)

// backtestTimeout bounds one detached replay run.
const backtestTimeout = 30 * time.Minute

// runEnvelope is the stored shape of one backtest run.
type runEnvelope struct {
	Status string      `json:"status"` // running, complete, failed
	Error  string      `json:"error,omitempty"`
	Report interface{} `json:"report,omitempty"`
}

// RunCycleBacktest handles POST /api/backtest/cycle. The run is detached; the
// response carries the id to poll.
func (h *Handlers) RunCycleBacktest(w http.ResponseWriter, r *http.Request) {
	var params backtest.CycleParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if params.Symbol == "" || params.From.IsZero() || params.To.IsZero() || !params.To.After(params.From) {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_range", "symbol and a from<to range are required")
		return
	}

	h.launch(w, r, "cycle", func(ctx context.Context) (interface{}, error) {
		return h.cycleBT.Run(ctx, params)
	})
}

// RunSignalBacktest handles POST /api/backtest/signals.
func (h *Handlers) RunSignalBacktest(w http.ResponseWriter, r *http.Request) {
	var params backtest.SignalParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if params.Symbol == "" || params.From.IsZero() || params.To.IsZero() || !params.To.After(params.From) {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_range", "symbol and a from<to range are required")
		return
	}

	h.launch(w, r, "signal", func(ctx context.Context) (interface{}, error) {
		return h.signalBT.Run(ctx, params)
	})
}

// RunOptimize handles POST /api/backtest/optimize: a weight grid search over
// repeated signal replays.
func (h *Handlers) RunOptimize(w http.ResponseWriter, r *http.Request) {
	var params backtest.OptimizeParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	s := params.Signal
	if s.Symbol == "" || s.From.IsZero() || s.To.IsZero() || !s.To.After(s.From) {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_range", "signal symbol and a from<to range are required")
		return
	}

	h.launch(w, r, "optimize", func(ctx context.Context) (interface{}, error) {
		return h.signalBT.Optimize(ctx, params)
	})
}

// launch records a running envelope, detaches the run and acknowledges 202.
func (h *Handlers) launch(w http.ResponseWriter, r *http.Request, kind string, run func(ctx context.Context) (interface{}, error)) {
	id := uuid.NewString()
	if err := h.repos.Backtests.InsertResult(r.Context(), id, kind, runEnvelope{Status: "running"}); err != nil {
		h.writeRepoError(w, r, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backtestTimeout)
		defer cancel()

		report, err := run(ctx)
		envelope := runEnvelope{Status: "complete", Report: report}
		if err != nil {
			log.Error().Err(err).Str("id", id).Str("kind", kind).Msg("Backtest run failed")
			envelope = runEnvelope{Status: "failed", Error: err.Error()}
		}
		if err := h.repos.Backtests.InsertResult(ctx, id, kind, envelope); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Backtest result store failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, BacktestAccepted{ID: id, Kind: kind, Status: "running"})
}

// BacktestResult handles GET /api/backtest/results/{id}.
func (h *Handlers) BacktestResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	kind, report, err := h.repos.Backtests.GetResult(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"kind":   kind,
		"result": json.RawMessage(report),
	})
}
