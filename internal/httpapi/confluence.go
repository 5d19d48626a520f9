package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/astroquant/confluence/internal/domain"
)

// Confluence handles GET /api/confluence/{symbol}.
func (h *Handlers) Confluence(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf, err := h.timeframeParam(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}

	row, err := h.repos.Composites.Latest(r.Context(), symbol, tf)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, NewConfluenceResponse(row))
}

// GetWeights handles GET /api/confluence/weights.
func (h *Handlers) GetWeights(w http.ResponseWriter, r *http.Request) {
	profile, err := h.repos.Weights.Active(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// PutWeights handles POST /api/confluence/weights. The new profile must name
// every layer and sum to one; violations return 422 without touching the
// active profile.
func (h *Handlers) PutWeights(w http.ResponseWriter, r *http.Request) {
	var req WeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "custom-" + time.Now().UTC().Format("20060102T150405")
	}

	profile := domain.WeightProfile{Name: name, Weights: req.Weights, Active: true}
	if err := profile.Validate(); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_weights", err.Error())
		return
	}

	saved, err := h.repos.Weights.SetActive(r.Context(), profile)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, saved)
}

// Interpretation handles GET /api/interpretation/{symbol}: the read-only
// aggregate consumed by external interpretation services.
func (h *Handlers) Interpretation(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf, err := h.timeframeParam(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}

	snap, err := h.snapshots.Snapshot(r.Context(), symbol, tf)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}
