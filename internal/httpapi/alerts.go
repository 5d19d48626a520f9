package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/astroquant/confluence/internal/domain"
)

const defaultAlertLimit = 100

// ListAlerts handles GET /api/alerts?status=active|acknowledged|dismissed.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.AlertActive
	}
	switch status {
	case domain.AlertActive, domain.AlertAcknowledged, domain.AlertDismissed:
	default:
		h.writeError(w, r, http.StatusBadRequest, "invalid_status", "status must be active, acknowledged or dismissed")
		return
	}

	alerts, err := h.repos.Alerts.ListByStatus(r.Context(), status, defaultAlertLimit)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": string(status),
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// AcknowledgeAlert handles POST /api/alerts/{id}/acknowledge.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.repos.Alerts.Get(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	if alert.Status != domain.AlertActive {
		h.writeError(w, r, http.StatusConflict, "alert_not_active", "only active alerts can be acknowledged")
		return
	}

	if err := h.repos.Alerts.UpdateStatus(r.Context(), id, domain.AlertAcknowledged); err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	alert.Status = domain.AlertAcknowledged
	h.writeJSON(w, http.StatusOK, alert)
}

// ListCycles handles GET /api/cycles.
func (h *Handlers) ListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.repos.Cycles.List(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(cycles),
		"cycles": cycles,
	})
}

// CreateCycle handles POST /api/cycles.
func (h *Handlers) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var cycle domain.CustomCycle
	if err := json.NewDecoder(r.Body).Decode(&cycle); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if cycle.Direction == "" {
		cycle.Direction = domain.CycleUnknown
	}
	if err := cycle.Validate(); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_cycle", err.Error())
		return
	}

	id, err := h.repos.Cycles.Insert(r.Context(), cycle)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			h.writeError(w, r, http.StatusConflict, "cycle_exists", err.Error())
			return
		}
		h.writeRepoError(w, r, err)
		return
	}
	cycle.ID = id
	h.writeJSON(w, http.StatusCreated, cycle)
}

// CycleStatus handles GET /api/cycles/{id}/status.
func (h *Handlers) CycleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_id", "cycle id must be an integer")
		return
	}

	cycle, err := h.repos.Cycles.Get(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}

	now := time.Now().UTC()
	days := cycle.DaysSinceAnchor(now)
	dayIn := 0
	if cycle.PeriodDays > 0 && days >= 0 {
		dayIn = days % cycle.PeriodDays
	}
	toNext := 0
	if cycle.PeriodDays > 0 {
		toNext = (cycle.PeriodDays - dayIn) % cycle.PeriodDays
	}

	h.writeJSON(w, http.StatusOK, CycleStatusResponse{
		Cycle:         *cycle,
		HitRate:       cycle.HitRate(),
		IsAlignedNow:  cycle.AlignsOn(now),
		DayInCycle:    dayIn,
		DaysToNext:    toNext,
		NextAlignment: now.Truncate(24 * time.Hour).AddDate(0, 0, toNext),
	})
}
