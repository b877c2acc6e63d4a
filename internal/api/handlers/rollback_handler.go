package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/rollback"
	"tenantly/internal/notify"
	"tenantly/internal/pkg/errors"
)

type RollbackHandler struct {
	coordinator *rollback.Coordinator
	notifier    *notify.Notifier
}

func NewRollbackHandler(coordinator *rollback.Coordinator, notifier *notify.Notifier) *RollbackHandler {
	return &RollbackHandler{coordinator: coordinator, notifier: notifier}
}

type RollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *RollbackHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A rollback reason is required", nil)
		return
	}

	result := h.coordinator.RollbackTenantMigration(r.Context(), tenantID, req.Reason)
	if result.Success {
		h.notifier.Notify(notify.EventRolledBack, tenantID, map[string]string{"reason": req.Reason})
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(result)
}

// Recover resumes a rollback left in rolling_back by a crash. Every step is
// idempotent, so re-running the remainder is safe.
func (h *RollbackHandler) Recover(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A rollback reason is required", nil)
		return
	}

	result := h.coordinator.RecoverPartialRollback(r.Context(), tenantID, req.Reason)

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(result)
}

// RollbackAll rolls back every completed tenant and renders the batch report
// in the requested format (json, md, csv or xlsx).
func (h *RollbackHandler) RollbackAll(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "A rollback reason is required", nil)
		return
	}

	batch, err := h.coordinator.RollbackAll(r.Context(), req.Reason)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Batch rollback failed", err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(rollback.RenderMarkdown(batch)))
	case "csv":
		out, err := rollback.RenderCSV(batch)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Report rendering failed", nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="rollback_report.csv"`)
		w.Write([]byte(out))
	case "xlsx":
		out, err := rollback.RenderXLSX(batch)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Report rendering failed", nil)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="rollback_report.xlsx"`)
		w.Write(out)
	default:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(batch)
	}
}

func (h *RollbackHandler) CleanupOrphans(w http.ResponseWriter, r *http.Request) {
	dropped, err := h.coordinator.CleanupOrphanedSchemas(r.Context())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Cleanup failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"dropped": dropped})
}
