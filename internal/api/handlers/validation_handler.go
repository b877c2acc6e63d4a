package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/validation"
	"tenantly/internal/notify"
	"tenantly/internal/pkg/errors"
)

type ValidationHandler struct {
	validator *validation.Validator
	notifier  *notify.Notifier
}

func NewValidationHandler(validator *validation.Validator, notifier *notify.Notifier) *ValidationHandler {
	return &ValidationHandler{validator: validator, notifier: notifier}
}

func (h *ValidationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	report, err := h.validator.ValidateTenantMigration(r.Context(), tenantID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Validation failed to run", err.Error())
		return
	}

	if report.OverallStatus == validation.StatusFailed {
		h.notifier.Notify(notify.EventValidationFailed, tenantID, map[string]interface{}{
			"errors": report.AllErrors(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (h *ValidationHandler) ValidateAll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.validator.ValidateBatch(r.Context())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Batch validation failed to run", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}
