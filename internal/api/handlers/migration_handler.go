package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/lifecycle"
	apiErrors "tenantly/internal/pkg/errors"
	"tenantly/internal/notify"
	"tenantly/internal/platform/repositories"
)

type MigrationHandler struct {
	orch     *lifecycle.Orchestrator
	tenants  *repositories.TenantRepository
	notifier *notify.Notifier
}

func NewMigrationHandler(orch *lifecycle.Orchestrator, tenants *repositories.TenantRepository, notifier *notify.Notifier) *MigrationHandler {
	return &MigrationHandler{orch: orch, tenants: tenants, notifier: notifier}
}

type MigrateResponse struct {
	TenantID   string `json:"tenant_id"`
	SchemaName string `json:"schema_name"`
	Status     string `json:"status"`
}

// Migrate runs the full hybrid-to-schema migration for one tenant. The call
// is synchronous; large tenants should go through the worker queue instead.
func (h *MigrationHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	t, err := h.tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		apiErrors.WriteError(w, http.StatusInternalServerError, apiErrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if t == nil {
		apiErrors.WriteError(w, http.StatusNotFound, apiErrors.ErrCodeNotFound, "Tenant not found", nil)
		return
	}

	schemaName, err := h.orch.MigrateTenant(r.Context(), tenantID)
	if err != nil {
		apiErrors.WriteError(w, apiErrors.StatusOf(err), apiErrors.CodeOf(err), err.Error(), nil)
		return
	}

	h.notifier.Notify(notify.EventMigrated, tenantID, map[string]string{"schema_name": schemaName})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MigrateResponse{
		TenantID:   tenantID,
		SchemaName: schemaName,
		Status:     "completed",
	})
}

// Recover resumes a migration stranded in migrating, e.g. after a server
// crash mid-run.
func (h *MigrationHandler) Recover(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	schemaName, err := h.orch.RecoverMigration(r.Context(), tenantID)
	if err != nil {
		apiErrors.WriteError(w, apiErrors.StatusOf(err), apiErrors.CodeOf(err), err.Error(), nil)
		return
	}

	h.notifier.Notify(notify.EventMigrated, tenantID, map[string]string{"schema_name": schemaName})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MigrateResponse{
		TenantID:   tenantID,
		SchemaName: schemaName,
		Status:     "completed",
	})
}

// Status reports where a tenant sits in the migration lifecycle.
func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)

	t, err := h.tenants.GetByID(r.Context(), ps.ByName("tenant_id"))
	if err != nil {
		apiErrors.WriteError(w, http.StatusInternalServerError, apiErrors.ErrCodeInternal, "Database error", nil)
		return
	}
	if t == nil {
		apiErrors.WriteError(w, http.StatusNotFound, apiErrors.ErrCodeNotFound, "Tenant not found", nil)
		return
	}

	resp := map[string]interface{}{
		"tenant_id":        t.ID,
		"migration_status": t.MigrationStatus,
	}
	if t.SchemaName.Valid {
		resp["schema_name"] = t.SchemaName.String
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
