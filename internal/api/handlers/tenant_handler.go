package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
	"tenantly/internal/platform/tenant"
)

type TenantHandler struct {
	tenants *repositories.TenantRepository
	hybrid  *repositories.HybridRepository
}

func NewTenantHandler(tenants *repositories.TenantRepository, hybrid *repositories.HybridRepository) *TenantHandler {
	return &TenantHandler{tenants: tenants, hybrid: hybrid}
}

type CreateTenantRequest struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Domain string `json:"domain"`
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" || req.Slug == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "name and slug are required", nil)
		return
	}

	if existing, err := h.tenants.GetBySlug(r.Context(), req.Slug); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	} else if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeAlreadyExists, "Slug already in use", nil)
		return
	}

	now := time.Now().Unix()
	t := &models.Tenant{
		ID:              "tnt_" + uuid.NewString(),
		Name:            req.Name,
		Slug:            req.Slug,
		Domain:          req.Domain,
		Status:          models.TenantActive,
		MigrationStatus: models.MigrationHybrid,
		Settings:        json.RawMessage(`{}`),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.tenants.Create(r.Context(), t); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create tenant", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	t, err := h.tenants.GetByID(r.Context(), ps.ByName("tenant_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if t == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Tenant not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

type ProfileResponse struct {
	Tenant       *models.Tenant   `json:"tenant"`
	StorageMode  string           `json:"storage_mode"`
	RecordCounts map[string]int64 `json:"record_counts"`
}

// Profile serves the resolved tenant back to its own members. The gateway has
// already resolved the tenant and, for migrated tenants, pinned a schema
// session on the context; record counts come from wherever the rows live.
// Counts are keyed by the hybrid-facing table names in both storage modes.
func (h *TenantHandler) Profile(w http.ResponseWriter, r *http.Request) {
	t := tenant.Current(r.Context())
	if t == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "No tenant resolved", nil)
		return
	}

	resp := ProfileResponse{Tenant: t, StorageMode: "hybrid"}
	sess, _ := r.Context().Value(apiContext.Session).(*database.Session)
	if sess != nil {
		resp.StorageMode = "schema"
		counts := make(map[string]int64, len(schema.RequiredTables()))
		for _, table := range schema.RequiredTables() {
			var n int64
			if err := sess.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
				return
			}
			name := table
			if hybrid, ok := repositories.HybridTableFor(table); ok {
				name = hybrid
			}
			counts[name] = n
		}
		resp.RecordCounts = counts
	} else {
		counts, err := h.hybrid.CountsForTenant(r.Context(), t.ID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
			return
		}
		resp.RecordCounts = counts
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		list []*models.Tenant
		err  error
	)
	if status := r.URL.Query().Get("migration_status"); status != "" {
		list, err = h.tenants.ListByMigrationStatus(r.Context(), status)
	} else {
		list, err = h.tenants.List(r.Context())
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type UpdateTenantStatusRequest struct {
	Status string `json:"status"`
}

func (h *TenantHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	var req UpdateTenantStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	switch req.Status {
	case models.TenantActive, models.TenantInactive, models.TenantMaintenance:
	default:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown tenant status", nil)
		return
	}

	t, err := h.tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if t == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Tenant not found", nil)
		return
	}

	if err := h.tenants.UpdateStatus(r.Context(), tenantID, req.Status); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update tenant", nil)
		return
	}

	t.Status = req.Status
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

type UpdateTenantSettingsRequest struct {
	Settings json.RawMessage `json:"settings"`
}

func (h *TenantHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	var req UpdateTenantSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Settings) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if err := h.tenants.UpdateSettings(r.Context(), tenantID, req.Settings); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update settings", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
