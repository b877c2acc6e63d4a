package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	syncengine "tenantly/internal/engine/sync"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/repositories"
)

type SyncHandler struct {
	syncer *syncengine.Syncer
	logs   *syncengine.LogStore
	queue  *syncengine.Queue
}

func NewSyncHandler(syncer *syncengine.Syncer, logs *syncengine.LogStore, queue *syncengine.Queue) *SyncHandler {
	return &SyncHandler{syncer: syncer, logs: logs, queue: queue}
}

type SyncEntityRequest struct {
	EntityID          string `json:"entity_id"`
	SourceTenantID    string `json:"source_tenant_id"`
	TargetTenantID    string `json:"target_tenant_id"`
	Table             string `json:"table"`
	Strategy          string `json:"strategy"`
	ValidateIntegrity bool   `json:"validate_integrity"`
}

func (h *SyncHandler) SyncEntity(w http.ResponseWriter, r *http.Request) {
	var req SyncEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.EntityID == "" || req.SourceTenantID == "" || req.TargetTenantID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "entity_id, source_tenant_id and target_tenant_id are required", nil)
		return
	}
	req.Table = canonicalSyncTable(req.Table)

	result, err := h.syncer.SyncEntity(r.Context(), req.EntityID, req.SourceTenantID, req.TargetTenantID, syncengine.Options{
		Table:             req.Table,
		Strategy:          req.Strategy,
		ValidateIntegrity: req.ValidateIntegrity,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

type BatchSyncRequest struct {
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`
	Table          string `json:"table"`
	Strategy       string `json:"strategy"`
	BatchSize      int    `json:"batch_size"`
	Since          int64  `json:"since,omitempty"`
	Bidirectional  bool   `json:"bidirectional,omitempty"`
}

// BatchSync runs inline by default; ?async=true enqueues the job for the
// worker and returns a job id to poll.
func (h *SyncHandler) BatchSync(w http.ResponseWriter, r *http.Request) {
	var req BatchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.SourceTenantID == "" || req.TargetTenantID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "source_tenant_id and target_tenant_id are required", nil)
		return
	}
	req.Table = canonicalSyncTable(req.Table)

	if r.URL.Query().Get("async") == "true" {
		if h.queue == nil {
			errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Sync queue is not configured", nil)
			return
		}
		jobID, err := h.queue.Enqueue(r.Context(), syncengine.BatchSyncJob{
			SourceTenantID: req.SourceTenantID,
			TargetTenantID: req.TargetTenantID,
			Table:          req.Table,
			Strategy:       req.Strategy,
			BatchSize:      req.BatchSize,
		})
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to enqueue sync job", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": jobID, "status": syncengine.JobPending})
		return
	}

	opts := syncengine.Options{Table: req.Table, Strategy: req.Strategy, BatchSize: req.BatchSize}

	if req.Bidirectional {
		result, err := h.syncer.BidirectionalSync(r.Context(), req.SourceTenantID, req.TargetTenantID, opts)
		if err != nil {
			writeSyncError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
		return
	}

	var (
		result *syncengine.BatchResult
		err    error
	)
	if req.Since > 0 {
		result, err = h.syncer.IncrementalSync(r.Context(), req.SourceTenantID, req.TargetTenantID, time.Unix(req.Since, 0), opts)
	} else {
		result, err = h.syncer.BatchSync(r.Context(), req.SourceTenantID, req.TargetTenantID, opts)
	}
	if err != nil {
		writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *SyncHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Sync queue is not configured", nil)
		return
	}

	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	status, err := h.queue.Status(r.Context(), ps.ByName("job_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Queue lookup failed", nil)
		return
	}
	if status == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Job not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *SyncHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	stats, err := h.logs.GetSyncStatistics(r.Context(), ps.ByName("tenant_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *SyncHandler) CleanupLogs(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "days must be a positive integer", nil)
			return
		}
		days = parsed
	}

	removed, err := h.logs.CleanupSyncLogs(r.Context(), days)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Cleanup failed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"removed": removed})
}

// canonicalSyncTable maps hybrid-side table names to the schema-side tables
// the sync engine works in. Names already in schema terms pass through.
func canonicalSyncTable(table string) string {
	if mapped, ok := repositories.SchemaTableFor(table); ok {
		return mapped
	}
	return table
}

func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
	case stderrors.Is(err, errors.ErrSyncConflict):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeSyncConflict, err.Error(), nil)
	case stderrors.Is(err, errors.ErrIntegrityViolation):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeIntegrityViolation, err.Error(), nil)
	case stderrors.Is(err, errors.ErrRetriesExhausted):
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeRetriesExhausted, err.Error(), nil)
	case stderrors.Is(err, errors.ErrInvalidName), stderrors.Is(err, errors.ErrSchema):
		errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeSchemaError, err.Error(), nil)
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Sync failed", err.Error())
	}
}
