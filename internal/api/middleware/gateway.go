package middleware

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/lifecycle"
	syncengine "tenantly/internal/engine/sync"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/pkg/metrics"
	"tenantly/internal/platform/audit"
	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/tenant"
)

// Gateway wraps every tenant-scoped request: resolve the tenant, check the
// caller's membership, switch the connection to the tenant schema, run the
// handler, switch back on every exit path, and emit one audit and one
// performance record regardless of outcome.
type Gateway struct {
	resolver *tenant.Resolver
	orch     *lifecycle.Orchestrator
	syncer   *syncengine.Syncer
	queue    *syncengine.Queue
	audit    *audit.Logger
}

func NewGateway(resolver *tenant.Resolver, orch *lifecycle.Orchestrator, syncer *syncengine.Syncer, queue *syncengine.Queue, auditLogger *audit.Logger) *Gateway {
	return &Gateway{resolver: resolver, orch: orch, syncer: syncer, queue: queue, audit: auditLogger}
}

// statusRecorder captures the downstream status for metrics and audit.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (g *Gateway) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var memBefore runtime.MemStats
		runtime.ReadMemStats(&memBefore)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		pathParam := ""
		if ps, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
			pathParam = ps.ByName("tenant_id")
		}

		t, err := g.resolver.Resolve(r, pathParam)
		if err != nil {
			errors.WriteError(rec, http.StatusInternalServerError, errors.ErrCodeInternal, "Tenant resolution failed", nil)
			g.finish(rec, r, nil, "", start, memBefore)
			return
		}
		if t == nil {
			errors.WriteError(rec, http.StatusNotFound, errors.ErrCodeNotFound, "Tenant not found", nil)
			g.finish(rec, r, nil, "", start, memBefore)
			return
		}

		claims, _ := r.Context().Value(apiContext.Claims).(*auth.Claims)
		userID := ""
		if claims != nil {
			userID = claims.IdentityID
		}

		switch t.Status {
		case models.TenantInactive:
			errors.WriteError(rec, http.StatusForbidden, errors.ErrCodeForbidden, "Tenant is not active", nil)
			g.finish(rec, r, t, userID, start, memBefore)
			return
		case models.TenantMaintenance:
			if claims == nil || !claims.SuperAdmin {
				errors.WriteError(rec, http.StatusServiceUnavailable, errors.ErrCodeMaintenance, "Tenant is under maintenance", nil)
				g.finish(rec, r, t, userID, start, memBefore)
				return
			}
		}

		allowed, err := g.resolver.ValidateUserAccess(r.Context(), claims, t)
		if err != nil {
			errors.WriteError(rec, http.StatusInternalServerError, errors.ErrCodeInternal, "Membership lookup failed", nil)
			g.finish(rec, r, t, userID, start, memBefore)
			return
		}
		if !allowed {
			errors.WriteError(rec, http.StatusForbidden, errors.ErrCodeAccessDenied, "Access denied", nil)
			g.finish(rec, r, t, userID, start, memBefore)
			return
		}

		ctx := tenant.WithCurrent(r.Context(), t)

		// A migrated tenant gets a connection pinned to its schema. A schema
		// switch failure is its own 5xx, never conflated with a downstream
		// application error.
		var sess *database.Session
		if t.Migrated() {
			sess, err = g.orch.SwitchTo(ctx, t)
			if err != nil {
				metrics.SchemaSwitchErrors.Inc()
				log.Error().Err(err).Str("tenant_id", t.ID).Msg("schema switch failed")
				errors.WriteError(rec, http.StatusInternalServerError, errors.ErrCodeSchemaError, "Tenant schema error", nil)
				g.finish(rec, r, t, userID, start, memBefore)
				return
			}
			ctx = context.WithValue(ctx, apiContext.Session, sess)
		}

		// Switch back and account on every exit path, panics included.
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("tenant_id", t.ID).Msg("handler panicked")
				errors.WriteError(rec, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
			}
			if sess != nil {
				if err := g.orch.SwitchToShared(context.Background(), sess); err != nil {
					log.Error().Err(err).Str("tenant_id", t.ID).Msg("failed to switch back to shared schema")
				}
			}
			g.finish(rec, r, t, userID, start, memBefore)
		}()

		// Nudge the sync queue for this tenant; failures are logged, never
		// abort the request.
		g.kickPendingSync(ctx, t)

		next(rec, r.WithContext(ctx))
	}
}

// kickPendingSync claims the tenant's queued sync jobs and runs them off the
// request path. Failures are logged and recorded on the job, never surfaced
// to the request.
func (g *Gateway) kickPendingSync(ctx context.Context, t *models.Tenant) {
	if g.queue == nil || g.syncer == nil {
		return
	}
	jobs, err := g.queue.TakeForTenant(ctx, t.ID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", t.ID).Msg("pending sync check failed")
		return
	}
	// Jobs outlive the request and may touch other tenants, so they run on a
	// context detached from the request's cancellation and active tenant.
	jobCtx := tenant.Clear(context.WithoutCancel(ctx))
	for _, job := range jobs {
		go g.runSyncJob(jobCtx, job)
	}
}

func (g *Gateway) runSyncJob(ctx context.Context, job syncengine.BatchSyncJob) {
	g.queue.MarkRunning(ctx, job.ID)

	result, err := g.syncer.BatchSync(ctx, job.SourceTenantID, job.TargetTenantID, syncengine.Options{
		Table:     job.Table,
		Strategy:  job.Strategy,
		BatchSize: job.BatchSize,
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("pending sync job failed")
		g.queue.MarkFailed(ctx, job.ID, err.Error())
		return
	}
	g.queue.MarkCompleted(ctx, job.ID, result)
}

// finish writes the audit and performance records and observes metrics.
func (g *Gateway) finish(rec *statusRecorder, r *http.Request, t *models.Tenant, userID string, start time.Time, memBefore runtime.MemStats) {
	elapsed := time.Since(start)

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	var memUsed uint64
	if memAfter.TotalAlloc > memBefore.TotalAlloc {
		memUsed = memAfter.TotalAlloc - memBefore.TotalAlloc
	}

	if t != nil {
		g.audit.LogTenantAccess(t.ID, userID)
	}
	g.audit.LogRequestPerformance(r.URL.Path, elapsed, memUsed)

	status := strconv.Itoa(rec.status)
	metrics.RequestCounter.WithLabelValues(r.Method, status).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method, status).Observe(elapsed.Seconds())
}
