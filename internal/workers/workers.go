package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tenantly/internal/engine/rollback"
	syncengine "tenantly/internal/engine/sync"
)

// Workers runs the background loops: the queued sync consumer, sync log
// retention and the orphaned schema sweep.
type Workers struct {
	queue        *syncengine.Queue
	syncer       *syncengine.Syncer
	logs         *syncengine.LogStore
	coordinator  *rollback.Coordinator
	logRetention int
}

func New(queue *syncengine.Queue, syncer *syncengine.Syncer, logs *syncengine.LogStore, coordinator *rollback.Coordinator, logRetentionDays int) *Workers {
	if logRetentionDays < 1 {
		logRetentionDays = 30
	}
	return &Workers{
		queue:        queue,
		syncer:       syncer,
		logs:         logs,
		coordinator:  coordinator,
		logRetention: logRetentionDays,
	}
}

// Run starts all loops and blocks until the context is cancelled.
func (w *Workers) Run(ctx context.Context) {
	go w.runSyncConsumer(ctx)
	go w.runLogRetention(ctx)
	go w.runOrphanSweep(ctx)

	<-ctx.Done()
}

// runSyncConsumer drains the queued batch syncs one job at a time.
func (w *Workers) runSyncConsumer(ctx context.Context) {
	if w.queue == nil {
		log.Info().Msg("sync queue not configured, consumer disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("sync job dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Workers) processJob(ctx context.Context, job *syncengine.BatchSyncJob) {
	log.Info().
		Str("job_id", job.ID).
		Str("source", job.SourceTenantID).
		Str("target", job.TargetTenantID).
		Msg("processing sync job")

	if err := w.queue.MarkRunning(ctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job running")
	}

	result, err := w.syncer.BatchSync(ctx, job.SourceTenantID, job.TargetTenantID, syncengine.Options{
		Table:     job.Table,
		Strategy:  job.Strategy,
		BatchSize: job.BatchSize,
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("sync job failed")
		if markErr := w.queue.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		return
	}

	if err := w.queue.MarkCompleted(ctx, job.ID, result); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job completed")
	}
	log.Info().Str("job_id", job.ID).Int64("processed", result.TotalProcessed).Msg("sync job completed")
}

// runLogRetention prunes terminal sync log rows older than the retention
// window once a day.
func (w *Workers) runLogRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.logs.CleanupSyncLogs(ctx, w.logRetention)
			if err != nil {
				log.Error().Err(err).Msg("sync log retention failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("pruned sync logs")
			}
		}
	}
}

// runOrphanSweep drops tenant schemas no tenant row claims. Runs hourly; an
// orphan only appears after a failed rollback or manual meddling.
func (w *Workers) runOrphanSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped, err := w.coordinator.CleanupOrphanedSchemas(ctx)
			if err != nil {
				log.Error().Err(err).Msg("orphan schema sweep failed")
				continue
			}
			if len(dropped) > 0 {
				log.Warn().Strs("schemas", dropped).Msg("dropped orphaned schemas")
			}
		}
	}
}
