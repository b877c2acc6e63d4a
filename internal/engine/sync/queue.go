package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	jobsKey         = "tenantly:sync:jobs"
	jobStatusPrefix = "tenantly:sync:job:"
	jobStatusTTL    = 7 * 24 * time.Hour
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// BatchSyncJob is the envelope a queued sync travels in.
type BatchSyncJob struct {
	ID             string `json:"id"`
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`
	Table          string `json:"table"`
	Strategy       string `json:"strategy"`
	BatchSize      int    `json:"batch_size"`
	EnqueuedAt     int64  `json:"enqueued_at"`
}

// Queue is the Redis-backed job queue for large syncs: the synchronous API
// only enqueues and hands back a job id for polling; a worker does the work.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a batch sync job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, job BatchSyncJob) (string, error) {
	job.ID = "job_" + uuid.New().String()
	job.EnqueuedAt = time.Now().Unix()

	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, jobsKey, payload).Err(); err != nil {
		return "", err
	}
	if err := q.setStatus(ctx, job.ID, JobPending, ""); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job. Returns nil on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*BatchSyncJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, jobsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	// BRPop returns [key, value]
	var job BatchSyncJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *Queue) setStatus(ctx context.Context, jobID, status, detail string) error {
	key := jobStatusPrefix + jobID
	fields := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}
	if detail != "" {
		fields["detail"] = detail
	}
	if err := q.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return q.rdb.Expire(ctx, key, jobStatusTTL).Err()
}

func (q *Queue) MarkRunning(ctx context.Context, jobID string) error {
	return q.setStatus(ctx, jobID, JobRunning, "")
}

func (q *Queue) MarkCompleted(ctx context.Context, jobID string, result *BatchResult) error {
	detail, _ := json.Marshal(result)
	return q.setStatus(ctx, jobID, JobCompleted, string(detail))
}

func (q *Queue) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return q.setStatus(ctx, jobID, JobFailed, errMsg)
}

// Status returns the stored fields for a job, or nil if unknown.
func (q *Queue) Status(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := q.rdb.HGetAll(ctx, jobStatusPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// PendingCount reports how many jobs are waiting.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, jobsKey).Result()
}

// decodeJobFor parses a queued payload and reports whether the job involves
// the tenant, as source or target.
func decodeJobFor(payload []byte, tenantID string) (*BatchSyncJob, bool) {
	var job BatchSyncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, false
	}
	if job.SourceTenantID != tenantID && job.TargetTenantID != tenantID {
		return nil, false
	}
	return &job, true
}

// TakeForTenant removes and returns the queued jobs that involve the tenant.
// Unrelated jobs stay queued for the worker. A payload that was already
// consumed between the scan and the remove is skipped, not duplicated.
func (q *Queue) TakeForTenant(ctx context.Context, tenantID string) ([]BatchSyncJob, error) {
	payloads, err := q.rdb.LRange(ctx, jobsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var jobs []BatchSyncJob
	for _, payload := range payloads {
		job, ok := decodeJobFor([]byte(payload), tenantID)
		if !ok {
			continue
		}
		removed, err := q.rdb.LRem(ctx, jobsKey, 1, payload).Result()
		if err != nil {
			return jobs, err
		}
		if removed > 0 {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}
