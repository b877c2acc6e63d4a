package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/repositories"
)

// Options controls one sync call.
type Options struct {
	Table             string // canonical table, default users
	Strategy          string // conflict resolution, default source_wins
	Transform         Transform
	ValidateIntegrity bool
	BatchSize         int
	MaxRetries        int
}

func (o Options) withDefaults(defaults Options) Options {
	if o.Table == "" {
		o.Table = "users"
	}
	if o.Strategy == "" {
		o.Strategy = SourceWins
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaults.BatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	return o
}

// Metrics captures what one sync call did.
type Metrics struct {
	Duration         time.Duration `json:"duration"`
	RecordsProcessed int64         `json:"records_processed"`
}

// Result of a single-entity sync.
type Result struct {
	Success           bool     `json:"success"`
	ConflictsResolved int      `json:"conflicts_resolved"`
	RetriesAttempted  int      `json:"retries_attempted"`
	Violations        []string `json:"violations,omitempty"`
	Metrics           Metrics  `json:"performance_metrics"`
}

// BatchResult of a paged sync.
type BatchResult struct {
	Success          bool    `json:"success"`
	TotalProcessed   int64   `json:"total_processed"`
	BatchesProcessed int     `json:"batches_processed"`
	RetriesAttempted int     `json:"retries_attempted"`
	Metrics          Metrics `json:"performance_metrics"`
}

// Syncer copies or merges entities between two tenant schemas. Rows correlate
// across schemas by external_id, never by schema-local primary key.
type Syncer struct {
	db       *sql.DB
	tenants  *repositories.TenantRepository
	logs     *LogStore
	defaults Options
	backoff  time.Duration
}

func NewSyncer(db *sql.DB, tenants *repositories.TenantRepository, logs *LogStore, batchSize, maxRetries int, backoff time.Duration) *Syncer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Syncer{
		db:       db,
		tenants:  tenants,
		logs:     logs,
		defaults: Options{BatchSize: batchSize, MaxRetries: maxRetries},
		backoff:  backoff,
	}
}

func (s *Syncer) schemaFor(ctx context.Context, tenantID string) (string, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%w: tenant %s", errors.ErrNotFound, tenantID)
	}
	if !t.Migrated() {
		return "", fmt.Errorf("%w: tenant %s is not schema-migrated", errors.ErrSchema, tenantID)
	}
	return t.SchemaName.String, nil
}

// SyncEntity copies one entity's row from source to target, resolving a
// conflict per the requested strategy when the target already holds the
// correlated row.
func (s *Syncer) SyncEntity(ctx context.Context, entityID, sourceTenantID, targetTenantID string, opts Options) (*Result, error) {
	opts = opts.withDefaults(s.defaults)
	if err := validStrategy(opts.Strategy); err != nil {
		return nil, err
	}
	columns, ok := schema.RequiredColumns(opts.Table)
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", errors.ErrInvalidName, opts.Table)
	}

	start := time.Now()
	logID, err := s.logs.Start(ctx, "entity_sync", sourceTenantID, targetTenantID)
	if err != nil {
		return nil, err
	}

	result, err := s.syncEntity(ctx, entityID, sourceTenantID, targetTenantID, opts, columns)
	elapsed := time.Since(start)
	if err != nil {
		s.logs.Fail(ctx, logID, 0, elapsed, err.Error())
		return nil, err
	}
	result.Metrics.Duration = elapsed

	if result.Success {
		s.logs.Complete(ctx, logID, result.Metrics.RecordsProcessed, elapsed)
	} else {
		s.logs.Fail(ctx, logID, result.Metrics.RecordsProcessed, elapsed, strings.Join(result.Violations, "; "))
	}
	return result, nil
}

func (s *Syncer) syncEntity(ctx context.Context, entityID, sourceTenantID, targetTenantID string, opts Options, columns []string) (*Result, error) {
	sourceSchema, err := s.schemaFor(ctx, sourceTenantID)
	if err != nil {
		return nil, err
	}
	targetSchema, err := s.schemaFor(ctx, targetTenantID)
	if err != nil {
		return nil, err
	}

	source, err := s.readRow(ctx, sourceSchema, opts.Table, columns, entityID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: entity %s in %s.%s", errors.ErrNotFound, entityID, sourceSchema, opts.Table)
	}
	if opts.Transform != nil {
		source = opts.Transform(source)
		source["external_id"] = entityID
	}

	result := &Result{Success: true}
	target, err := s.readRow(ctx, targetSchema, opts.Table, columns, entityID)
	if err != nil {
		return nil, err
	}

	switch {
	case target == nil:
		if err := s.insertRow(ctx, targetSchema, opts.Table, columns, source); err != nil {
			return nil, err
		}
		result.Metrics.RecordsProcessed = 1
	default:
		result.ConflictsResolved = 1
		switch opts.Strategy {
		case SourceWins:
			if err := s.updateRow(ctx, targetSchema, opts.Table, columns, source, entityID); err != nil {
				return nil, err
			}
			result.Metrics.RecordsProcessed = 1
		case TargetWins:
			// Target already holds its preferred copy; nothing to write.
		case Merge:
			merged := mergeRows(source, target, columns)
			merged["external_id"] = entityID
			if err := s.updateRow(ctx, targetSchema, opts.Table, columns, merged, entityID); err != nil {
				return nil, err
			}
			result.Metrics.RecordsProcessed = 1
		}
	}

	if opts.ValidateIntegrity {
		check, err := s.ValidateDataIntegrity(ctx, entityID, sourceTenantID, targetTenantID, opts.Table)
		if err != nil {
			return nil, err
		}
		if !check.Passed {
			result.Success = false
			result.Violations = check.Violations
		}
	}
	return result, nil
}

// IntegrityCheck is the result of an out-of-band drift check.
type IntegrityCheck struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}

// ValidateDataIntegrity diffs one entity field by field across two schemas.
// Usable outside a sync run to catch drift introduced after the fact.
func (s *Syncer) ValidateDataIntegrity(ctx context.Context, entityID, sourceTenantID, targetTenantID, table string) (*IntegrityCheck, error) {
	columns, ok := schema.RequiredColumns(table)
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", errors.ErrInvalidName, table)
	}
	sourceSchema, err := s.schemaFor(ctx, sourceTenantID)
	if err != nil {
		return nil, err
	}
	targetSchema, err := s.schemaFor(ctx, targetTenantID)
	if err != nil {
		return nil, err
	}

	source, err := s.readRow(ctx, sourceSchema, table, columns, entityID)
	if err != nil {
		return nil, err
	}
	target, err := s.readRow(ctx, targetSchema, table, columns, entityID)
	if err != nil {
		return nil, err
	}

	check := &IntegrityCheck{Passed: true}
	switch {
	case source == nil && target == nil:
		check.Passed = false
		check.Violations = append(check.Violations, fmt.Sprintf("entity %s missing from both schemas", entityID))
	case source == nil:
		check.Passed = false
		check.Violations = append(check.Violations, fmt.Sprintf("entity %s missing from source", entityID))
	case target == nil:
		check.Passed = false
		check.Violations = append(check.Violations, fmt.Sprintf("entity %s missing from target", entityID))
	default:
		check.Violations = diffRows(source, target, columns)
		check.Passed = len(check.Violations) == 0
	}
	return check, nil
}

// BatchSync pages through every entity of a table in fixed-size batches. A
// failing batch is retried with exponential backoff; the remainder is never
// silently dropped.
func (s *Syncer) BatchSync(ctx context.Context, sourceTenantID, targetTenantID string, opts Options) (*BatchResult, error) {
	return s.pagedSync(ctx, "batch_sync", sourceTenantID, targetTenantID, opts, nil)
}

// IncrementalSync syncs only entities updated after since. Append-only tables
// such as activity_logs carry no updated_at column and are refused.
func (s *Syncer) IncrementalSync(ctx context.Context, sourceTenantID, targetTenantID string, since time.Time, opts Options) (*BatchResult, error) {
	opts = opts.withDefaults(s.defaults)
	if columns, ok := schema.RequiredColumns(opts.Table); ok {
		tracked := false
		for _, col := range columns {
			if col == "updated_at" {
				tracked = true
				break
			}
		}
		if !tracked {
			return nil, fmt.Errorf("%w: table %s has no updated_at column to filter on", errors.ErrInvalidName, opts.Table)
		}
	}
	sinceUnix := since.Unix()
	return s.pagedSync(ctx, "incremental_sync", sourceTenantID, targetTenantID, opts, &sinceUnix)
}

func (s *Syncer) pagedSync(ctx context.Context, operation, sourceTenantID, targetTenantID string, opts Options, since *int64) (*BatchResult, error) {
	opts = opts.withDefaults(s.defaults)
	if err := validStrategy(opts.Strategy); err != nil {
		return nil, err
	}
	columns, ok := schema.RequiredColumns(opts.Table)
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", errors.ErrInvalidName, opts.Table)
	}

	start := time.Now()
	logID, err := s.logs.Start(ctx, operation, sourceTenantID, targetTenantID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Success: true}
	sourceSchema, err := s.schemaFor(ctx, sourceTenantID)
	if err != nil {
		s.logs.Fail(ctx, logID, 0, time.Since(start), err.Error())
		return nil, err
	}

	offset := 0
	for {
		keys, err := s.listKeys(ctx, sourceSchema, opts.Table, opts.BatchSize, offset, since)
		if err != nil {
			s.logs.Fail(ctx, logID, result.TotalProcessed, time.Since(start), err.Error())
			return nil, err
		}
		if len(keys) == 0 {
			break
		}

		processed, err := s.syncBatchWithRetry(ctx, keys, sourceTenantID, targetTenantID, opts, columns, result)
		result.TotalProcessed += processed
		if err != nil {
			result.Success = false
			s.logs.Fail(ctx, logID, result.TotalProcessed, time.Since(start), err.Error())
			result.Metrics = Metrics{Duration: time.Since(start), RecordsProcessed: result.TotalProcessed}
			return result, err
		}
		result.BatchesProcessed++
		offset += len(keys)
		if len(keys) < opts.BatchSize {
			break
		}
	}

	result.Metrics = Metrics{Duration: time.Since(start), RecordsProcessed: result.TotalProcessed}
	s.logs.Complete(ctx, logID, result.TotalProcessed, result.Metrics.Duration)
	return result, nil
}

// syncBatchWithRetry runs one batch, retrying with bounded exponential backoff.
// Exhausting the retry budget is a terminal failure, never an infinite loop.
func (s *Syncer) syncBatchWithRetry(ctx context.Context, keys []string, sourceTenantID, targetTenantID string, opts Options, columns []string, result *BatchResult) (int64, error) {
	var lastErr error
	backoff := s.backoff

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			result.RetriesAttempted++
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			backoff *= 2
		}

		processed, err := s.syncBatch(ctx, keys, sourceTenantID, targetTenantID, opts, columns)
		if err == nil {
			return processed, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("sync batch failed")
	}
	return 0, fmt.Errorf("%w: after %d retries: %v", errors.ErrRetriesExhausted, opts.MaxRetries, lastErr)
}

func (s *Syncer) syncBatch(ctx context.Context, keys []string, sourceTenantID, targetTenantID string, opts Options, columns []string) (int64, error) {
	var processed int64
	for _, key := range keys {
		if _, err := s.syncEntity(ctx, key, sourceTenantID, targetTenantID, opts, columns); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// BidirectionalResult of a two-way merge.
type BidirectionalResult struct {
	TotalSynced int     `json:"total_synced"`
	Metrics     Metrics `json:"performance_metrics"`
}

// BidirectionalSync merges every entity present in either tenant into both.
// Divergent copies are resolved with the merge rule; one-sided entities are
// copied across.
func (s *Syncer) BidirectionalSync(ctx context.Context, tenantA, tenantB string, opts Options) (*BidirectionalResult, error) {
	opts = opts.withDefaults(s.defaults)
	opts.Strategy = Merge
	columns, ok := schema.RequiredColumns(opts.Table)
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", errors.ErrInvalidName, opts.Table)
	}

	start := time.Now()
	logID, err := s.logs.Start(ctx, "bidirectional_sync", tenantA, tenantB)
	if err != nil {
		return nil, err
	}

	result, err := s.bidirectional(ctx, tenantA, tenantB, opts, columns)
	elapsed := time.Since(start)
	if err != nil {
		s.logs.Fail(ctx, logID, 0, elapsed, err.Error())
		return nil, err
	}
	result.Metrics.Duration = elapsed
	s.logs.Complete(ctx, logID, result.Metrics.RecordsProcessed, elapsed)
	return result, nil
}

func (s *Syncer) bidirectional(ctx context.Context, tenantA, tenantB string, opts Options, columns []string) (*BidirectionalResult, error) {
	schemaA, err := s.schemaFor(ctx, tenantA)
	if err != nil {
		return nil, err
	}
	schemaB, err := s.schemaFor(ctx, tenantB)
	if err != nil {
		return nil, err
	}

	keysA, err := s.allKeys(ctx, schemaA, opts.Table)
	if err != nil {
		return nil, err
	}
	keysB, err := s.allKeys(ctx, schemaB, opts.Table)
	if err != nil {
		return nil, err
	}

	union := make(map[string]bool, len(keysA)+len(keysB))
	var ordered []string
	for _, k := range append(keysA, keysB...) {
		if !union[k] {
			union[k] = true
			ordered = append(ordered, k)
		}
	}

	result := &BidirectionalResult{}
	for _, key := range ordered {
		rowA, err := s.readRow(ctx, schemaA, opts.Table, columns, key)
		if err != nil {
			return nil, err
		}
		rowB, err := s.readRow(ctx, schemaB, opts.Table, columns, key)
		if err != nil {
			return nil, err
		}

		switch {
		case rowA != nil && rowB == nil:
			if err := s.insertRow(ctx, schemaB, opts.Table, columns, rowA); err != nil {
				return nil, err
			}
		case rowA == nil && rowB != nil:
			if err := s.insertRow(ctx, schemaA, opts.Table, columns, rowB); err != nil {
				return nil, err
			}
		default:
			merged := mergeRows(rowA, rowB, columns)
			merged["external_id"] = key
			if err := s.updateRow(ctx, schemaA, opts.Table, columns, merged, key); err != nil {
				return nil, err
			}
			if err := s.updateRow(ctx, schemaB, opts.Table, columns, merged, key); err != nil {
				return nil, err
			}
		}
		result.TotalSynced++
		result.Metrics.RecordsProcessed++
	}
	return result, nil
}

// Row access helpers. Column lists come from the canonical table definitions,
// never from callers, so identifiers are allow-listed by construction.

func (s *Syncer) readRow(ctx context.Context, schemaName, table string, columns []string, externalID string) (Row, error) {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s WHERE external_id = $1",
		strings.Join(columns, ", "), pq.QuoteIdentifier(schemaName), table)

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	err := s.db.QueryRowContext(ctx, query, externalID).Scan(ptrs...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	row := make(Row, len(columns))
	for i, col := range columns {
		row[col] = normalize(values[i])
	}
	return row, nil
}

func (s *Syncer) insertRow(ctx context.Context, schemaName, table string, columns []string, row Row) error {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return err
	}
	var cols []string
	var placeholders []string
	var args []interface{}
	for _, col := range columns {
		if col == "id" {
			continue
		}
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, row[col])
	}

	query := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		pq.QuoteIdentifier(schemaName), table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Syncer) updateRow(ctx context.Context, schemaName, table string, columns []string, row Row, externalID string) error {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return err
	}
	var sets []string
	var args []interface{}
	for _, col := range columns {
		if col == "id" || col == "external_id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, row[col])
	}
	args = append(args, externalID)

	query := fmt.Sprintf("UPDATE %s.%s SET %s WHERE external_id = $%d",
		pq.QuoteIdentifier(schemaName), table, strings.Join(sets, ", "), len(args))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Syncer) listKeys(ctx context.Context, schemaName, table string, limit, offset int, since *int64) ([]string, error) {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT external_id FROM %s.%s", pq.QuoteIdentifier(schemaName), table)
	var args []interface{}
	if since != nil {
		query += " WHERE updated_at > $1"
		args = append(args, *since)
	}
	query += fmt.Sprintf(" ORDER BY external_id LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Syncer) allKeys(ctx context.Context, schemaName, table string) ([]string, error) {
	return s.listKeys(ctx, schemaName, table, 1<<30, 0, nil)
}
