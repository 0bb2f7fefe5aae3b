package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Replayer moves dead-lettered events back into the outbox with exponential
// backoff, quarantining entries that keep failing.
type Replayer struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewReplayer constructs a Replayer with the provided pool and retry configuration.
func NewReplayer(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, opts ...Option) *Replayer {
	o := buildOptions(opts)
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &Replayer{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: o.logger}
}

// Run calls RunOnce every interval until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, err := r.RunOnce(ctx, batchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("dlq replay error", zap.Error(err))
			} else if requeued > 0 {
				r.logger.Info("dlq entries requeued", zap.Int("count", requeued))
			}
		}
	}
}

// RunOnce processes a batch of DLQ entries and returns how many were put back
// into the outbox.
func (r *Replayer) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}
	entries, err := pgx.CollectRows(rows, scanDLQEntry)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, entry := range entries {
		ok, procErr := r.handleEntry(ctx, entry)
		if procErr != nil {
			err = errors.Join(err, fmt.Errorf("dlq entry %d: %w", entry.ID, procErr))
			continue
		}
		if ok {
			requeued++
		}
	}
	r.updateBacklog(ctx)
	return requeued, err
}

// handleEntry quarantines, schedules, or requeues a single entry. It reports
// whether the entry went back into the outbox.
func (r *Replayer) handleEntry(ctx context.Context, entry dlqEntry) (bool, error) {
	if entry.RetryCount >= r.maxRetries {
		if _, err := r.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
			"retry limit reached", entry.ID,
		); err != nil {
			return false, err
		}
		recordDLQQuarantined(entry)
		r.logger.Warn("dlq entry quarantined",
			zap.Int64("dlq_id", entry.ID),
			zap.String("event_type", entry.EventType),
			zap.Int("retry_count", entry.RetryCount),
		)
		return false, nil
	}

	if entry.NextRetryAt == nil {
		delay := r.backoffDelay(entry.RetryCount + 1)
		if _, err := r.pool.Exec(ctx,
			`UPDATE outbox_dlq
                SET next_retry_at = NOW() + make_interval(secs => $1),
                    last_attempt_at = NOW()
              WHERE dlq_id = $2`,
			delay.Seconds(), entry.ID,
		); err != nil {
			return false, err
		}
		recordDLQRetry(entry)
		return false, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := requeueOutbox(ctx, tx, entry); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	recordDLQRequeued(entry)
	return true, nil
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (r *Replayer) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * r.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

func (r *Replayer) updateBacklog(ctx context.Context) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
}

// requeueOutbox reinserts the payload into the outbox, carrying the attempt count.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempts)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, stmt,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
		entry.RetryCount+1,
	)
	return err
}

// dlqEntry is an outbox_dlq row selected for replay.
type dlqEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
	NextRetryAt   *time.Time
}

func scanDLQEntry(row pgx.CollectableRow) (dlqEntry, error) {
	var entry dlqEntry
	err := row.Scan(&entry.ID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason,
		&entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount, &entry.NextRetryAt)
	return entry, err
}
