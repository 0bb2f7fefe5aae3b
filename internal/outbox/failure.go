package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// deadLetter copies undeliverable messages into outbox_dlq and marks them
// published in one transaction, so a failed batch is either fully parked or
// left untouched for the next poll.
func (d *Dispatcher) deadLetter(ctx context.Context, messages []Message, reason string) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin dlq tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range messages {
		entryReason := fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)
		if _, err := tx.Exec(ctx,
			`INSERT INTO outbox_dlq (event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason, retry_count)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			msg.EventID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, msg.Payload, entryReason, msg.Attempts,
		); err != nil {
			return fmt.Errorf("write dlq entry %d: %w", msg.EventID, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return fmt.Errorf("mark dead-lettered: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dlq tx: %w", err)
	}

	for _, msg := range messages {
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}
