package consumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditHandler appends consumed enrollment events to enrollment_event_log.
type AuditHandler struct {
	pool *pgxpool.Pool
}

// NewAuditHandler constructs a handler backed by the provided pool.
func NewAuditHandler(pool *pgxpool.Pool) *AuditHandler {
	return &AuditHandler{pool: pool}
}

// Handle stores the event. Redelivered records are ignored by offset.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO enrollment_event_log (event_type, aggregate_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType,
		msg.AggregateID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		receivedAt,
	)
	return err
}
