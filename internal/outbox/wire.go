package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// SchemaRegistrar resolves the registry ID for a subject's schema.
type SchemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one enrollment event bound for Kafka.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	Attempts      int // Times the event was replayed from outbox_dlq.
}

// encoder frames messages with their Schema Registry IDs, caching lookups.
type encoder struct {
	registry      SchemaRegistrar
	schemaIDCache sync.Map
}

func (e *encoder) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return kafka.Message{}, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	if err := meta.Validate(msg.Payload); err != nil {
		return kafka.Message{}, fmt.Errorf("event_type=%s: %w", msg.EventType, err)
	}

	cacheKey := msg.SchemaSubject + "::" + msg.EventType
	var schemaID int
	if cached, found := e.schemaIDCache.Load(cacheKey); found {
		schemaID = cached.(int)
	} else {
		id, err := e.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
		if err != nil {
			return kafka.Message{}, err
		}
		e.schemaIDCache.Store(cacheKey, id)
		schemaID = id
	}

	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}, nil
}

// deliver groups messages by topic and writes each group in one call.
func (e *encoder) deliver(ctx context.Context, producer messageWriter, messages []Message) error {
	batches := make(map[string][]kafka.Message)
	order := make([]string, 0)

	for _, msg := range messages {
		record, err := e.encode(ctx, msg)
		if err != nil {
			return err
		}
		if _, exists := batches[msg.Topic]; !exists {
			order = append(order, msg.Topic)
		}
		batches[msg.Topic] = append(batches[msg.Topic], record)
	}

	for _, topic := range order {
		if err := producer.WriteMessages(ctx, topic, batches[topic]...); err != nil {
			return err
		}
	}
	return nil
}

// encodeWireFormat applies Confluent framing: magic byte 0 then a big-endian schema ID.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
