package outbox

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"example.com/signup/internal/domain"
	"example.com/signup/internal/events"
)

// Publisher sends enrollment events straight to Kafka. It serves storage
// backends without an outbox table.
type Publisher struct {
	producer messageWriter
	encoder  *encoder
	topic    string
	logger   *zap.Logger
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher constructs a Publisher writing to topic.
func NewPublisher(producer messageWriter, registry SchemaRegistrar, topic string, opts ...Option) *Publisher {
	o := buildOptions(opts)
	if topic == "" {
		topic = events.DefaultTopic
	}
	return &Publisher{
		producer: producer,
		encoder:  &encoder{registry: registry},
		topic:    topic,
		logger:   o.logger,
	}
}

// PublishEnrollment implements domain.EventPublisher.
func (p *Publisher) PublishEnrollment(ctx context.Context, event domain.EnrollmentEvent) error {
	eventType, payload, err := events.FromDomain(event)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := Message{
		AggregateType: events.AggregateActivity,
		AggregateID:   event.Activity,
		EventType:     eventType,
		Topic:         p.topic,
		SchemaSubject: events.SchemaSubject(p.topic),
		PartitionKey:  event.Activity,
		Payload:       raw,
	}
	if err := p.encoder.deliver(ctx, p.producer, []Message{msg}); err != nil {
		failedCounter.Inc()
		return err
	}
	deliveredCounter.Inc()
	p.logger.Debug("enrollment event published", zap.String("event_type", eventType), zap.String("activity", event.Activity))
	return nil
}
