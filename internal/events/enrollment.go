// Package events defines the enrollment event payloads published to Kafka.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/signup/internal/domain"
)

const (
	// DefaultTopic is the Kafka topic carrying roster changes.
	DefaultTopic = "activity_enrollments"

	TypeParticipantEnrolled  = "participant.enrolled"
	TypeParticipantWithdrawn = "participant.withdrawn"

	// AggregateActivity is the aggregate type recorded on outbox rows.
	AggregateActivity = "activity"
)

// ParticipantEnrolled is emitted when a student signs up for an activity.
type ParticipantEnrolled struct {
	EventID    string    `json:"event_id"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParticipantWithdrawn is emitted when a student unregisters from an activity.
type ParticipantWithdrawn struct {
	EventID    string    `json:"event_id"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromDomain maps a roster change to its event type and payload.
func FromDomain(e domain.EnrollmentEvent) (string, any, error) {
	id := uuid.NewString()
	at := e.OccurredAt.UTC()
	switch e.Change {
	case domain.EnrollmentAdded:
		return TypeParticipantEnrolled, ParticipantEnrolled{EventID: id, Activity: e.Activity, Email: e.Email, OccurredAt: at}, nil
	case domain.EnrollmentRemoved:
		return TypeParticipantWithdrawn, ParticipantWithdrawn{EventID: id, Activity: e.Activity, Email: e.Email, OccurredAt: at}, nil
	default:
		return "", nil, fmt.Errorf("unknown enrollment change %q", e.Change)
	}
}

// SchemaSubject follows the Schema Registry TopicNameStrategy.
func SchemaSubject(topic string) string {
	return topic + "-value"
}
