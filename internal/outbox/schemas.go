package outbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"example.com/signup/internal/events"
)

const participantEnrolledSchema = `{
  "type": "object",
  "title": "ParticipantEnrolled",
  "properties": {
    "event_id": {"type": "string"},
    "activity": {"type": "string"},
    "email": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity", "email", "occurred_at"],
  "additionalProperties": false
}`

const participantWithdrawnSchema = `{
  "type": "object",
  "title": "ParticipantWithdrawn",
  "properties": {
    "event_id": {"type": "string"},
    "activity": {"type": "string"},
    "email": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity", "email", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string

	once     sync.Once
	compiled *gojsonschema.Schema
	err      error
}

// Validate checks payload against the entry's JSON schema.
func (e *SchemaCatalogEntry) Validate(payload []byte) error {
	e.once.Do(func() {
		e.compiled, e.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(e.Schema))
	})
	if e.err != nil {
		return fmt.Errorf("compile schema: %w", e.err)
	}

	result, err := e.compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("payload does not match schema: %s", strings.Join(errs, "; "))
	}
	return nil
}

var schemaCatalog = map[string]*SchemaCatalogEntry{
	events.TypeParticipantEnrolled:  {Schema: participantEnrolledSchema},
	events.TypeParticipantWithdrawn: {Schema: participantWithdrawnSchema},
}
