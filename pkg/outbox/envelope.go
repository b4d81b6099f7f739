package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef records who or what caused the entry. API calls carry a user
// id, rule triggers carry a source string.
type ActorRef struct {
	UserID string `json:"userId,omitempty"`
	Source string `json:"source,omitempty"`
}

// PayloadEnvelope is the versioned wrapper persisted in outbox_events and
// published verbatim. Data holds the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
