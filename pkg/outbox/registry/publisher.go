package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/pkg/config"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/outbox/payloads"
)

// EventDescriptor binds an event type to the aggregate it describes, the
// topic it publishes on and a factory for its typed payload.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is a fully decoded outbox row ready for publishing.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry holds one descriptor per supported event type. Rows with
// a type it does not know are rejected as non-retryable.
type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row as permanently undeliverable.
type NonRetryableError struct {
	Err error
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry registers the ledger event set against the configured
// topic. All ledger events share one topic; consumers filter on the
// event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.LedgerTopic == "" {
		return nil, fmt.Errorf("ledger topic is required")
	}

	reg := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventEntryRecorded,
			AggregateType:  enums.AggregateLedgerEntry,
			Topic:          cfg.LedgerTopic,
			PayloadFactory: func() interface{} { return &payloads.EntryRecordedEvent{} },
		},
		{
			EventType:      enums.EventEntryReversed,
			AggregateType:  enums.AggregateLedgerEntry,
			Topic:          cfg.LedgerTopic,
			PayloadFactory: func() interface{} { return &payloads.EntryReversedEvent{} },
		},
		{
			EventType:      enums.EventRuleTriggered,
			AggregateType:  enums.AggregateRule,
			Topic:          cfg.LedgerTopic,
			PayloadFactory: func() interface{} { return &payloads.RuleTriggeredEvent{} },
		},
	} {
		if desc.PayloadFactory == nil {
			continue
		}
		reg.byType[desc.EventType] = desc
	}

	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the envelope
// and typed payload. Every rejection here is non-retryable since the row
// itself is malformed, not the transport.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := decodePayload(desc, envelope, event.EventType)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func decodePayload(desc EventDescriptor, envelope outbox.PayloadEnvelope, eventType enums.OutboxEventType) (interface{}, error) {
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("payload missing for %s", eventType)
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, fmt.Errorf("payload factory not configured for %s", eventType)
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}
