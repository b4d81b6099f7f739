package referral

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/outbox/registry"
)

const consumerName = "referral"

type ruleEvaluator interface {
	EvaluateEvent(ctx context.Context, input rules.EvaluateInput) (*rules.Evaluation, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer feeds referral conversion events into the rule engine while
// honoring Redis idempotency.
type Consumer struct {
	evaluator   ruleEvaluator
	manager     idempotencyChecker
	logg        *logger.Logger
	decoders    *registry.DecoderRegistry
	eventFilter map[enums.OutboxEventType]struct{}
}

// NewConsumer builds a new referral consumer.
func NewConsumer(evaluator ruleEvaluator, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("rule evaluator required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventReferralConverted, 1, decodeReferralConverted)

	return &Consumer{
		evaluator: evaluator,
		manager:   manager,
		logg:      logg,
		decoders:  decoders,
		eventFilter: map[enums.OutboxEventType]struct{}{
			enums.EventReferralConverted: {},
		},
	}, nil
}

// Process evaluates the outbox envelope against the active rules if the
// event is supported.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if _, ok := c.eventFilter[eventType]; !ok {
		c.logg.Info(logCtx, "event not handled by referral consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	event, err := c.buildEventPayload(eventType, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode referral event", err)
		_ = c.manager.Delete(ctx, consumerName, eventID)
		return err
	}

	evaluation, err := c.evaluator.EvaluateEvent(ctx, rules.EvaluateInput{Event: event})
	if err != nil {
		c.logg.Error(logCtx, "rule evaluation failed", err)
		_ = c.manager.Delete(ctx, consumerName, eventID)
		return err
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"rules_evaluated": evaluation.RulesEvaluated,
		"rules_triggered": evaluation.RulesTriggered,
	})
	c.logg.Info(logCtx, "referral event evaluated")
	return nil
}

// buildEventPayload exposes the envelope data to the rule engine, with the
// envelope's event id injected so rule credits stay idempotent per event.
func (c *Consumer) buildEventPayload(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (map[string]any, error) {
	event := map[string]any{}
	if len(envelope.Data) > 0 {
		version := envelope.Version
		if version == 0 {
			version = 1
		}
		decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
		if err != nil {
			return nil, err
		}
		if m, ok := decoded.(map[string]any); ok && m != nil {
			event = m
		}
	}
	event["event_id"] = envelope.EventID
	return event, nil
}

func decodeReferralConverted(payload json.RawMessage) (interface{}, error) {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if event == nil {
		event = map[string]any{}
	}
	return event, nil
}
