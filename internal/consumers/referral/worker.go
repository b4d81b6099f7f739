package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
)

type processor interface {
	Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error
}

// Worker consumes referral events from Pub/Sub and hands them to the consumer.
type Worker struct {
	subscription *gcppubsub.Subscriber
	consumer     processor
	logg         *logger.Logger
}

// NewWorker creates a new referral worker.
func NewWorker(subscription *gcppubsub.Subscriber, consumer processor, logg *logger.Logger) (*Worker, error) {
	if subscription == nil {
		return nil, errors.New("referral subscription is required")
	}
	if consumer == nil {
		return nil, errors.New("referral consumer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		subscription: subscription,
		consumer:     consumer,
		logg:         logg,
	}, nil
}

// Run starts consuming referral messages until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return w.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if w.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns true when the message should be nacked for redelivery.
func (w *Worker) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := w.logg.WithFields(ctx, map[string]any{"message_id": msg.ID})

	eventType, envelope, err := decodeMessage(msg)
	if err != nil {
		// malformed messages never become valid, drop them
		logCtx = w.logg.WithFields(logCtx, map[string]any{"error": err.Error()})
		w.logg.Warn(logCtx, "invalid referral message")
		return false
	}

	if err := w.consumer.Process(logCtx, eventType, envelope); err != nil {
		w.logg.Error(logCtx, "referral message processing failed", err)
		return true
	}
	return false
}

func decodeMessage(msg *gcppubsub.Message) (enums.OutboxEventType, outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return "", envelope, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return "", envelope, fmt.Errorf("event_type: %w", err)
	}

	if strings.TrimSpace(envelope.EventID) == "" {
		envelope.EventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if envelope.EventID == "" {
		return "", envelope, errors.New("event_id missing")
	}

	return eventType, envelope, nil
}
