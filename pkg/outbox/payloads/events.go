package payloads

import (
	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/pkg/enums"
)

// EntryRecordedEvent is emitted whenever a fresh ledger entry commits.
type EntryRecordedEvent struct {
	EntryID        uuid.UUID       `json:"entry_id"`
	UserID         string          `json:"user_id"`
	EntryType      enums.EntryType `json:"entry_type"`
	AmountCents    int64           `json:"amount_cents"`
	BalanceCents   int64           `json:"balance_cents"`
	RewardID       *string         `json:"reward_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// EntryReversedEvent is emitted when an entry is reversed.
type EntryReversedEvent struct {
	ReversalEntryID uuid.UUID `json:"reversal_entry_id"`
	OriginalEntryID uuid.UUID `json:"original_entry_id"`
	UserID          string    `json:"user_id"`
	AmountCents     int64     `json:"amount_cents"`
	BalanceCents    int64     `json:"balance_cents"`
}

// RuleTriggeredEvent is emitted when a rule matches an event and its actions run.
type RuleTriggeredEvent struct {
	RuleID   uuid.UUID   `json:"rule_id"`
	RuleName string      `json:"rule_name"`
	EventID  string      `json:"event_id"`
	EntryIDs []uuid.UUID `json:"entry_ids"`
}
