package ledger

import (
	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
)

// CreditInput captures a request to add value to a user's balance.
type CreditInput struct {
	UserID         string              `json:"user_id"`
	AmountCents    int64               `json:"amount_cents"`
	RewardID       *string             `json:"reward_id,omitempty"`
	RewardStatus   *enums.RewardStatus `json:"reward_status,omitempty"`
	IdempotencyKey string              `json:"-"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	Actor          *outbox.ActorRef    `json:"-"`
}

// DebitInput captures a request to remove value from a user's balance.
type DebitInput struct {
	UserID         string           `json:"user_id"`
	AmountCents    int64            `json:"amount_cents"`
	IdempotencyKey string           `json:"-"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Actor          *outbox.ActorRef `json:"-"`
}

// ReverseInput captures a request to undo a previous entry with an
// offsetting reversal entry.
type ReverseInput struct {
	EntryID        uuid.UUID        `json:"entry_id"`
	Reason         string           `json:"reason,omitempty"`
	IdempotencyKey string           `json:"-"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Actor          *outbox.ActorRef `json:"-"`
}

// ListFilter narrows and pages entry listings.
type ListFilter struct {
	UserID string
	Limit  int
	Offset int
}

// Result is the outcome of a write operation. Duplicate is true when the
// entry was recorded by an earlier request with the same idempotency key.
type Result struct {
	Entry        *models.LedgerEntry
	BalanceCents int64
	Duplicate    bool
}
