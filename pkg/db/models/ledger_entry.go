package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pineoslabs/referral-ledger/pkg/enums"
)

// LedgerEntry is an immutable movement of value. Rows are only ever inserted;
// corrections happen through compensating reversal entries.
type LedgerEntry struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string              `gorm:"column:user_id;not null;index:ix_ledger_entries_user_id" json:"user_id"`
	EntryType      enums.EntryType     `gorm:"column:entry_type;type:entry_type_enum;not null" json:"entry_type"`
	AmountCents    int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	RewardID       *string             `gorm:"column:reward_id" json:"reward_id,omitempty"`
	RewardStatus   *enums.RewardStatus `gorm:"column:reward_status;type:reward_status_enum" json:"reward_status,omitempty"`
	IdempotencyKey string              `gorm:"column:idempotency_key;not null;uniqueIndex:ux_ledger_entries_idempotency_key" json:"idempotency_key"`
	RelatedEntryID *uuid.UUID          `gorm:"column:related_entry_id;type:uuid" json:"related_entry_id,omitempty"`
	AuditData      json.RawMessage     `gorm:"column:audit_data;type:jsonb" json:"audit_data,omitempty"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName overrides the default GORM naming.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
