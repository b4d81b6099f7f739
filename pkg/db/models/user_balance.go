package models

import "time"

// UserBalance is the materialized sum of a user's ledger entries. Rows are
// created lazily at zero and never deleted.
type UserBalance struct {
	UserID       string    `gorm:"column:user_id;primaryKey" json:"user_id"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0" json:"balance_cents"`
	Version      int64     `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default GORM naming.
func (UserBalance) TableName() string {
	return "user_balances"
}
