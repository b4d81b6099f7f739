package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Rule stores a declarative reward rule evaluated against inbound events.
type Rule struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	Description *string         `gorm:"column:description" json:"description,omitempty"`
	RuleJSON    json.RawMessage `gorm:"column:rule_json;type:jsonb;not null" json:"rule_json"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default GORM naming.
func (Rule) TableName() string {
	return "rules"
}
