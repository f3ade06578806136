package models

import "time"

// CustomOperator is an operator prefix rule persisted through the API
type CustomOperator struct {
	ID        int64     `json:"id" db:"id"`
	Prefix    string    `json:"prefix" db:"prefix" validate:"required"`
	Name      string    `json:"name" db:"name" validate:"required"`
	Priority  int       `json:"priority" db:"priority"`
	Color     string    `json:"color,omitempty" db:"color"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HideRuleType selects the identifier a hide rule applies to
type HideRuleType string

const (
	HideRuleDevAddr HideRuleType = "dev_addr"
	HideRuleJoinEUI HideRuleType = "join_eui"
)

// HideRule hides matching devices from the front end views
type HideRule struct {
	ID          int64        `json:"id" db:"id"`
	Type        HideRuleType `json:"type" db:"type" validate:"required"`
	Prefix      string       `json:"prefix" db:"prefix" validate:"required"`
	Description string       `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
}

// DeviceRange is a DevAddr range the operator considers its own devices
type DeviceRange struct {
	Type        HideRuleType `json:"type"`
	Prefix      string       `json:"prefix"`
	Description string       `json:"description"`
}
