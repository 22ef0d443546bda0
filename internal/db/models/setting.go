package models

import "time"

// Setting is an operator-managed key/value override.
type Setting struct {
	Key         string    `db:"key" json:"key"`
	Value       string    `db:"value" json:"value"`
	Description *string   `db:"description" json:"description,omitempty"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
	UpdatedBy   *string   `db:"updated_by" json:"updated_by,omitempty"`
}
