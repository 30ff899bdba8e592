package models

import (
	"time"

	"gorm.io/datatypes"
)

// UndoStatus records the outcome of an undo attempt on a bulk grant
type UndoStatus string

const (
	UndoNone    UndoStatus = "none"
	UndoDone    UndoStatus = "undone"
	UndoPartial UndoStatus = "partial"
)

// BulkGrantOperation is a bulk admin credit grant with a reversible window.
// TenantIDs holds the tenants whose grant succeeded; only those receive a
// compensating correction on undo.
type BulkGrantOperation struct {
	ID           string         `gorm:"primaryKey;size:64" json:"id"`
	TenantIDs    datatypes.JSON `gorm:"not null" json:"tenant_ids"`
	AmountCents  int64          `gorm:"not null" json:"amount_cents"`
	Description  string         `gorm:"size:512" json:"description"`
	UndoDeadline time.Time      `gorm:"not null" json:"undo_deadline"`
	UndoStatus   UndoStatus     `gorm:"size:20;not null;default:'none'" json:"undo_status"`
	UndoReport   datatypes.JSON `json:"undo_report"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (BulkGrantOperation) TableName() string {
	return "bulk_undo_grants"
}
