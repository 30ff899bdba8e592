package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationKind classifies queued notifications
type NotificationKind string

const (
	NotifyAutoTopupDisabled NotificationKind = "auto_topup_disabled"
	NotifyRecoverySummary   NotificationKind = "recovery_summary"
	NotifyCapacityOverflow  NotificationKind = "capacity_overflow"
	NotifyBotSuspended      NotificationKind = "bot_suspended"
	NotifyBotDestroyed      NotificationKind = "bot_destroyed"
)

// Notification is a queued message for later delivery. Delivery transport is
// out of scope here; the worker marks rows sent or failed.
type Notification struct {
	ID        string           `gorm:"primaryKey;size:64" json:"id"`
	TenantID  string           `gorm:"size:64;index" json:"tenant_id"`
	Kind      NotificationKind `gorm:"size:40;not null;index" json:"kind"`
	Payload   datatypes.JSON   `json:"payload"`
	SentAt    *time.Time       `gorm:"index" json:"sent_at"`
	Attempts  int              `gorm:"not null;default:0" json:"attempts"`
	LastError string           `gorm:"size:512" json:"last_error"`
	CreatedAt time.Time        `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name
func (Notification) TableName() string {
	return "notification_queue"
}
