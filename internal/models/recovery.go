package models

import (
	"time"

	"gorm.io/datatypes"
)

// RecoveryTrigger says why a recovery event started
type RecoveryTrigger string

const (
	TriggerHeartbeatTimeout RecoveryTrigger = "heartbeat_timeout"
	TriggerManual           RecoveryTrigger = "manual"
)

// RecoveryStatus is the state of a recovery event
type RecoveryStatus string

const (
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryPartial    RecoveryStatus = "partial"
)

// RecoveryEvent tracks one relocation run away from a presumed-dead node
type RecoveryEvent struct {
	ID          string          `gorm:"primaryKey;size:64" json:"id"`
	NodeID      string          `gorm:"size:100;not null;index" json:"node_id"`
	Trigger     RecoveryTrigger `gorm:"size:30;not null" json:"trigger"`
	Status      RecoveryStatus  `gorm:"size:20;not null;index" json:"status"`
	Total       int             `gorm:"not null;default:0" json:"total"`
	Recovered   int             `gorm:"not null;default:0" json:"recovered"`
	Failed      int             `gorm:"not null;default:0" json:"failed"`
	Waiting     int             `gorm:"not null;default:0" json:"waiting"`
	Report      datatypes.JSON  `json:"report"`
	StartedAt   time.Time       `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

// TableName specifies the table name
func (RecoveryEvent) TableName() string {
	return "recovery_events"
}

// RecoveryItemStatus is the per-tenant outcome inside a recovery event
type RecoveryItemStatus string

const (
	ItemRecovered RecoveryItemStatus = "recovered"
	ItemFailed    RecoveryItemStatus = "failed"
	ItemWaiting   RecoveryItemStatus = "waiting"
	ItemRetried   RecoveryItemStatus = "retried"
)

// RecoveryItem is one tenant's relocation attempt within a recovery event
type RecoveryItem struct {
	ID              string             `gorm:"primaryKey;size:64" json:"id"`
	RecoveryEventID string             `gorm:"size:64;not null;index" json:"recovery_event_id"`
	TenantID        string             `gorm:"size:64;not null;index" json:"tenant_id"`
	SourceNode      string             `gorm:"size:100;not null" json:"source_node"`
	TargetNode      *string            `gorm:"size:100" json:"target_node"`
	BackupKey       string             `gorm:"size:255" json:"backup_key"`
	Status          RecoveryItemStatus `gorm:"size:20;not null;index" json:"status"`
	Reason          string             `gorm:"size:255" json:"reason"`
	CreatedAt       time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (RecoveryItem) TableName() string {
	return "recovery_items"
}
