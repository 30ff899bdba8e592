package models

import (
	"time"
)

// SnapshotType classifies how a snapshot came to exist
type SnapshotType string

const (
	SnapshotNightly    SnapshotType = "nightly"
	SnapshotOnDemand   SnapshotType = "on-demand"
	SnapshotPreRestore SnapshotType = "pre-restore"
)

// Snapshot is an opaque archived blob of a bot instance's data. Soft-deleted
// first (DeletedAt set), hard-deleted after the retention window.
type Snapshot struct {
	ID         string       `gorm:"primaryKey;size:64" json:"id"`
	TenantID   string       `gorm:"size:64;not null;index" json:"tenant_id"`
	InstanceID string       `gorm:"size:64;not null;index" json:"instance_id"`
	Type       SnapshotType `gorm:"size:20;not null;index" json:"type"`
	Name       string       `gorm:"size:128" json:"name"`
	StoragePath string      `gorm:"size:512" json:"storage_path"`
	RemoteKey  *string      `gorm:"size:512" json:"remote_key"`
	SizeBytes  int64        `gorm:"not null;default:0" json:"size_bytes"`
	CreatedAt  time.Time    `gorm:"not null;index" json:"created_at"`
	ExpiresAt  *time.Time   `gorm:"index" json:"expires_at"`
	DeletedAt  *time.Time   `gorm:"index" json:"deleted_at"`
}

// TableName specifies the table name
func (Snapshot) TableName() string {
	return "snapshots"
}

// IsDeleted reports whether the snapshot has been soft-deleted
func (s *Snapshot) IsDeleted() bool {
	return s.DeletedAt != nil
}
