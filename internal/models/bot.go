package models

import (
	"strings"
	"time"
)

// BillingState is the billing lifecycle state of a bot instance
type BillingState string

const (
	BillingActive    BillingState = "active"
	BillingSuspended BillingState = "suspended"
	BillingDestroyed BillingState = "destroyed"
)

// ResourceTier determines priority during recovery and the default memory estimate
type ResourceTier string

const (
	TierFree       ResourceTier = "free"
	TierStarter    ResourceTier = "starter"
	TierPro        ResourceTier = "pro"
	TierEnterprise ResourceTier = "enterprise"
)

// RecoveryPriority returns the ordering weight of a tier; higher recovers first
func (t ResourceTier) RecoveryPriority() int {
	switch t {
	case TierEnterprise:
		return 3
	case TierPro:
		return 2
	case TierStarter:
		return 1
	default:
		return 0
	}
}

// BotInstance is a single long-lived workload container owned by a tenant
type BotInstance struct {
	ID           string       `gorm:"primaryKey;size:64" json:"id"`
	TenantID     string       `gorm:"size:64;not null;index;uniqueIndex:idx_tenant_name" json:"tenant_id"`
	Name         string       `gorm:"size:128;not null;uniqueIndex:idx_tenant_name" json:"name"`
	NodeID       *string      `gorm:"size:100;index" json:"node_id"` // nil until placed
	Image        string       `gorm:"size:255" json:"image"`
	MemoryMB     int          `gorm:"not null;default:0" json:"memory_mb"`
	BillingState BillingState `gorm:"size:20;not null;index;default:'active'" json:"billing_state"`
	SuspendedAt  *time.Time   `json:"suspended_at"`
	DestroyAfter *time.Time   `gorm:"index" json:"destroy_after"`
	ResourceTier ResourceTier `gorm:"size:20;not null;default:'free'" json:"resource_tier"`
	StorageTier  string       `gorm:"size:20" json:"storage_tier"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (BotInstance) TableName() string {
	return "bot_instances"
}

// ContainerName returns the container name used on node agents. The instance
// name is part of it; a tenant may own several workloads and each needs its
// own container and backup key.
func (b *BotInstance) ContainerName() string {
	return "bot-" + b.TenantID + "." + b.Name
}

// TenantFromContainerName decodes the owning tenant from an agent-side
// container name, returning "" when the name does not follow the
// bot-<tenant>.<name> convention. Tenant ids may contain dashes but not dots,
// so the tenant ends at the first dot.
func TenantFromContainerName(name string) string {
	const prefix = "bot-"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return ""
	}
	rest := name[len(prefix):]
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		return rest[:i]
	}
	return rest
}
