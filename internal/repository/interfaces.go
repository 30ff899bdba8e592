package repository

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
)

// One store interface per entity. The gorm implementations back production;
// the memory implementations back tests and honor the same contracts.

// NodeStore is the durable store of node records
type NodeStore interface {
	Create(node *models.Node) error
	Update(node *models.Node) error
	FindByID(id string) (*models.Node, error)
	FindAll() ([]*models.Node, error)
	FindByStatus(statuses ...models.NodeStatus) ([]*models.Node, error)
	UpdateStatus(id string, status models.NodeStatus) error
	// UpdateHeartbeat stamps the heartbeat time and the node's used memory.
	UpdateHeartbeat(id string, usedMB int) error
	// AddUsed adjusts the used-memory accounting by deltaMB (may be negative).
	AddUsed(id string, deltaMB int) error
}

// BotStore is the durable store of tenant workloads
type BotStore interface {
	Create(bot *models.BotInstance) error
	Update(bot *models.BotInstance) error
	FindByID(id string) (*models.BotInstance, error)
	FindByTenant(tenantID string) ([]*models.BotInstance, error)
	FindByNode(nodeID string) ([]*models.BotInstance, error)
	FindByTenantAndState(tenantID string, state models.BillingState) ([]*models.BotInstance, error)
	// FindDestroyable returns suspended bots whose DestroyAfter deadline passed.
	FindDestroyable(now time.Time) ([]*models.BotInstance, error)
	AssignNode(botID string, nodeID *string) error
}

// LedgerStore appends credit transactions and maintains the materialized
// balance atomically. Append returns the stored transaction and applied=false
// when the reference id already exists (the pre-existing row is returned).
type LedgerStore interface {
	Append(tx *models.CreditTransaction) (*models.CreditTransaction, bool, error)
	Balance(tenantID string) (int64, error)
	TransactionsByTenant(tenantID string, limit int) ([]*models.CreditTransaction, error)
}

// RecoveryStore persists recovery events and their per-tenant items
type RecoveryStore interface {
	CreateEvent(event *models.RecoveryEvent) error
	UpdateEvent(event *models.RecoveryEvent) error
	FindEvent(id string) (*models.RecoveryEvent, error)
	FindInProgressByNode(nodeID string) (*models.RecoveryEvent, error)
	FindEventsByStatus(status models.RecoveryStatus) ([]*models.RecoveryEvent, error)
	CreateItem(item *models.RecoveryItem) error
	UpdateItem(item *models.RecoveryItem) error
	FindItems(eventID string) ([]*models.RecoveryItem, error)
	FindWaitingItems(eventID string) ([]*models.RecoveryItem, error)
}

// SnapshotStore persists snapshot metadata
type SnapshotStore interface {
	Create(snap *models.Snapshot) error
	Update(snap *models.Snapshot) error
	FindByID(id string) (*models.Snapshot, error)
	FindByTenant(tenantID string) ([]*models.Snapshot, error)
	// FindExpired returns live snapshots whose ExpiresAt deadline passed.
	FindExpired(now time.Time) ([]*models.Snapshot, error)
	// FindPurgeable returns soft-deleted snapshots past the hard-delete cutoff.
	FindPurgeable(cutoff time.Time) ([]*models.Snapshot, error)
	Delete(id string) error
}

// TopupStore persists auto-topup configuration. Find returns nil when the
// tenant has no configuration.
type TopupStore interface {
	Find(tenantID string) (*models.AutoTopupConfig, error)
	Save(cfg *models.AutoTopupConfig) error
}

// CustomerStore persists tenant payment-processor mappings and spend caps.
// Find returns nil when the tenant is unknown.
type CustomerStore interface {
	Find(tenantID string) (*models.TenantCustomer, error)
	Save(customer *models.TenantCustomer) error
}

// GrantStore persists bulk grant operations
type GrantStore interface {
	Create(op *models.BulkGrantOperation) error
	Update(op *models.BulkGrantOperation) error
	FindByID(id string) (*models.BulkGrantOperation, error)
}

// MeterStore persists raw meter events and hourly aggregates
type MeterStore interface {
	CreateEvent(event *models.MeterEvent) error
	UpsertSummary(tenantID string, hourStart time.Time, costNano, chargeNano int64) error
	// SpendSince sums retail charge (nanodollars) for a tenant across both raw
	// events and aggregated summaries from the given instant.
	SpendSince(tenantID string, since time.Time) (int64, error)
}

// NotificationStore persists the outbound notification queue
type NotificationStore interface {
	Enqueue(n *models.Notification) error
	Update(n *models.Notification) error
	FindPending(limit int) ([]*models.Notification, error)
}
