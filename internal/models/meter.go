package models

import (
	"time"

	"gorm.io/datatypes"
)

// MeterEvent is one raw usage event produced by the gateway. CostNano is the
// wholesale price, ChargeNano the retail price with margin, both in nanodollars.
type MeterEvent struct {
	ID         string         `gorm:"primaryKey;size:64" json:"id"`
	TenantID   string         `gorm:"size:64;not null;index" json:"tenant_id"`
	CostNano   int64          `gorm:"not null" json:"cost_nano"`
	ChargeNano int64          `gorm:"not null" json:"charge_nano"`
	Capability string         `gorm:"size:64;index" json:"capability"`
	Provider   string         `gorm:"size:64" json:"provider"`
	Metadata   datatypes.JSON `json:"metadata"`
	Timestamp  time.Time      `gorm:"not null;index" json:"timestamp"`
}

// TableName specifies the table name
func (MeterEvent) TableName() string {
	return "meter_events"
}

// UsageSummary is an hourly aggregate of meter events per tenant, used by the
// budget checker so spend windows do not scan the raw event table.
type UsageSummary struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	TenantID    string    `gorm:"size:64;not null;uniqueIndex:idx_tenant_hour" json:"tenant_id"`
	HourStart   time.Time `gorm:"not null;uniqueIndex:idx_tenant_hour;index" json:"hour_start"`
	EventCount  int       `gorm:"not null;default:0" json:"event_count"`
	CostNano    int64     `gorm:"not null;default:0" json:"cost_nano"`
	ChargeNano  int64     `gorm:"not null;default:0" json:"charge_nano"`
	Aggregated  bool      `gorm:"not null;default:false" json:"aggregated"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (UsageSummary) TableName() string {
	return "usage_summaries"
}
