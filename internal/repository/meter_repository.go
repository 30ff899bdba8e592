package repository

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MeterRepository handles database operations for meter events and aggregates
type MeterRepository struct {
	db *gorm.DB
}

// NewMeterRepository creates a new meter repository
func NewMeterRepository(db *gorm.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

// CreateEvent persists a raw meter event
func (r *MeterRepository) CreateEvent(event *models.MeterEvent) error {
	return r.db.Create(event).Error
}

// UpsertSummary adds the given amounts to the tenant's hourly aggregate row
func (r *MeterRepository) UpsertSummary(tenantID string, hourStart time.Time, costNano, chargeNano int64) error {
	summary := models.UsageSummary{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		HourStart:  hourStart,
		EventCount: 1,
		CostNano:   costNano,
		ChargeNano: chargeNano,
		Aggregated: true,
		UpdatedAt:  time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "hour_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"event_count": gorm.Expr("usage_summaries.event_count + 1"),
			"cost_nano":   gorm.Expr("usage_summaries.cost_nano + ?", costNano),
			"charge_nano": gorm.Expr("usage_summaries.charge_nano + ?", chargeNano),
			"updated_at":  time.Now(),
		}),
	}).Create(&summary).Error
}

// SpendSince sums retail charge in nanodollars for a tenant from the given
// instant, combining hourly aggregates for whole hours with raw events for the
// partial hour at the window edge.
func (r *MeterRepository) SpendSince(tenantID string, since time.Time) (int64, error) {
	edge := since.Truncate(time.Hour).Add(time.Hour)

	var aggregated int64
	err := r.db.Model(&models.UsageSummary{}).
		Where("tenant_id = ? AND hour_start >= ?", tenantID, edge).
		Select("COALESCE(SUM(charge_nano), 0)").Scan(&aggregated).Error
	if err != nil {
		return 0, err
	}

	var raw int64
	err = r.db.Model(&models.MeterEvent{}).
		Where("tenant_id = ? AND timestamp >= ? AND timestamp < ?", tenantID, since, edge).
		Select("COALESCE(SUM(charge_nano), 0)").Scan(&raw).Error
	if err != nil {
		return 0, err
	}

	return aggregated + raw, nil
}
