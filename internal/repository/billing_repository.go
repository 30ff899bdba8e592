package repository

import (
	"errors"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopupRepository handles database operations for auto-topup configuration
type TopupRepository struct {
	db *gorm.DB
}

// NewTopupRepository creates a new topup repository
func NewTopupRepository(db *gorm.DB) *TopupRepository {
	return &TopupRepository{db: db}
}

// Find returns a tenant's auto-topup configuration, nil when absent
func (r *TopupRepository) Find(tenantID string) (*models.AutoTopupConfig, error) {
	var cfg models.AutoTopupConfig
	err := r.db.Where("tenant_id = ?", tenantID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save upserts a tenant's auto-topup configuration
func (r *TopupRepository) Save(cfg *models.AutoTopupConfig) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		UpdateAll: true,
	}).Create(cfg).Error
}

// CustomerRepository handles database operations for tenant customer records
type CustomerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Find returns a tenant's customer record, nil when absent
func (r *CustomerRepository) Find(tenantID string) (*models.TenantCustomer, error) {
	var customer models.TenantCustomer
	err := r.db.Where("tenant_id = ?", tenantID).First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// Save upserts a tenant's customer record
func (r *CustomerRepository) Save(customer *models.TenantCustomer) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		UpdateAll: true,
	}).Create(customer).Error
}
