package repository

import (
	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// GrantRepository handles database operations for bulk grant operations
type GrantRepository struct {
	db *gorm.DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *gorm.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create creates a new bulk grant operation
func (r *GrantRepository) Create(op *models.BulkGrantOperation) error {
	return r.db.Create(op).Error
}

// Update updates an existing bulk grant operation
func (r *GrantRepository) Update(op *models.BulkGrantOperation) error {
	return r.db.Save(op).Error
}

// FindByID finds a bulk grant operation by ID
func (r *GrantRepository) FindByID(id string) (*models.BulkGrantOperation, error) {
	var op models.BulkGrantOperation
	err := r.db.Where("id = ?", id).First(&op).Error
	if err != nil {
		return nil, err
	}
	return &op, nil
}
