package repository

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// SnapshotRepository handles database operations for snapshots
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create creates a new snapshot record
func (r *SnapshotRepository) Create(snap *models.Snapshot) error {
	return r.db.Create(snap).Error
}

// Update updates an existing snapshot record
func (r *SnapshotRepository) Update(snap *models.Snapshot) error {
	return r.db.Save(snap).Error
}

// FindByID finds a snapshot by ID
func (r *SnapshotRepository) FindByID(id string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := r.db.Where("id = ?", id).First(&snap).Error
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// FindByTenant returns all live snapshots for a tenant
func (r *SnapshotRepository) FindByTenant(tenantID string) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot
	err := r.db.Where("tenant_id = ? AND deleted_at IS NULL", tenantID).
		Order("created_at DESC").Find(&snaps).Error
	return snaps, err
}

// FindExpired returns live snapshots whose expiry deadline passed
func (r *SnapshotRepository) FindExpired(now time.Time) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot
	err := r.db.Where("deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at < ?", now).
		Find(&snaps).Error
	return snaps, err
}

// FindPurgeable returns soft-deleted snapshots past the hard-delete cutoff
func (r *SnapshotRepository) FindPurgeable(cutoff time.Time) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot
	err := r.db.Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).Find(&snaps).Error
	return snaps, err
}

// Delete removes a snapshot row permanently
func (r *SnapshotRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.Snapshot{}).Error
}
