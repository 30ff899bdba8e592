package repository

import (
	"errors"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// RecoveryRepository handles database operations for recovery events and items
type RecoveryRepository struct {
	db *gorm.DB
}

// NewRecoveryRepository creates a new recovery repository
func NewRecoveryRepository(db *gorm.DB) *RecoveryRepository {
	return &RecoveryRepository{db: db}
}

// CreateEvent creates a new recovery event
func (r *RecoveryRepository) CreateEvent(event *models.RecoveryEvent) error {
	return r.db.Create(event).Error
}

// UpdateEvent updates an existing recovery event
func (r *RecoveryRepository) UpdateEvent(event *models.RecoveryEvent) error {
	return r.db.Save(event).Error
}

// FindEvent finds a recovery event by ID
func (r *RecoveryRepository) FindEvent(id string) (*models.RecoveryEvent, error) {
	var event models.RecoveryEvent
	err := r.db.Where("id = ?", id).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindInProgressByNode returns the in-flight recovery event for a node, if any
func (r *RecoveryRepository) FindInProgressByNode(nodeID string) (*models.RecoveryEvent, error) {
	var event models.RecoveryEvent
	err := r.db.Where("node_id = ? AND status = ?", nodeID, models.RecoveryInProgress).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindEventsByStatus returns all recovery events in the given status
func (r *RecoveryRepository) FindEventsByStatus(status models.RecoveryStatus) ([]*models.RecoveryEvent, error) {
	var events []*models.RecoveryEvent
	err := r.db.Where("status = ?", status).Order("started_at ASC").Find(&events).Error
	return events, err
}

// CreateItem creates a new recovery item
func (r *RecoveryRepository) CreateItem(item *models.RecoveryItem) error {
	return r.db.Create(item).Error
}

// UpdateItem updates an existing recovery item
func (r *RecoveryRepository) UpdateItem(item *models.RecoveryItem) error {
	return r.db.Save(item).Error
}

// FindItems returns all items of a recovery event
func (r *RecoveryRepository) FindItems(eventID string) ([]*models.RecoveryItem, error) {
	var items []*models.RecoveryItem
	err := r.db.Where("recovery_event_id = ?", eventID).Find(&items).Error
	return items, err
}

// FindWaitingItems returns items still waiting for capacity
func (r *RecoveryRepository) FindWaitingItems(eventID string) ([]*models.RecoveryItem, error) {
	var items []*models.RecoveryItem
	err := r.db.Where("recovery_event_id = ? AND status = ?", eventID, models.ItemWaiting).Find(&items).Error
	return items, err
}
