package repository

import (
	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// NotificationRepository handles database operations for the notification queue
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue adds a notification to the queue
func (r *NotificationRepository) Enqueue(n *models.Notification) error {
	return r.db.Create(n).Error
}

// Update updates a notification row
func (r *NotificationRepository) Update(n *models.Notification) error {
	return r.db.Save(n).Error
}

// FindPending returns unsent notifications, oldest first
func (r *NotificationRepository) FindPending(limit int) ([]*models.Notification, error) {
	var notifications []*models.Notification
	q := r.db.Where("sent_at IS NULL").Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&notifications).Error
	return notifications, err
}
