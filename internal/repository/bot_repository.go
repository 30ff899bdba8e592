package repository

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// BotRepository handles database operations for bot instances
type BotRepository struct {
	db *gorm.DB
}

// NewBotRepository creates a new bot repository
func NewBotRepository(db *gorm.DB) *BotRepository {
	return &BotRepository{db: db}
}

// Create creates a new bot instance
func (r *BotRepository) Create(bot *models.BotInstance) error {
	return r.db.Create(bot).Error
}

// Update updates an existing bot instance
func (r *BotRepository) Update(bot *models.BotInstance) error {
	return r.db.Save(bot).Error
}

// FindByID finds a bot instance by ID
func (r *BotRepository) FindByID(id string) (*models.BotInstance, error) {
	var bot models.BotInstance
	err := r.db.Where("id = ?", id).First(&bot).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// FindByTenant returns all bot instances owned by a tenant
func (r *BotRepository) FindByTenant(tenantID string) ([]*models.BotInstance, error) {
	var bots []*models.BotInstance
	err := r.db.Where("tenant_id = ?", tenantID).Find(&bots).Error
	return bots, err
}

// FindByNode returns all bot instances assigned to a node
func (r *BotRepository) FindByNode(nodeID string) ([]*models.BotInstance, error) {
	var bots []*models.BotInstance
	err := r.db.Where("node_id = ?", nodeID).Find(&bots).Error
	return bots, err
}

// FindByTenantAndState returns a tenant's bots in the given billing state
func (r *BotRepository) FindByTenantAndState(tenantID string, state models.BillingState) ([]*models.BotInstance, error) {
	var bots []*models.BotInstance
	err := r.db.Where("tenant_id = ? AND billing_state = ?", tenantID, state).Find(&bots).Error
	return bots, err
}

// FindDestroyable returns suspended bots past their destroy deadline
func (r *BotRepository) FindDestroyable(now time.Time) ([]*models.BotInstance, error) {
	var bots []*models.BotInstance
	err := r.db.Where("billing_state = ? AND destroy_after IS NOT NULL AND destroy_after < ?",
		models.BillingSuspended, now).Find(&bots).Error
	return bots, err
}

// AssignNode moves a bot instance to a new node (nil clears the assignment)
func (r *BotRepository) AssignNode(botID string, nodeID *string) error {
	return r.db.Model(&models.BotInstance{}).
		Where("id = ?", botID).
		Updates(map[string]interface{}{
			"node_id":    nodeID,
			"updated_at": time.Now(),
		}).Error
}
