package repository

import (
	"time"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
)

// NodeRepository handles database operations for nodes
type NodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Create creates a new node in the database
func (r *NodeRepository) Create(node *models.Node) error {
	return r.db.Create(node).Error
}

// Update updates an existing node
func (r *NodeRepository) Update(node *models.Node) error {
	return r.db.Save(node).Error
}

// FindByID finds a node by ID
func (r *NodeRepository) FindByID(id string) (*models.Node, error) {
	var node models.Node
	err := r.db.Where("id = ?", id).First(&node).Error
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// FindAll returns all nodes
func (r *NodeRepository) FindAll() ([]*models.Node, error) {
	var nodes []*models.Node
	err := r.db.Find(&nodes).Error
	return nodes, err
}

// FindByStatus returns all nodes in any of the given statuses
func (r *NodeRepository) FindByStatus(statuses ...models.NodeStatus) ([]*models.Node, error) {
	var nodes []*models.Node
	err := r.db.Where("status IN ?", statuses).Find(&nodes).Error
	return nodes, err
}

// UpdateStatus updates the status of a node
func (r *NodeRepository) UpdateStatus(id string, status models.NodeStatus) error {
	return r.db.Model(&models.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// UpdateHeartbeat stamps the heartbeat timestamp and used memory
func (r *NodeRepository) UpdateHeartbeat(id string, usedMB int) error {
	return r.db.Model(&models.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"used_mb":           usedMB,
			"last_heartbeat_at": time.Now(),
			"updated_at":        time.Now(),
		}).Error
}

// AddUsed adjusts the used-memory accounting by deltaMB
func (r *NodeRepository) AddUsed(id string, deltaMB int) error {
	return r.db.Model(&models.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"used_mb":    gorm.Expr("used_mb + ?", deltaMB),
			"updated_at": time.Now(),
		}).Error
}
