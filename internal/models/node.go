package models

import (
	"time"
)

// NodeStatus is the lifecycle status of a worker node
type NodeStatus string

const (
	NodeActive     NodeStatus = "active"
	NodeUnhealthy  NodeStatus = "unhealthy"
	NodeRecovering NodeStatus = "recovering"
	NodeReturning  NodeStatus = "returning"
	NodeOffline    NodeStatus = "offline"
	NodeDraining   NodeStatus = "draining"
	NodeFailed     NodeStatus = "failed"
)

// Node represents a worker machine hosting bot containers (database model)
type Node struct {
	ID              string     `gorm:"primaryKey;size:100" json:"id"`
	Host            string     `gorm:"size:255;not null" json:"host"`
	CapacityMB      int        `gorm:"not null" json:"capacity_mb"`
	UsedMB          int        `gorm:"not null;default:0" json:"used_mb"`
	Status          NodeStatus `gorm:"size:20;not null;index" json:"status"`
	LastHeartbeatAt time.Time  `gorm:"index" json:"last_heartbeat_at"`
	AgentVersion    string     `gorm:"size:50" json:"agent_version"`
	RegisteredAt    time.Time  `gorm:"not null" json:"registered_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (Node) TableName() string {
	return "nodes"
}

// FreeMB returns the remaining memory capacity on this node
func (n *Node) FreeMB() int {
	return n.CapacityMB - n.UsedMB
}

// IsPlacementCandidate reports whether new work may be placed on this node.
// Returning, draining and recovering nodes are excluded even with spare capacity.
func (n *Node) IsPlacementCandidate() bool {
	return n.Status == NodeActive
}

// CanHostAssignments reports whether an existing bot assignment to this node
// is considered valid.
func (n *Node) CanHostAssignments() bool {
	switch n.Status {
	case NodeActive, NodeReturning, NodeDraining:
		return true
	}
	return false
}
