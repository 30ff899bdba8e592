package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// Manager owns the live fabric between the coordinator and node agents: the
// set of open channels, the tenant-to-node routing table, and node status
// transitions driven by registration.
type Manager struct {
	cfg      *config.Config
	nodes    repository.NodeStore
	bots     repository.BotStore
	recovery repository.RecoveryStore
	bus      *events.Bus

	heartbeats *HeartbeatProcessor

	mu       sync.RWMutex
	channels map[string]*NodeChannel
	tenants  map[string]string // tenantID -> nodeID
}

// NewManager creates a node connection manager
func NewManager(cfg *config.Config, nodes repository.NodeStore, bots repository.BotStore, recovery repository.RecoveryStore, bus *events.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		nodes:    nodes,
		bots:     bots,
		recovery: recovery,
		bus:      bus,
		channels: make(map[string]*NodeChannel),
		tenants:  make(map[string]string),
	}
}

// SetHeartbeatProcessor attaches the heartbeat processor. The processor
// needs the orphan cleaner which needs the manager as its commander, so it
// is attached after construction.
func (m *Manager) SetHeartbeatProcessor(p *HeartbeatProcessor) {
	m.heartbeats = p
}

// RegisterNode creates or refreshes the node record. Status transitions are
// applied atomically with the refresh: a fresh record starts active; a node
// coming back from offline, recovering or failed becomes returning; an
// unhealthy node becomes active; active, returning and draining are left
// alone. Any in-flight recovery event for the node is closed.
func (m *Manager) RegisterNode(nodeID, host string, capacityMB int, agentVersion string) (*models.Node, error) {
	now := time.Now().UTC()

	node, err := m.nodes.FindByID(nodeID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		node = &models.Node{
			ID:              nodeID,
			Host:            host,
			CapacityMB:      capacityMB,
			Status:          models.NodeActive,
			LastHeartbeatAt: now,
			AgentVersion:    agentVersion,
			RegisteredAt:    now,
			UpdatedAt:       now,
		}
		if err := m.nodes.Create(node); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		node.Host = host
		node.CapacityMB = capacityMB
		node.AgentVersion = agentVersion
		switch node.Status {
		case models.NodeOffline, models.NodeRecovering, models.NodeFailed:
			node.Status = models.NodeReturning
		case models.NodeUnhealthy:
			node.Status = models.NodeActive
		}
		node.UpdatedAt = now
		if err := m.nodes.Update(node); err != nil {
			return nil, err
		}
	}

	if err := m.closeInFlightRecovery(nodeID, now); err != nil {
		logger.Error("failed to close in-flight recovery on registration", err, map[string]interface{}{
			"node": nodeID,
		})
	}

	logger.Info("node registered", map[string]interface{}{
		"node":    nodeID,
		"host":    host,
		"status":  string(node.Status),
		"version": agentVersion,
	})
	m.bus.Publish(events.NodeRegistered, map[string]interface{}{
		"node_id": nodeID,
		"status":  string(node.Status),
	})
	if node.Status == models.NodeReturning {
		m.bus.Publish(events.NodeReturning, map[string]interface{}{"node_id": nodeID})
	}
	return node, nil
}

// closeInFlightRecovery finalizes a recovery event left open for a node that
// just re-registered. Tenants already moved keep their new assignment; the
// orphan cleaner deals with the node's lingering containers.
func (m *Manager) closeInFlightRecovery(nodeID string, now time.Time) error {
	event, err := m.recovery.FindInProgressByNode(nodeID)
	if err != nil || event == nil {
		return err
	}
	event.Status = models.RecoveryCompleted
	event.CompletedAt = &now
	return m.recovery.UpdateEvent(event)
}

// HandleChannel binds a connection to a node id and starts the reader. An
// existing channel for the same node is replaced and closed.
func (m *Manager) HandleChannel(nodeID string, conn Conn) *NodeChannel {
	ch := NewNodeChannel(nodeID, conn)

	m.mu.Lock()
	if old, ok := m.channels[nodeID]; ok {
		old.Close()
	} else {
		monitoring.ConnectedNodes.Inc()
	}
	m.channels[nodeID] = ch
	m.mu.Unlock()

	go m.readLoop(ch)
	logger.Info("node channel open", map[string]interface{}{"node": nodeID})
	return ch
}

// readLoop is the single consumer of a channel's inbound frames
func (m *Manager) readLoop(ch *NodeChannel) {
	defer m.dropChannel(ch)
	for {
		data, err := ch.read()
		if err != nil {
			return
		}

		var frame Envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("dropping malformed frame", map[string]interface{}{
				"node": ch.NodeID,
			})
			continue
		}

		switch frame.Type {
		case FrameHeartbeat:
			if m.heartbeats == nil {
				continue
			}
			if err := m.heartbeats.Process(ch, frame.Containers); err != nil {
				logger.Error("heartbeat processing failed", err, map[string]interface{}{
					"node": ch.NodeID,
				})
			}
			m.observeRouting(ch.NodeID, frame.Containers)
		case FrameCommandResult:
			ch.resolve(&CommandResult{
				ID:      frame.ID,
				Type:    frame.Type,
				Command: frame.Command,
				Success: frame.Success,
				Data:    frame.Data,
				Error:   frame.Error,
			})
		case FrameHealthEvent:
			m.bus.Publish(events.ContainerHealth, map[string]interface{}{
				"node_id": ch.NodeID,
				"event":   frame.Event,
			})
		default:
			logger.Warn("unknown frame type", map[string]interface{}{
				"node": ch.NodeID,
				"type": frame.Type,
			})
		}
	}
}

func (m *Manager) dropChannel(ch *NodeChannel) {
	m.mu.Lock()
	if m.channels[ch.NodeID] == ch {
		delete(m.channels, ch.NodeID)
		monitoring.ConnectedNodes.Dec()
	}
	m.mu.Unlock()
	ch.Close()
	logger.Info("node channel closed", map[string]interface{}{"node": ch.NodeID})
}

// observeRouting refreshes the routing table from a heartbeat's container
// inventory. Explicit reassignments always win over observations; this only
// fills entries for tenants not currently routed.
func (m *Manager) observeRouting(nodeID string, containers []ContainerReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, container := range containers {
		tenantID := models.TenantFromContainerName(container.Name)
		if tenantID == "" {
			continue
		}
		if _, ok := m.tenants[tenantID]; !ok {
			m.tenants[tenantID] = nodeID
		}
	}
}

// SendCommand dispatches a command to a node and awaits the correlated
// result. A result carrying success=false is surfaced as an error with the
// node's error payload.
func (m *Manager) SendCommand(nodeID, command string, payload map[string]interface{}) (*CommandResult, error) {
	m.mu.RLock()
	ch, ok := m.channels[nodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s to node %s: %w", command, nodeID, ErrNodeNotConnected)
	}

	cmd := &Command{
		ID:      uuid.New().String(),
		Type:    FrameCommand,
		Command: command,
		Payload: payload,
	}

	start := time.Now()
	result, err := ch.Send(cmd, m.cfg.CommandTimeout)
	monitoring.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.CommandsTotal.WithLabelValues(command, "error").Inc()
		return nil, err
	}
	if !result.Success {
		monitoring.CommandsTotal.WithLabelValues(command, "failed").Inc()
		return result, fmt.Errorf("%s on node %s: %s", command, nodeID, result.Error)
	}
	monitoring.CommandsTotal.WithLabelValues(command, "ok").Inc()
	return result, nil
}

// ReassignTenant points a workload at a new node, both durably and in the
// in-memory routing table.
func (m *Manager) ReassignTenant(botID, newNodeID string) error {
	bot, err := m.bots.FindByID(botID)
	if err != nil {
		return err
	}
	if err := m.bots.AssignNode(botID, &newNodeID); err != nil {
		return err
	}
	m.mu.Lock()
	m.tenants[bot.TenantID] = newNodeID
	m.mu.Unlock()
	return nil
}

// AddNodeCapacity adjusts a node's used-memory accounting by deltaMB
func (m *Manager) AddNodeCapacity(nodeID string, deltaMB int) error {
	return m.nodes.AddUsed(nodeID, deltaMB)
}

// FindBestTarget picks a placement target, excluding one node
func (m *Manager) FindBestTarget(excludeNodeID string, estimatedMB int) (*models.Node, error) {
	nodes, err := m.nodes.FindAll()
	if err != nil {
		return nil, err
	}
	return FindPlacementExcluding(nodes, estimatedMB, excludeNodeID), nil
}

// NodeForTenant returns the node currently routing a tenant, if any
func (m *Manager) NodeForTenant(tenantID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodeID, ok := m.tenants[tenantID]
	return nodeID, ok
}

// IsConnected reports whether a node has an open channel
func (m *Manager) IsConnected(nodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.channels[nodeID]
	return ok
}

// ConnectedNodes lists the node ids with open channels
func (m *Manager) ConnectedNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll tears down every open channel, failing all pending commands
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := make([]*NodeChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}
