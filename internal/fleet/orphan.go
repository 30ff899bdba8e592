package fleet

import (
	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/logger"
)

// OrphanCleaner reconciles the container inventory a returning node reports
// against the database assignment. While the node was away, recovery moved
// its tenants elsewhere; on reboot the node may auto-restart those
// containers, which are now orphans and must be stopped.
type OrphanCleaner struct {
	nodes     repository.NodeStore
	bots      repository.BotStore
	commander Commander
	bus       *events.Bus
}

// NewOrphanCleaner creates an orphan cleaner
func NewOrphanCleaner(nodes repository.NodeStore, bots repository.BotStore, commander Commander, bus *events.Bus) *OrphanCleaner {
	return &OrphanCleaner{nodes: nodes, bots: bots, commander: commander, bus: bus}
}

// Clean stops every reported container whose tenant is assigned to a
// different node. On full success the node transitions from returning to
// active; on any failure it stays returning and the caller's per-connection
// guard prevents a retrigger until the channel is re-established.
func (c *OrphanCleaner) Clean(nodeID string, containers []ContainerReport) error {
	stopped := 0
	var failed []string

	for _, container := range containers {
		tenantID := models.TenantFromContainerName(container.Name)
		if tenantID == "" {
			continue
		}
		if c.assignedHere(tenantID, nodeID) {
			continue
		}

		_, err := c.commander.SendCommand(nodeID, CmdBotStop, map[string]interface{}{
			"name": container.Name,
		})
		if err != nil {
			logger.Error("orphan stop failed", err, map[string]interface{}{
				"node":      nodeID,
				"container": container.Name,
			})
			failed = append(failed, container.Name)
			continue
		}
		stopped++
		monitoring.OrphanStopsTotal.Inc()
	}

	if len(failed) > 0 {
		logger.Warn("orphan cleanup incomplete, node stays returning", map[string]interface{}{
			"node":    nodeID,
			"stopped": stopped,
			"failed":  failed,
		})
		return nil
	}

	if err := c.nodes.UpdateStatus(nodeID, models.NodeActive); err != nil {
		return err
	}
	c.bus.Publish(events.NodeActive, map[string]interface{}{
		"node_id":      nodeID,
		"orphan_stops": stopped,
	})
	logger.Info("orphan cleanup complete, node active", map[string]interface{}{
		"node":    nodeID,
		"stopped": stopped,
	})
	return nil
}

// assignedHere reports whether any active workload of the tenant is assigned
// to the given node.
func (c *OrphanCleaner) assignedHere(tenantID, nodeID string) bool {
	bots, err := c.bots.FindByTenant(tenantID)
	if err != nil {
		return false
	}
	for _, bot := range bots {
		if bot.NodeID != nil && *bot.NodeID == nodeID && bot.BillingState != models.BillingDestroyed {
			return true
		}
	}
	return false
}
