package fleet

import (
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/logger"
)

// HeartbeatProcessor consumes heartbeat frames: it stamps liveness, records
// the node's memory usage, and drives the transitions a heartbeat is allowed
// to make. A heartbeat never flips a returning or draining node to active;
// returning is resolved by orphan cleanup and draining by the drain itself.
type HeartbeatProcessor struct {
	nodes   repository.NodeStore
	orphans *OrphanCleaner
}

// NewHeartbeatProcessor creates a heartbeat processor
func NewHeartbeatProcessor(nodes repository.NodeStore, orphans *OrphanCleaner) *HeartbeatProcessor {
	return &HeartbeatProcessor{nodes: nodes, orphans: orphans}
}

// Process handles one heartbeat frame from the given channel
func (p *HeartbeatProcessor) Process(ch *NodeChannel, containers []ContainerReport) error {
	usedMB := 0
	for _, container := range containers {
		usedMB += container.MemoryMB
	}

	if err := p.nodes.UpdateHeartbeat(ch.NodeID, usedMB); err != nil {
		return err
	}
	monitoring.HeartbeatsTotal.WithLabelValues(ch.NodeID).Inc()

	node, err := p.nodes.FindByID(ch.NodeID)
	if err != nil {
		return err
	}

	switch node.Status {
	case models.NodeUnhealthy:
		// Fresh heartbeat clears the soft-threshold state.
		if err := p.nodes.UpdateStatus(ch.NodeID, models.NodeActive); err != nil {
			return err
		}
		logger.Info("node recovered from unhealthy", map[string]interface{}{
			"node": ch.NodeID,
		})
	case models.NodeReturning:
		// First heartbeat after re-registration triggers orphan cleanup,
		// once per connection. Cleanup awaits command results, so it must
		// not run on the reader goroutine.
		if ch.MarkOrphanSweep() {
			reported := make([]ContainerReport, len(containers))
			copy(reported, containers)
			go func() {
				if err := p.orphans.Clean(ch.NodeID, reported); err != nil {
					logger.Error("orphan cleanup failed", err, map[string]interface{}{
						"node": ch.NodeID,
					})
				}
			}()
		}
	}
	return nil
}
