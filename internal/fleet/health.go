package fleet

import (
	"time"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// HealthWatcher sweeps heartbeat timestamps against two thresholds: the soft
// threshold demotes active to unhealthy, the hard threshold starts recovery.
// The unhealthy-to-active direction lives in the heartbeat processor.
type HealthWatcher struct {
	cfg      *config.Config
	nodes    repository.NodeStore
	recovery *RecoveryManager
	bus      *events.Bus

	stopChan chan struct{}
}

// NewHealthWatcher creates a health watcher
func NewHealthWatcher(cfg *config.Config, nodes repository.NodeStore, recovery *RecoveryManager, bus *events.Bus) *HealthWatcher {
	return &HealthWatcher{
		cfg:      cfg,
		nodes:    nodes,
		recovery: recovery,
		bus:      bus,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called
func (w *HealthWatcher) Start() {
	go func() {
		ticker := time.NewTicker(w.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopChan:
				return
			case <-ticker.C:
				w.Sweep(time.Now().UTC())
			}
		}
	}()
	logger.Info("health watcher started", map[string]interface{}{
		"interval": w.cfg.HealthCheckInterval.String(),
		"soft":     w.cfg.HeartbeatSoftThreshold.String(),
		"hard":     w.cfg.HeartbeatHardThreshold.String(),
	})
}

// Stop halts the sweep loop
func (w *HealthWatcher) Stop() {
	close(w.stopChan)
}

// Sweep applies the threshold transitions once, relative to now
func (w *HealthWatcher) Sweep(now time.Time) {
	nodes, err := w.nodes.FindByStatus(models.NodeActive, models.NodeUnhealthy)
	if err != nil {
		logger.Error("health sweep failed", err, nil)
		return
	}

	for _, node := range nodes {
		overdue := now.Sub(node.LastHeartbeatAt)
		switch node.Status {
		case models.NodeActive:
			if overdue > w.cfg.HeartbeatSoftThreshold {
				if err := w.nodes.UpdateStatus(node.ID, models.NodeUnhealthy); err != nil {
					logger.Error("failed to mark node unhealthy", err, map[string]interface{}{
						"node": node.ID,
					})
					continue
				}
				w.bus.Publish(events.NodeUnhealthy, map[string]interface{}{
					"node_id":    node.ID,
					"overdue_ms": overdue.Milliseconds(),
				})
				logger.Warn("node heartbeat overdue", map[string]interface{}{
					"node":    node.ID,
					"overdue": overdue.String(),
				})
			}
		case models.NodeUnhealthy:
			if overdue > w.cfg.HeartbeatHardThreshold {
				logger.Warn("node presumed dead, starting recovery", map[string]interface{}{
					"node":    node.ID,
					"overdue": overdue.String(),
				})
				// RecoverNode flips the node to recovering before it starts
				// moving tenants, so the next sweep skips it.
				go func(nodeID string) {
					if _, err := w.recovery.RecoverNode(nodeID, models.TriggerHeartbeatTimeout); err != nil {
						logger.Error("recovery start failed", err, map[string]interface{}{
							"node": nodeID,
						})
					}
				}(node.ID)
			}
		}
	}
}
