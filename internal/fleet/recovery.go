package fleet

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// RecoveryManager relocates tenants away from a presumed-dead node. Unlike
// migration, the source is not consulted; each target pulls the tenant's
// most recent hot backup from object storage.
type RecoveryManager struct {
	cfg      *config.Config
	nodes    repository.NodeStore
	bots     repository.BotStore
	recovery repository.RecoveryStore
	fabric   Fabric
	bus      *events.Bus

	stopChan chan struct{}
}

// NewRecoveryManager creates a recovery manager
func NewRecoveryManager(cfg *config.Config, nodes repository.NodeStore, bots repository.BotStore, recovery repository.RecoveryStore, fabric Fabric, bus *events.Bus) *RecoveryManager {
	return &RecoveryManager{
		cfg:      cfg,
		nodes:    nodes,
		bots:     bots,
		recovery: recovery,
		fabric:   fabric,
		bus:      bus,
		stopChan: make(chan struct{}),
	}
}

// HotBackupKey returns the object-storage key of a container's hot backup
func HotBackupKey(containerName string) string {
	return "latest/" + containerName + "/latest.tar.gz"
}

// RecoverNode relocates every active tenant of a dead node, in payment-tier
// order. Tenants that find no capacity are recorded waiting, not failed, and
// can be retried once capacity appears.
func (r *RecoveryManager) RecoverNode(nodeID string, trigger models.RecoveryTrigger) (*models.RecoveryEvent, error) {
	existing, err := r.recovery.FindInProgressByNode(nodeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("recovery already in progress for node %s", nodeID)
	}

	if err := r.nodes.UpdateStatus(nodeID, models.NodeRecovering); err != nil {
		return nil, err
	}
	r.bus.Publish(events.NodeRecovering, map[string]interface{}{"node_id": nodeID})

	residents, err := r.bots.FindByNode(nodeID)
	if err != nil {
		return nil, err
	}
	var victims []*models.BotInstance
	for _, bot := range residents {
		if bot.BillingState == models.BillingActive {
			victims = append(victims, bot)
			continue
		}
		// Suspended residents are not restored anywhere, so they must not
		// keep pointing at a node about to go offline. Reactivation places
		// an unassigned workload fresh.
		if err := r.bots.AssignNode(bot.ID, nil); err != nil {
			logger.Error("failed to unassign suspended resident of dead node", err, map[string]interface{}{
				"node": nodeID,
				"bot":  bot.ID,
			})
		}
	}
	// Enterprise first, free last; id ascending within a tier.
	sort.Slice(victims, func(i, j int) bool {
		pi, pj := victims[i].ResourceTier.RecoveryPriority(), victims[j].ResourceTier.RecoveryPriority()
		if pi != pj {
			return pi > pj
		}
		return victims[i].ID < victims[j].ID
	})

	now := time.Now().UTC()
	event := &models.RecoveryEvent{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		Trigger:   trigger,
		Status:    models.RecoveryInProgress,
		Total:     len(victims),
		StartedAt: now,
	}
	if err := r.recovery.CreateEvent(event); err != nil {
		return nil, err
	}
	r.bus.Publish(events.RecoveryStarted, map[string]interface{}{
		"event_id": event.ID,
		"node_id":  nodeID,
		"total":    event.Total,
		"trigger":  string(trigger),
	})
	logger.Info("recovery started", map[string]interface{}{
		"event":   event.ID,
		"node":    nodeID,
		"tenants": event.Total,
		"trigger": string(trigger),
	})

	for _, bot := range victims {
		item := r.recoverTenant(event, bot)
		switch item.Status {
		case models.ItemRecovered:
			event.Recovered++
		case models.ItemWaiting:
			event.Waiting++
		default:
			event.Failed++
		}
	}

	return event, r.finalize(event)
}

// recoverTenant runs the per-tenant algorithm and persists the item. Any
// failure is recorded and recovery continues with the next tenant.
func (r *RecoveryManager) recoverTenant(event *models.RecoveryEvent, bot *models.BotInstance) *models.RecoveryItem {
	now := time.Now().UTC()
	name := bot.ContainerName()
	item := &models.RecoveryItem{
		ID:              uuid.New().String(),
		RecoveryEventID: event.ID,
		TenantID:        bot.TenantID,
		SourceNode:      event.NodeID,
		BackupKey:       HotBackupKey(name),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	mb := bot.MemoryMB
	if mb <= 0 {
		mb = r.cfg.DefaultEstimateMB
	}

	target, err := r.fabric.FindBestTarget(event.NodeID, mb)
	if err == nil && target == nil {
		item.Status = models.ItemWaiting
		item.Reason = "no_capacity"
		r.bus.Publish(events.CapacityOverflow, map[string]interface{}{
			"event_id":     event.ID,
			"tenant_id":    bot.TenantID,
			"estimated_mb": mb,
		})
		r.persistItem(item)
		return item
	}
	if err != nil {
		item.Status = models.ItemFailed
		item.Reason = err.Error()
		r.persistItem(item)
		return item
	}
	item.TargetNode = &target.ID

	if err := r.restoreOnTarget(target.ID, bot, item.BackupKey); err != nil {
		item.Status = models.ItemFailed
		item.Reason = err.Error()
		logger.Error("tenant recovery failed", err, map[string]interface{}{
			"event":  event.ID,
			"tenant": bot.TenantID,
			"target": target.ID,
		})
		r.persistItem(item)
		return item
	}

	if err := r.fabric.ReassignTenant(bot.ID, target.ID); err != nil {
		item.Status = models.ItemFailed
		item.Reason = err.Error()
		r.persistItem(item)
		return item
	}
	if err := r.fabric.AddNodeCapacity(target.ID, mb); err != nil {
		logger.Error("capacity accounting failed after recovery", err, map[string]interface{}{
			"node": target.ID,
		})
	}

	item.Status = models.ItemRecovered
	r.persistItem(item)
	return item
}

// restoreOnTarget pulls the hot backup onto the target and starts the
// container there, then verifies it is running.
func (r *RecoveryManager) restoreOnTarget(targetID string, bot *models.BotInstance, backupKey string) error {
	name := bot.ContainerName()
	if _, err := r.fabric.SendCommand(targetID, CmdBackupDownload, map[string]interface{}{
		"filename": backupKey,
		"name":     name,
	}); err != nil {
		return err
	}
	if _, err := r.fabric.SendCommand(targetID, CmdBotImport, map[string]interface{}{
		"name":  name,
		"image": bot.Image,
	}); err != nil {
		return err
	}
	inspect, err := r.fabric.SendCommand(targetID, CmdBotInspect, map[string]interface{}{"name": name})
	if err != nil {
		return err
	}
	if running, ok := inspect.Data["running"].(bool); ok && !running {
		return fmt.Errorf("container not running on target %s", targetID)
	}
	return nil
}

func (r *RecoveryManager) persistItem(item *models.RecoveryItem) {
	item.UpdatedAt = time.Now().UTC()
	if err := r.recovery.CreateItem(item); err != nil {
		logger.Error("failed to persist recovery item", err, map[string]interface{}{
			"event":  item.RecoveryEventID,
			"tenant": item.TenantID,
		})
	}
}

// finalize stamps the event outcome and takes the dead node offline
func (r *RecoveryManager) finalize(event *models.RecoveryEvent) error {
	now := time.Now().UTC()
	if event.Waiting == 0 {
		event.Status = models.RecoveryCompleted
	} else {
		event.Status = models.RecoveryPartial
	}
	event.CompletedAt = &now

	report, err := json.Marshal(map[string]interface{}{
		"total":     event.Total,
		"recovered": event.Recovered,
		"failed":    event.Failed,
		"waiting":   event.Waiting,
	})
	if err == nil {
		event.Report = datatypes.JSON(report)
	}
	if err := r.recovery.UpdateEvent(event); err != nil {
		return err
	}

	if err := r.nodes.UpdateStatus(event.NodeID, models.NodeOffline); err != nil {
		return err
	}
	monitoring.RecoveriesTotal.WithLabelValues(string(event.Status)).Inc()
	r.bus.Publish(events.RecoveryCompleted, map[string]interface{}{
		"event_id":  event.ID,
		"node_id":   event.NodeID,
		"status":    string(event.Status),
		"recovered": event.Recovered,
		"failed":    event.Failed,
		"waiting":   event.Waiting,
	})
	logger.Info("recovery finished", map[string]interface{}{
		"event":     event.ID,
		"node":      event.NodeID,
		"status":    string(event.Status),
		"recovered": event.Recovered,
		"failed":    event.Failed,
		"waiting":   event.Waiting,
	})
	return nil
}

// RetryWaiting re-runs the waiting items of a partial recovery event,
// typically after capacity was added to the fleet.
func (r *RecoveryManager) RetryWaiting(eventID string) (*models.RecoveryEvent, error) {
	event, err := r.recovery.FindEvent(eventID)
	if err != nil {
		return nil, err
	}
	items, err := r.recovery.FindWaitingItems(eventID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		bot, err := r.botForItem(item)
		if err != nil {
			continue
		}

		mb := bot.MemoryMB
		if mb <= 0 {
			mb = r.cfg.DefaultEstimateMB
		}
		target, err := r.fabric.FindBestTarget(event.NodeID, mb)
		if err != nil || target == nil {
			continue
		}

		if err := r.restoreOnTarget(target.ID, bot, item.BackupKey); err != nil {
			item.Status = models.ItemFailed
			item.Reason = err.Error()
			event.Waiting--
			event.Failed++
			r.updateItem(item)
			continue
		}
		if err := r.fabric.ReassignTenant(bot.ID, target.ID); err != nil {
			item.Status = models.ItemFailed
			item.Reason = err.Error()
			event.Waiting--
			event.Failed++
			r.updateItem(item)
			continue
		}
		if err := r.fabric.AddNodeCapacity(target.ID, mb); err != nil {
			logger.Error("capacity accounting failed after retry", err, map[string]interface{}{
				"node": target.ID,
			})
		}

		item.Status = models.ItemRetried
		item.TargetNode = &target.ID
		item.Reason = ""
		event.Waiting--
		event.Recovered++
		r.updateItem(item)
	}

	if event.Waiting == 0 && event.Status == models.RecoveryPartial {
		event.Status = models.RecoveryCompleted
	}
	return event, r.recovery.UpdateEvent(event)
}

func (r *RecoveryManager) updateItem(item *models.RecoveryItem) {
	item.UpdatedAt = time.Now().UTC()
	if err := r.recovery.UpdateItem(item); err != nil {
		logger.Error("failed to update recovery item", err, map[string]interface{}{
			"event":  item.RecoveryEventID,
			"tenant": item.TenantID,
		})
	}
}

// botForItem resolves the workload a waiting item refers to. The bot still
// points at the dead node, or at nothing, since its relocation never landed.
func (r *RecoveryManager) botForItem(item *models.RecoveryItem) (*models.BotInstance, error) {
	bots, err := r.bots.FindByTenant(item.TenantID)
	if err != nil {
		return nil, err
	}
	for _, bot := range bots {
		if bot.BillingState != models.BillingActive {
			continue
		}
		if bot.NodeID == nil || *bot.NodeID == item.SourceNode {
			return bot, nil
		}
	}
	return nil, fmt.Errorf("no recoverable workload for tenant %s", item.TenantID)
}

// StartRetryLoop periodically retries waiting items of partial recovery
// events. Sweeper failures are logged and retried at the next tick.
func (r *RecoveryManager) StartRetryLoop() {
	go func() {
		ticker := time.NewTicker(r.cfg.RecoveryRetryBackoff)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.retryPartialEvents()
			}
		}
	}()
}

func (r *RecoveryManager) retryPartialEvents() {
	partial, err := r.recovery.FindEventsByStatus(models.RecoveryPartial)
	if err != nil {
		logger.Error("recovery retry sweep failed", err, nil)
		return
	}
	for _, event := range partial {
		if _, err := r.RetryWaiting(event.ID); err != nil {
			logger.Error("recovery retry failed", err, map[string]interface{}{
				"event": event.ID,
			})
		}
	}
}

// Stop halts the retry loop
func (r *RecoveryManager) Stop() {
	close(r.stopChan)
}
