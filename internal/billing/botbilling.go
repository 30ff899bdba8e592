package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// BotBillingService is the state machine over workload billing state. Debits
// that exhaust a balance suspend the tenant's workloads; credit arrivals
// reactivate them; suspended workloads past their grace deadline are
// destroyed by a periodic sweep and never come back.
type BotBillingService struct {
	cfg           *config.Config
	bots          repository.BotStore
	ledger        *LedgerService
	notifications repository.NotificationStore
	commander     fleet.Commander
	bus           *events.Bus
	topup         *AutoTopupService
	nodes         repository.NodeStore
	fabric        fleet.Fabric

	stopChan chan struct{}
}

// NewBotBillingService creates a bot billing service. commander may be nil
// when no fabric is attached; state transitions then happen without
// container side effects.
func NewBotBillingService(cfg *config.Config, bots repository.BotStore, ledger *LedgerService, notifications repository.NotificationStore, commander fleet.Commander, bus *events.Bus) *BotBillingService {
	return &BotBillingService{
		cfg:           cfg,
		bots:          bots,
		ledger:        ledger,
		notifications: notifications,
		commander:     commander,
		bus:           bus,
		stopChan:      make(chan struct{}),
	}
}

// SetAutoTopup attaches the auto-topup service consulted after debits
func (s *BotBillingService) SetAutoTopup(topup *AutoTopupService) {
	s.topup = topup
}

// AttachFleet wires the node store and fabric used on reactivation. A
// workload whose node went offline while it was suspended has no container to
// start; it is placed fresh and restored from its hot backup.
func (s *BotBillingService) AttachFleet(nodes repository.NodeStore, fabric fleet.Fabric) {
	s.nodes = nodes
	s.fabric = fabric
}

// Bind subscribes the state machine to ledger events: every credit arrival
// runs the reactivation check, every debit runs the suspension check and the
// auto-topup check.
func (s *BotBillingService) Bind(bus *events.Bus) {
	bus.Subscribe(events.CreditReceived, func(e events.Event) {
		tenantID, _ := e.Payload["tenant_id"].(string)
		if tenantID == "" {
			return
		}
		if err := s.CheckReactivation(tenantID); err != nil {
			logger.Error("reactivation check failed", err, map[string]interface{}{
				"tenant": tenantID,
			})
		}
	})
	bus.Subscribe(events.CreditDebited, func(e events.Event) {
		tenantID, _ := e.Payload["tenant_id"].(string)
		if tenantID == "" {
			return
		}
		balance, ok := e.Payload["balance_after"].(int64)
		if !ok {
			var err error
			balance, err = s.ledger.Balance(tenantID)
			if err != nil {
				return
			}
		}
		if balance <= 0 {
			if err := s.SuspendTenant(tenantID, "credit exhausted"); err != nil {
				logger.Error("suspension failed", err, map[string]interface{}{
					"tenant": tenantID,
				})
			}
		}
		if s.topup != nil {
			s.topup.MaybeTopup(tenantID, balance)
		}
	})
}

// SuspendTenant suspends every active workload of a tenant and stamps the
// destruction deadline.
func (s *BotBillingService) SuspendTenant(tenantID, reason string) error {
	bots, err := s.bots.FindByTenantAndState(tenantID, models.BillingActive)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if err := s.suspendBot(bot, reason); err != nil {
			logger.Error("failed to suspend workload", err, map[string]interface{}{
				"tenant": tenantID,
				"bot":    bot.ID,
			})
		}
	}
	return nil
}

func (s *BotBillingService) suspendBot(bot *models.BotInstance, reason string) error {
	now := time.Now().UTC()
	destroyAfter := now.Add(time.Duration(s.cfg.SuspensionGraceDays) * 24 * time.Hour)
	bot.BillingState = models.BillingSuspended
	bot.SuspendedAt = &now
	bot.DestroyAfter = &destroyAfter
	if err := s.bots.Update(bot); err != nil {
		return err
	}

	if s.commander != nil && bot.NodeID != nil {
		if _, err := s.commander.SendCommand(*bot.NodeID, fleet.CmdBotStop, map[string]interface{}{
			"name": bot.ContainerName(),
		}); err != nil {
			logger.Error("failed to stop suspended container", err, map[string]interface{}{
				"bot":  bot.ID,
				"node": *bot.NodeID,
			})
		}
	}

	monitoring.SuspensionsTotal.WithLabelValues("suspended").Inc()
	s.bus.Publish(events.BotSuspended, map[string]interface{}{
		"tenant_id": bot.TenantID,
		"bot_id":    bot.ID,
		"reason":    reason,
	})
	s.enqueueNotification(bot.TenantID, models.NotifyBotSuspended, map[string]interface{}{
		"bot_id":        bot.ID,
		"reason":        reason,
		"destroy_after": destroyAfter.Format(time.RFC3339),
	})
	logger.Info("workload suspended", map[string]interface{}{
		"tenant": bot.TenantID,
		"bot":    bot.ID,
		"reason": reason,
	})
	return nil
}

// CheckReactivation reactivates all suspended workloads of a tenant when the
// balance is positive. Called on every credit arrival. Workloads already
// destroyed stay destroyed.
func (s *BotBillingService) CheckReactivation(tenantID string) error {
	balance, err := s.ledger.Balance(tenantID)
	if err != nil {
		return err
	}
	if balance <= 0 {
		return nil
	}

	bots, err := s.bots.FindByTenantAndState(tenantID, models.BillingSuspended)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if err := s.reactivateBot(bot); err != nil {
			logger.Error("failed to reactivate workload", err, map[string]interface{}{
				"tenant": tenantID,
				"bot":    bot.ID,
			})
		}
	}
	return nil
}

// ReactivateTenant is the explicit admin path; it skips the balance check
func (s *BotBillingService) ReactivateTenant(tenantID string) error {
	bots, err := s.bots.FindByTenantAndState(tenantID, models.BillingSuspended)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if err := s.reactivateBot(bot); err != nil {
			return err
		}
	}
	return nil
}

func (s *BotBillingService) reactivateBot(bot *models.BotInstance) error {
	if bot.NodeID != nil && s.nodes != nil {
		node, err := s.nodes.FindByID(*bot.NodeID)
		if err != nil || !node.CanHostAssignments() {
			// The assigned node went away while the workload was suspended;
			// there is no container there to start.
			bot.NodeID = nil
		}
	}

	placed := false
	if bot.NodeID == nil && s.fabric != nil {
		if err := s.placeFromHotBackup(bot); err != nil {
			return err
		}
		placed = true
	}

	bot.BillingState = models.BillingActive
	bot.SuspendedAt = nil
	bot.DestroyAfter = nil
	if err := s.bots.Update(bot); err != nil {
		return err
	}

	if !placed && s.commander != nil && bot.NodeID != nil {
		if _, err := s.commander.SendCommand(*bot.NodeID, fleet.CmdBotStart, map[string]interface{}{
			"name":  bot.ContainerName(),
			"image": bot.Image,
		}); err != nil {
			logger.Error("failed to start reactivated container", err, map[string]interface{}{
				"bot":  bot.ID,
				"node": *bot.NodeID,
			})
		}
	}

	monitoring.SuspensionsTotal.WithLabelValues("reactivated").Inc()
	s.bus.Publish(events.BotReactivated, map[string]interface{}{
		"tenant_id": bot.TenantID,
		"bot_id":    bot.ID,
	})
	logger.Info("workload reactivated", map[string]interface{}{
		"tenant": bot.TenantID,
		"bot":    bot.ID,
	})
	return nil
}

// placeFromHotBackup puts an unassigned workload on the best available node
// and restores it from its hot backup. The import starts the container; the
// caller skips the separate start command.
func (s *BotBillingService) placeFromHotBackup(bot *models.BotInstance) error {
	mb := bot.MemoryMB
	if mb <= 0 {
		mb = s.cfg.DefaultEstimateMB
	}
	target, err := s.fabric.FindBestTarget("", mb)
	if err != nil {
		return err
	}
	if target == nil {
		s.bus.Publish(events.CapacityOverflow, map[string]interface{}{
			"tenant_id":    bot.TenantID,
			"estimated_mb": mb,
		})
		return fmt.Errorf("no node with sufficient capacity for workload %s", bot.ID)
	}

	name := bot.ContainerName()
	if _, err := s.fabric.SendCommand(target.ID, fleet.CmdBackupDownload, map[string]interface{}{
		"filename": fleet.HotBackupKey(name),
		"name":     name,
	}); err != nil {
		return err
	}
	if _, err := s.fabric.SendCommand(target.ID, fleet.CmdBotImport, map[string]interface{}{
		"name":  name,
		"image": bot.Image,
	}); err != nil {
		return err
	}
	if err := s.fabric.ReassignTenant(bot.ID, target.ID); err != nil {
		return err
	}
	if err := s.fabric.AddNodeCapacity(target.ID, mb); err != nil {
		logger.Error("capacity accounting failed after reactivation placement", err, map[string]interface{}{
			"node": target.ID,
		})
	}

	nodeID := target.ID
	bot.NodeID = &nodeID
	logger.Info("workload re-placed on reactivation", map[string]interface{}{
		"tenant": bot.TenantID,
		"bot":    bot.ID,
		"node":   nodeID,
	})
	return nil
}

// DestroyExpiredBots destroys every suspended workload past its grace
// deadline. Idempotent; safe to run from the sweeper at any cadence.
func (s *BotBillingService) DestroyExpiredBots(now time.Time) (int, error) {
	expired, err := s.bots.FindDestroyable(now)
	if err != nil {
		return 0, err
	}

	destroyed := 0
	for _, bot := range expired {
		if s.commander != nil && bot.NodeID != nil {
			if _, err := s.commander.SendCommand(*bot.NodeID, fleet.CmdBotRemove, map[string]interface{}{
				"name": bot.ContainerName(),
			}); err != nil {
				logger.Error("failed to remove destroyed container", err, map[string]interface{}{
					"bot":  bot.ID,
					"node": *bot.NodeID,
				})
			}
		}

		bot.BillingState = models.BillingDestroyed
		bot.NodeID = nil
		if err := s.bots.Update(bot); err != nil {
			logger.Error("failed to mark workload destroyed", err, map[string]interface{}{
				"bot": bot.ID,
			})
			continue
		}
		destroyed++

		monitoring.SuspensionsTotal.WithLabelValues("destroyed").Inc()
		s.bus.Publish(events.BotDestroyed, map[string]interface{}{
			"tenant_id": bot.TenantID,
			"bot_id":    bot.ID,
		})
		s.enqueueNotification(bot.TenantID, models.NotifyBotDestroyed, map[string]interface{}{
			"bot_id": bot.ID,
		})
		logger.Info("workload destroyed after grace period", map[string]interface{}{
			"tenant": bot.TenantID,
			"bot":    bot.ID,
		})
	}
	return destroyed, nil
}

// StartDestroySweep runs the grace-period sweep until Stop is called
func (s *BotBillingService) StartDestroySweep() {
	go func() {
		ticker := time.NewTicker(s.cfg.DestroySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if _, err := s.DestroyExpiredBots(time.Now().UTC()); err != nil {
					logger.Error("destroy sweep failed", err, nil)
				}
			}
		}
	}()
}

// Stop halts the destroy sweep
func (s *BotBillingService) Stop() {
	close(s.stopChan)
}

func (s *BotBillingService) enqueueNotification(tenantID string, kind models.NotificationKind, payload map[string]interface{}) {
	if s.notifications == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	n := &models.Notification{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
		Payload:   datatypes.JSON(data),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifications.Enqueue(n); err != nil {
		logger.Error("failed to enqueue notification", err, map[string]interface{}{
			"tenant": tenantID,
			"kind":   string(kind),
		})
	}
}
