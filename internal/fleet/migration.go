package fleet

import (
	"fmt"
	"sync"
	"time"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// Fabric is the surface migration and recovery need from the node
// connection manager.
type Fabric interface {
	Commander
	ReassignTenant(botID, newNodeID string) error
	AddNodeCapacity(nodeID string, deltaMB int) error
	FindBestTarget(excludeNodeID string, estimatedMB int) (*models.Node, error)
}

// ErrMigrationInFlight rejects a second concurrent migration of the same bot
var ErrMigrationInFlight = fmt.Errorf("migration already in progress for this bot")

// ErrNoCapacity signals that no node can take the workload
var ErrNoCapacity = fmt.Errorf("no node with sufficient capacity")

// MigrationResult summarizes one completed tenant migration
type MigrationResult struct {
	BotID      string        `json:"bot_id"`
	TenantID   string        `json:"tenant_id"`
	SourceNode string        `json:"source_node"`
	TargetNode string        `json:"target_node"`
	Duration   time.Duration `json:"duration_ms"`
	Downtime   time.Duration `json:"downtime_ms"`
}

// DrainResult summarizes a node drain
type DrainResult struct {
	NodeID   string   `json:"node_id"`
	Migrated int      `json:"migrated"`
	Failed   []string `json:"failed,omitempty"`
}

// MigrationManager live-migrates single tenants between two healthy nodes.
// The ordering of steps bounds downtime: the source container keeps running
// through export, upload and download, and is stopped only once the backup
// is already on the target.
type MigrationManager struct {
	cfg    *config.Config
	nodes  repository.NodeStore
	bots   repository.BotStore
	fabric Fabric
	bus    *events.Bus

	mu       sync.Mutex
	inFlight map[string]bool // botID
}

// NewMigrationManager creates a migration manager
func NewMigrationManager(cfg *config.Config, nodes repository.NodeStore, bots repository.BotStore, fabric Fabric, bus *events.Bus) *MigrationManager {
	return &MigrationManager{
		cfg:      cfg,
		nodes:    nodes,
		bots:     bots,
		fabric:   fabric,
		bus:      bus,
		inFlight: make(map[string]bool),
	}
}

func (m *MigrationManager) acquire(botID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[botID] {
		return false
	}
	m.inFlight[botID] = true
	return true
}

func (m *MigrationManager) release(botID string) {
	m.mu.Lock()
	delete(m.inFlight, botID)
	m.mu.Unlock()
}

// MigrateTenant moves one workload to targetNodeID, or to the best placement
// target when targetNodeID is empty. estimatedMB of zero falls back to the
// workload's recorded memory, then to the configured default.
func (m *MigrationManager) MigrateTenant(botID, targetNodeID string, estimatedMB int) (*MigrationResult, error) {
	if !m.acquire(botID) {
		return nil, ErrMigrationInFlight
	}
	defer m.release(botID)

	bot, err := m.bots.FindByID(botID)
	if err != nil {
		return nil, err
	}
	if bot.NodeID == nil {
		return nil, fmt.Errorf("bot %s is not placed on any node", botID)
	}
	sourceID := *bot.NodeID

	mb := estimatedMB
	if mb <= 0 {
		mb = bot.MemoryMB
	}
	if mb <= 0 {
		mb = m.cfg.DefaultEstimateMB
	}

	if targetNodeID == "" {
		target, err := m.fabric.FindBestTarget(sourceID, mb)
		if err != nil {
			return nil, err
		}
		if target == nil {
			m.bus.Publish(events.CapacityOverflow, map[string]interface{}{
				"tenant_id":    bot.TenantID,
				"estimated_mb": mb,
			})
			monitoring.MigrationsTotal.WithLabelValues("no_capacity").Inc()
			return nil, ErrNoCapacity
		}
		targetNodeID = target.ID
	}
	if targetNodeID == sourceID {
		return nil, fmt.Errorf("target node equals source node %s", sourceID)
	}

	start := time.Now()
	name := bot.ContainerName()
	filename := name + ".tar.gz"
	log := logger.WithFields(map[string]interface{}{
		"bot":    botID,
		"tenant": bot.TenantID,
		"source": sourceID,
		"target": targetNodeID,
	})
	log.Info("migration started")

	// Source keeps serving through export, upload and download.
	exportRes, err := m.fabric.SendCommand(sourceID, CmdBotExport, map[string]interface{}{"name": name})
	if err != nil {
		return m.fail(botID, "export", err)
	}
	if f, ok := exportRes.Data["filename"].(string); ok && f != "" {
		filename = f
	}
	if _, err := m.fabric.SendCommand(sourceID, CmdBackupUpload, map[string]interface{}{"filename": filename}); err != nil {
		return m.fail(botID, "upload", err)
	}
	if _, err := m.fabric.SendCommand(targetNodeID, CmdBackupDownload, map[string]interface{}{"filename": filename, "name": name}); err != nil {
		return m.fail(botID, "download", err)
	}

	// Downtime begins here.
	downtimeStart := time.Now()
	if _, err := m.fabric.SendCommand(sourceID, CmdBotStop, map[string]interface{}{"name": name}); err != nil {
		return m.fail(botID, "stop", err)
	}

	if _, err := m.fabric.SendCommand(targetNodeID, CmdBotImport, map[string]interface{}{
		"name":  name,
		"image": bot.Image,
	}); err != nil {
		return m.rollback(bot, sourceID, "import", err)
	}
	inspect, err := m.fabric.SendCommand(targetNodeID, CmdBotInspect, map[string]interface{}{"name": name})
	if err != nil {
		return m.rollback(bot, sourceID, "inspect", err)
	}
	if running, ok := inspect.Data["running"].(bool); ok && !running {
		return m.rollback(bot, sourceID, "inspect", fmt.Errorf("container not running on target"))
	}

	// Verified on target; flip the assignment. Downtime ends here.
	if err := m.fabric.ReassignTenant(botID, targetNodeID); err != nil {
		return m.rollback(bot, sourceID, "reassign", err)
	}
	downtime := time.Since(downtimeStart)

	if err := m.fabric.AddNodeCapacity(targetNodeID, mb); err != nil {
		log.Error("capacity accounting failed on target", err)
	}
	if err := m.fabric.AddNodeCapacity(sourceID, -mb); err != nil {
		log.Error("capacity accounting failed on source", err)
	}

	monitoring.MigrationsTotal.WithLabelValues("ok").Inc()
	monitoring.MigrationDowntime.Observe(downtime.Seconds())
	result := &MigrationResult{
		BotID:      botID,
		TenantID:   bot.TenantID,
		SourceNode: sourceID,
		TargetNode: targetNodeID,
		Duration:   time.Since(start),
		Downtime:   downtime,
	}
	logger.Info("migration complete", map[string]interface{}{
		"bot":         botID,
		"source":      sourceID,
		"target":      targetNodeID,
		"downtime_ms": downtime.Milliseconds(),
	})
	return result, nil
}

func (m *MigrationManager) fail(botID, step string, err error) (*MigrationResult, error) {
	monitoring.MigrationsTotal.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("migration of %s failed at %s: %w", botID, step, err)
}

// rollback restarts the workload on the source after the stop already
// happened, then surfaces the original error. Restarting on the source is
// what bounds worst-case downtime to roughly the attempt duration.
func (m *MigrationManager) rollback(bot *models.BotInstance, sourceID, step string, cause error) (*MigrationResult, error) {
	if _, err := m.fabric.SendCommand(sourceID, CmdBotStart, map[string]interface{}{
		"name":  bot.ContainerName(),
		"image": bot.Image,
	}); err != nil {
		logger.Error("rollback start on source failed", err, map[string]interface{}{
			"bot":    bot.ID,
			"source": sourceID,
		})
	}
	monitoring.MigrationsTotal.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("migration of %s failed at %s: %w", bot.ID, step, cause)
}

// DrainNode marks a node draining, migrates every resident workload away,
// and takes the node offline once empty. Failures leave the node draining
// and raise a capacity-overflow signal.
func (m *MigrationManager) DrainNode(nodeID string) (*DrainResult, error) {
	if err := m.nodes.UpdateStatus(nodeID, models.NodeDraining); err != nil {
		return nil, err
	}
	logger.Info("node drain started", map[string]interface{}{"node": nodeID})

	bots, err := m.bots.FindByNode(nodeID)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{NodeID: nodeID}
	for _, bot := range bots {
		if bot.BillingState == models.BillingDestroyed {
			continue
		}
		if _, err := m.MigrateTenant(bot.ID, "", 0); err != nil {
			logger.Error("drain migration failed", err, map[string]interface{}{
				"node": nodeID,
				"bot":  bot.ID,
			})
			result.Failed = append(result.Failed, bot.ID)
			continue
		}
		result.Migrated++
	}

	if len(result.Failed) == 0 {
		if err := m.nodes.UpdateStatus(nodeID, models.NodeOffline); err != nil {
			return result, err
		}
		m.bus.Publish(events.NodeOffline, map[string]interface{}{"node_id": nodeID})
		logger.Info("node drained", map[string]interface{}{
			"node":     nodeID,
			"migrated": result.Migrated,
		})
	} else {
		m.bus.Publish(events.CapacityOverflow, map[string]interface{}{
			"node_id": nodeID,
			"failed":  len(result.Failed),
		})
	}
	return result, nil
}
