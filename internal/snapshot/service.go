package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/internal/storage"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// Service manages snapshot metadata and the object-storage keys behind it.
// The heavy lifting (export, compression, encryption) happens on the node
// agents; the coordinator records metadata and drives the commands.
type Service struct {
	cfg       *config.Config
	snapshots repository.SnapshotStore
	bots      repository.BotStore
	commander fleet.Commander
	objects   storage.ObjectStore
}

// NewService creates a snapshot service. objects may be nil when no remote
// store is configured; snapshots then live only on the nodes.
func NewService(cfg *config.Config, snapshots repository.SnapshotStore, bots repository.BotStore, commander fleet.Commander, objects storage.ObjectStore) *Service {
	return &Service{
		cfg:       cfg,
		snapshots: snapshots,
		bots:      bots,
		commander: commander,
		objects:   objects,
	}
}

// OnDemandKey returns the object key of an on-demand snapshot
func OnDemandKey(tenantID, snapshotID, name string) string {
	if name != "" {
		return fmt.Sprintf("on-demand/%s/%s_%s.tar.gz", tenantID, snapshotID, name)
	}
	return fmt.Sprintf("on-demand/%s/%s.tar.gz", tenantID, snapshotID)
}

// NightlyKey returns the object key of a nightly backup
func NightlyKey(nodeID, tenantID string, day time.Time) string {
	return fmt.Sprintf("nightly/%s/%s/%s_%s.tar.gz", nodeID, tenantID, tenantID, day.Format("2006-01-02"))
}

// PreRestoreKey returns the object key of the safety snapshot taken before a
// restore overwrites live data.
func PreRestoreKey(tenantID string) string {
	return fmt.Sprintf("pre-restore/%s/%s_pre_restore.tar.gz", tenantID, tenantID)
}

// Create takes an on-demand snapshot of a placed workload: the node exports
// and uploads, the coordinator records the metadata.
func (s *Service) Create(botID, name string) (*models.Snapshot, error) {
	bot, err := s.bots.FindByID(botID)
	if err != nil {
		return nil, err
	}
	if bot.NodeID == nil {
		return nil, fmt.Errorf("bot %s is not placed on any node", botID)
	}

	now := time.Now().UTC()
	snapshotID := uuid.New().String()
	remoteKey := OnDemandKey(bot.TenantID, snapshotID, name)

	containerName := bot.ContainerName()
	exportRes, err := s.commander.SendCommand(*bot.NodeID, fleet.CmdBotExport, map[string]interface{}{
		"name": containerName,
	})
	if err != nil {
		return nil, err
	}
	filename := containerName + ".tar.gz"
	if f, ok := exportRes.Data["filename"].(string); ok && f != "" {
		filename = f
	}
	if _, err := s.commander.SendCommand(*bot.NodeID, fleet.CmdBackupUpload, map[string]interface{}{
		"filename":   filename,
		"remote_key": remoteKey,
	}); err != nil {
		return nil, err
	}

	var sizeBytes int64
	if v, ok := exportRes.Data["size_bytes"].(float64); ok {
		sizeBytes = int64(v)
	}
	expires := now.Add(time.Duration(s.cfg.SnapshotRetentionDays) * 24 * time.Hour)
	snap := &models.Snapshot{
		ID:          snapshotID,
		TenantID:    bot.TenantID,
		InstanceID:  bot.ID,
		Type:        models.SnapshotOnDemand,
		Name:        name,
		StoragePath: filepath.Join(s.cfg.SnapshotBasePath, bot.TenantID, snapshotID+".tar.gz"),
		RemoteKey:   &remoteKey,
		SizeBytes:   sizeBytes,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}
	if err := s.snapshots.Create(snap); err != nil {
		return nil, err
	}
	logger.Info("snapshot created", map[string]interface{}{
		"snapshot": snapshotID,
		"tenant":   bot.TenantID,
		"key":      remoteKey,
	})
	return snap, nil
}

// Restore brings a workload back to a snapshot. A pre-restore safety
// snapshot of the current state is taken first.
func (s *Service) Restore(snapshotID string) error {
	snap, err := s.snapshots.FindByID(snapshotID)
	if err != nil {
		return err
	}
	if snap.IsDeleted() {
		return fmt.Errorf("snapshot %s is deleted", snapshotID)
	}
	if snap.RemoteKey == nil {
		return fmt.Errorf("snapshot %s has no remote copy", snapshotID)
	}
	bot, err := s.bots.FindByID(snap.InstanceID)
	if err != nil {
		return err
	}
	if bot.NodeID == nil {
		return fmt.Errorf("bot %s is not placed on any node", bot.ID)
	}
	nodeID := *bot.NodeID
	containerName := bot.ContainerName()

	// Safety copy of the current state before it is overwritten.
	if _, err := s.commander.SendCommand(nodeID, fleet.CmdBotExport, map[string]interface{}{
		"name": containerName,
	}); err != nil {
		return fmt.Errorf("pre-restore export failed: %w", err)
	}
	if _, err := s.commander.SendCommand(nodeID, fleet.CmdBackupUpload, map[string]interface{}{
		"filename":   containerName + ".tar.gz",
		"remote_key": PreRestoreKey(bot.TenantID),
	}); err != nil {
		return fmt.Errorf("pre-restore upload failed: %w", err)
	}

	if _, err := s.commander.SendCommand(nodeID, fleet.CmdBotStop, map[string]interface{}{
		"name": containerName,
	}); err != nil {
		return err
	}
	if _, err := s.commander.SendCommand(nodeID, fleet.CmdBackupDownload, map[string]interface{}{
		"filename": *snap.RemoteKey,
		"name":     containerName,
	}); err != nil {
		return err
	}
	if _, err := s.commander.SendCommand(nodeID, fleet.CmdBotImport, map[string]interface{}{
		"name":  containerName,
		"image": bot.Image,
	}); err != nil {
		return err
	}

	logger.Info("snapshot restored", map[string]interface{}{
		"snapshot": snapshotID,
		"tenant":   bot.TenantID,
		"node":     nodeID,
	})
	return nil
}

// List returns a tenant's live snapshots
func (s *Service) List(tenantID string) ([]*models.Snapshot, error) {
	return s.snapshots.FindByTenant(tenantID)
}

// Delete soft-deletes a snapshot; the retention sweeper removes the blob
// after the hard-delete window.
func (s *Service) Delete(snapshotID string) error {
	snap, err := s.snapshots.FindByID(snapshotID)
	if err != nil {
		return err
	}
	if snap.IsDeleted() {
		return nil
	}
	now := time.Now().UTC()
	snap.DeletedAt = &now
	return s.snapshots.Update(snap)
}

// SweepExpired soft-deletes live snapshots past their expiry and
// hard-deletes blobs whose soft-delete window has passed. Errors are logged
// per snapshot; the sweep continues.
func (s *Service) SweepExpired(now time.Time) {
	expired, err := s.snapshots.FindExpired(now)
	if err != nil {
		logger.Error("retention sweep query failed", err, nil)
		return
	}
	for _, snap := range expired {
		deleted := now
		snap.DeletedAt = &deleted
		if err := s.snapshots.Update(snap); err != nil {
			logger.Error("failed to soft-delete snapshot", err, map[string]interface{}{
				"snapshot": snap.ID,
			})
		}
	}

	cutoff := now.Add(-time.Duration(s.cfg.SnapshotHardDeleteDays) * 24 * time.Hour)
	purgeable, err := s.snapshots.FindPurgeable(cutoff)
	if err != nil {
		logger.Error("retention purge query failed", err, nil)
		return
	}
	for _, snap := range purgeable {
		if snap.RemoteKey != nil && s.objects != nil {
			if err := s.objects.Remove(*snap.RemoteKey); err != nil {
				logger.Error("failed to remove remote snapshot", err, map[string]interface{}{
					"snapshot": snap.ID,
					"key":      *snap.RemoteKey,
				})
				continue
			}
		}
		if snap.StoragePath != "" {
			if err := os.Remove(snap.StoragePath); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove local snapshot file", map[string]interface{}{
					"snapshot": snap.ID,
					"path":     snap.StoragePath,
				})
			}
		}
		if err := s.snapshots.Delete(snap.ID); err != nil {
			logger.Error("failed to purge snapshot row", err, map[string]interface{}{
				"snapshot": snap.ID,
			})
		}
	}
	if len(expired) > 0 || len(purgeable) > 0 {
		logger.Info("retention sweep complete", map[string]interface{}{
			"soft_deleted": len(expired),
			"purged":       len(purgeable),
		})
	}
}

// RunNightly asks every connected node to run its nightly backup cycle
func (s *Service) RunNightly(nodeIDs []string) {
	for _, nodeID := range nodeIDs {
		if _, err := s.commander.SendCommand(nodeID, fleet.CmdBackupRunNightly, nil); err != nil {
			logger.Error("nightly backup failed", err, map[string]interface{}{
				"node": nodeID,
			})
		}
	}
}

// RunHot asks every connected node to refresh the hot backups recovery pulls
// from.
func (s *Service) RunHot(nodeIDs []string) {
	for _, nodeID := range nodeIDs {
		if _, err := s.commander.SendCommand(nodeID, fleet.CmdBackupRunHot, nil); err != nil {
			logger.Error("hot backup failed", err, map[string]interface{}{
				"node": nodeID,
			})
		}
	}
}
