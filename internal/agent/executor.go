package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/snapshot"
	"github.com/botgrid/hosting/internal/storage"
	"github.com/botgrid/hosting/pkg/logger"
)

const defaultLogTail = 100

// Executor maps coordinator commands onto the local Docker runner, the
// backup directory and object storage. Export archives are encrypted before
// they leave the node; import decrypts on arrival.
type Executor struct {
	nodeID    string
	runner    *DockerRunner
	objects   storage.ObjectStore // nil when no remote store is configured
	cipher    *storage.ArchiveCipher
	backupDir string
}

// NewExecutor creates a command executor
func NewExecutor(nodeID string, runner *DockerRunner, objects storage.ObjectStore, cipher *storage.ArchiveCipher, backupDir string) *Executor {
	return &Executor{
		nodeID:    nodeID,
		runner:    runner,
		objects:   objects,
		cipher:    cipher,
		backupDir: backupDir,
	}
}

// Inventory reports the running containers for a heartbeat frame
func (e *Executor) Inventory(ctx context.Context) ([]fleet.ContainerReport, error) {
	infos, err := e.runner.List(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]fleet.ContainerReport, 0, len(infos))
	for _, info := range infos {
		reports = append(reports, fleet.ContainerReport{
			Name:     info.Name,
			MemoryMB: info.MemoryMB,
		})
	}
	return reports, nil
}

// Execute runs one command and returns its result frame. Errors never
// propagate; they become failed results for the coordinator to act on.
func (e *Executor) Execute(ctx context.Context, cmd fleet.Command) *fleet.CommandResult {
	result := &fleet.CommandResult{
		ID:      cmd.ID,
		Type:    fleet.FrameCommandResult,
		Command: cmd.Command,
	}
	data, err := e.dispatch(ctx, cmd)
	if err != nil {
		result.Error = err.Error()
		logger.Error("command failed", err, map[string]interface{}{
			"command": cmd.Command,
			"id":      cmd.ID,
		})
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

func (e *Executor) dispatch(ctx context.Context, cmd fleet.Command) (map[string]interface{}, error) {
	switch cmd.Command {
	case fleet.CmdBotStart, fleet.CmdBotUpdate:
		return nil, e.runner.Start(ctx, startOptions(cmd.Payload))
	case fleet.CmdBotStop:
		return nil, e.runner.Stop(ctx, stringField(cmd.Payload, "name"))
	case fleet.CmdBotRestart:
		return nil, e.runner.Restart(ctx, stringField(cmd.Payload, "name"))
	case fleet.CmdBotRemove:
		return nil, e.removeBot(ctx, stringField(cmd.Payload, "name"))
	case fleet.CmdBotExport:
		return e.exportBot(ctx, stringField(cmd.Payload, "name"))
	case fleet.CmdBotImport:
		return nil, e.importBot(ctx, cmd.Payload)
	case fleet.CmdBotLogs:
		return e.botLogs(ctx, cmd.Payload)
	case fleet.CmdBotInspect:
		running, status, err := e.runner.Inspect(ctx, stringField(cmd.Payload, "name"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"running": running, "status": status}, nil
	case fleet.CmdBackupUpload:
		return nil, e.upload(cmd.Payload)
	case fleet.CmdBackupDownload:
		return nil, e.download(cmd.Payload)
	case fleet.CmdBackupRunNightly:
		return e.backupAll(ctx, false)
	case fleet.CmdBackupRunHot:
		return e.backupAll(ctx, true)
	default:
		return nil, fmt.Errorf("unknown command %s", cmd.Command)
	}
}

func (e *Executor) removeBot(ctx context.Context, name string) error {
	if err := e.runner.Remove(ctx, name); err != nil {
		return err
	}
	return os.RemoveAll(e.runner.DataDir(name))
}

// exportBot archives the container's data directory into the backup
// directory. The container keeps running; the archive is a point-in-time
// copy taken from the live volume.
func (e *Executor) exportBot(ctx context.Context, name string) (map[string]interface{}, error) {
	if name == "" {
		return nil, fmt.Errorf("export requires a container name")
	}
	dataDir := e.runner.DataDir(name)
	if _, err := os.Stat(dataDir); err != nil {
		return nil, fmt.Errorf("no data directory for %s: %w", name, err)
	}

	filename := name + ".tar.gz"
	plain := filepath.Join(e.backupDir, filename+".tmp")
	final := filepath.Join(e.backupDir, filename)
	if err := tarDir(dataDir, plain); err != nil {
		return nil, err
	}
	defer os.Remove(plain)
	if err := e.cipher.EncryptFile(plain, final); err != nil {
		return nil, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	logger.Info("export complete", map[string]interface{}{
		"name":       name,
		"size_bytes": info.Size(),
	})
	return map[string]interface{}{
		"filename":   filename,
		"size_bytes": info.Size(),
	}, nil
}

// importBot unpacks an archive from the backup directory into the data
// directory and starts the container on top of it.
func (e *Executor) importBot(ctx context.Context, payload map[string]interface{}) error {
	opts := startOptions(payload)
	if opts.Name == "" {
		return fmt.Errorf("import requires a container name")
	}
	archive := filepath.Join(e.backupDir, opts.Name+".tar.gz")
	plain := archive + ".plain"
	if err := e.cipher.DecryptFile(archive, plain); err != nil {
		return err
	}
	defer os.Remove(plain)

	dataDir := e.runner.DataDir(opts.Name)
	if err := os.RemoveAll(dataDir); err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	if err := untarDir(plain, dataDir); err != nil {
		return err
	}
	return e.runner.Start(ctx, opts)
}

func (e *Executor) botLogs(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	tail := defaultLogTail
	if v, ok := payload["tail"].(float64); ok && v > 0 {
		tail = int(v)
	}
	logs, err := e.runner.Logs(ctx, stringField(payload, "name"), tail)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"logs": logs}, nil
}

func (e *Executor) upload(payload map[string]interface{}) error {
	if e.objects == nil {
		return fmt.Errorf("no object store configured")
	}
	filename := stringField(payload, "filename")
	if filename == "" {
		return fmt.Errorf("upload requires a filename")
	}
	remoteKey := stringField(payload, "remote_key")
	if remoteKey == "" {
		remoteKey = filename
	}
	local := filepath.Join(e.backupDir, filepath.Base(filename))
	return e.objects.Upload(local, remoteKey)
}

// download fetches an archive from object storage into the backup directory.
// The name field fixes the local filename so a following import finds it; it
// matters when the remote key does not carry the container name.
func (e *Executor) download(payload map[string]interface{}) error {
	if e.objects == nil {
		return fmt.Errorf("no object store configured")
	}
	remoteKey := stringField(payload, "filename")
	if remoteKey == "" {
		return fmt.Errorf("download requires a filename")
	}
	localName := filepath.Base(remoteKey)
	if name := stringField(payload, "name"); name != "" {
		localName = name + ".tar.gz"
	}
	return e.objects.Download(remoteKey, filepath.Join(e.backupDir, localName))
}

// backupAll exports every managed container and uploads it under the nightly
// or hot key scheme. Per-container failures are recorded, not fatal.
func (e *Executor) backupAll(ctx context.Context, hot bool) (map[string]interface{}, error) {
	if e.objects == nil {
		return nil, fmt.Errorf("no object store configured")
	}
	infos, err := e.runner.List(ctx)
	if err != nil {
		return nil, err
	}

	uploaded := 0
	var failed []string
	day := time.Now().UTC()
	for _, info := range infos {
		data, err := e.exportBot(ctx, info.Name)
		if err != nil {
			failed = append(failed, info.Name)
			continue
		}
		filename := data["filename"].(string)
		tenantID := models.TenantFromContainerName(info.Name)
		key := snapshot.NightlyKey(e.nodeID, tenantID, day)
		if hot {
			key = fleet.HotBackupKey(info.Name)
		}
		if err := e.objects.Upload(filepath.Join(e.backupDir, filename), key); err != nil {
			logger.Error("backup upload failed", err, map[string]interface{}{
				"name": info.Name,
				"key":  key,
			})
			failed = append(failed, info.Name)
			continue
		}
		uploaded++
	}

	result := map[string]interface{}{"uploaded": uploaded}
	if len(failed) > 0 {
		result["failed"] = failed
	}
	return result, nil
}

func startOptions(payload map[string]interface{}) StartOptions {
	opts := StartOptions{
		Name:    stringField(payload, "name"),
		Image:   stringField(payload, "image"),
		Restart: true,
	}
	if v, ok := payload["memory_mb"].(float64); ok {
		opts.MemoryMB = int(v)
	}
	if env, ok := payload["env"].([]interface{}); ok {
		for _, entry := range env {
			if s, ok := entry.(string); ok {
				opts.Env = append(opts.Env, s)
			}
		}
	}
	if ports, ok := payload["ports"].(map[string]interface{}); ok {
		opts.Ports = make(map[string]string, len(ports))
		for hostPort, containerPort := range ports {
			if s, ok := containerPort.(string); ok {
				opts.Ports[hostPort] = s
			}
		}
	}
	return opts
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
