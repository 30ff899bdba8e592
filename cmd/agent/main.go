package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/botgrid/hosting/internal/agent"
	"github.com/botgrid/hosting/internal/storage"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

func main() {
	cfg := config.Load()

	appLogger := logger.NewLogger(logger.ParseLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	logger.SetDefault(appLogger)

	if cfg.AgentNodeID == "" {
		logger.Fatal("AGENT_NODE_ID is required", nil, nil)
	}
	logger.Info("Starting node agent", map[string]interface{}{
		"node":        cfg.AgentNodeID,
		"coordinator": cfg.AgentCoordinator,
		"version":     agent.Version,
	})

	if err := os.MkdirAll(cfg.AgentDataPath, 0755); err != nil {
		logger.Fatal("Failed to create data path", err, nil)
	}
	backupDir := cfg.AgentDataPath + "/.backups"
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		logger.Fatal("Failed to create backup path", err, nil)
	}

	runner, err := agent.NewDockerRunner(cfg.AgentDockerSocket, cfg.AgentDataPath)
	if err != nil {
		logger.Fatal("Failed to initialize docker runner", err, nil)
	}
	defer runner.Close()

	var objects storage.ObjectStore
	if cfg.StorageBoxEnabled {
		store, err := storage.NewSFTPStore(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize storage box", err, nil)
		}
		defer store.Close()
		objects = store
	} else {
		logger.Warn("Storage box disabled, backup commands will fail", nil)
	}

	cipher, err := storage.NewArchiveCipher(cfg.ArchiveSecret)
	if err != nil {
		logger.Fatal("Failed to initialize archive cipher", err, nil)
	}
	if cipher == nil {
		logger.Warn("No archive secret configured, backups are stored unencrypted", nil)
	}

	executor := agent.NewExecutor(cfg.AgentNodeID, runner, objects, cipher, backupDir)
	client := agent.NewClient(cfg, executor)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down...", nil)
		cancel()
	}()

	client.Run(ctx)
	logger.Info("Shutdown complete", nil)
}
