package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/botgrid/hosting/internal/api"
	"github.com/botgrid/hosting/internal/billing"
	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/notify"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/internal/snapshot"
	"github.com/botgrid/hosting/internal/storage"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

func main() {
	cfg := config.Load()

	appLogger := logger.NewLogger(logger.ParseLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	logger.SetDefault(appLogger)
	logger.Info("Starting coordinator", map[string]interface{}{
		"app":   cfg.AppName,
		"debug": cfg.Debug,
		"port":  cfg.Port,
	})

	if err := repository.InitDB(cfg); err != nil {
		logger.Fatal("Failed to initialize database", err, nil)
	}
	db := repository.GetDB()

	nodeRepo := repository.NewNodeRepository(db)
	botRepo := repository.NewBotRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	recoveryRepo := repository.NewRecoveryRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	grantRepo := repository.NewGrantRepository(db)
	meterRepo := repository.NewMeterRepository(db)
	topupRepo := repository.NewTopupRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	bus := events.NewBus()

	// Node fabric. The heartbeat processor needs the orphan cleaner, which
	// needs the manager as its commander, so the processor is attached after
	// construction.
	manager := fleet.NewManager(cfg, nodeRepo, botRepo, recoveryRepo, bus)
	orphans := fleet.NewOrphanCleaner(nodeRepo, botRepo, manager, bus)
	manager.SetHeartbeatProcessor(fleet.NewHeartbeatProcessor(nodeRepo, orphans))

	migrations := fleet.NewMigrationManager(cfg, nodeRepo, botRepo, manager, bus)
	recovery := fleet.NewRecoveryManager(cfg, nodeRepo, botRepo, recoveryRepo, manager, bus)
	recovery.StartRetryLoop()
	defer recovery.Stop()

	health := fleet.NewHealthWatcher(cfg, nodeRepo, recovery, bus)
	health.Start()
	defer health.Stop()

	// Billing. The ledger publishes credit events; the bot billing service
	// subscribes to drive suspension and reactivation.
	ledger := billing.NewLedgerService(creditRepo, bus)
	topup := billing.NewAutoTopupService(cfg, topupRepo, ledger, nil, notificationRepo, bus)
	botBilling := billing.NewBotBillingService(cfg, botRepo, ledger, notificationRepo, manager, bus)
	botBilling.SetAutoTopup(topup)
	botBilling.AttachFleet(nodeRepo, manager)
	botBilling.Bind(bus)
	botBilling.StartDestroySweep()
	defer botBilling.Stop()

	budget := billing.NewBudgetChecker(cfg, meterRepo, customerRepo)
	metering := billing.NewMeteringService(cfg, meterRepo, ledger, budget)
	bulk := billing.NewBulkService(cfg, ledger, botBilling, botRepo, grantRepo)

	// Object storage is optional; without it snapshots live only on nodes
	// and node recovery has no hot backups to pull from.
	var objects storage.ObjectStore
	if cfg.StorageBoxEnabled {
		store, err := storage.NewSFTPStore(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize storage box", err, nil)
		}
		defer store.Close()
		objects = store
		logger.Info("Storage box initialized", map[string]interface{}{
			"host": cfg.StorageBoxHost,
		})
	} else {
		logger.Warn("Storage box disabled, node recovery will have no backups to restore", nil)
	}

	snapshots := snapshot.NewService(cfg, snapshotRepo, botRepo, manager, objects)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.NightlyBackupSchedule, func() {
		snapshots.RunNightly(manager.ConnectedNodes())
	}); err != nil {
		logger.Fatal("Invalid nightly backup schedule", err, nil)
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		snapshots.RunHot(manager.ConnectedNodes())
	}); err != nil {
		logger.Fatal("Invalid hot backup schedule", err, nil)
	}
	if _, err := scheduler.AddFunc(cfg.RetentionSweepSchedule, func() {
		snapshots.SweepExpired(time.Now().UTC())
	}); err != nil {
		logger.Fatal("Invalid retention sweep schedule", err, nil)
	}
	scheduler.Start()
	defer scheduler.Stop()
	logger.Info("Backup scheduler started", map[string]interface{}{
		"nightly":   cfg.NightlyBackupSchedule,
		"retention": cfg.RetentionSweepSchedule,
	})

	notifier := notify.NewWorker(notificationRepo, notify.LogSender{}, 30*time.Second)
	notifier.Start()
	defer notifier.Stop()

	router := api.NewRouter(&api.Services{
		Cfg:        cfg,
		Manager:    manager,
		Migrations: migrations,
		Recovery:   recovery,
		Ledger:     ledger,
		Billing:    botBilling,
		Topup:      topup,
		Budget:     budget,
		Bulk:       bulk,
		Metering:   metering,
		Snapshots:  snapshots,
		Nodes:      nodeRepo,
		Bots:       botRepo,
		Events:     recoveryRepo,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", err, nil)
		}
		// Closing channels fails all in-flight commands; agents reconnect
		// to the next coordinator instance.
		manager.CloseAll()
	}()

	logger.Info("Coordinator listening", map[string]interface{}{
		"address": server.Addr,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to start server", err, nil)
	}
	logger.Info("Shutdown complete", nil)
}
