package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/config"
	"github.com/crossfusion/swapd/internal/core/application"
	"github.com/crossfusion/swapd/internal/core/ports"
	"github.com/crossfusion/swapd/internal/infrastructure/chain/evm"
	"github.com/crossfusion/swapd/internal/infrastructure/db"
	inmemorylocker "github.com/crossfusion/swapd/internal/infrastructure/locker/inmemory"
	pglocker "github.com/crossfusion/swapd/internal/infrastructure/locker/pg"
	"github.com/crossfusion/swapd/internal/infrastructure/notifier"
	scheduler "github.com/crossfusion/swapd/internal/infrastructure/scheduler/gocron"
	"github.com/crossfusion/swapd/internal/interface/web"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.WithFields(log.Fields{
		"version": version, "commit": commit, "date": date,
	}).Info("starting swapd...")

	dbConfig := []any{cfg.Datadir, log.New()}
	if cfg.DbType == "postgres" {
		dbConfig = []any{cfg.PostgresURL}
	}
	repoSvc, err := db.NewService(db.ServiceConfig{
		DbType:   cfg.DbType,
		DbConfig: dbConfig,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	hub := notifier.NewWebsocketHub()
	sinks := []ports.NotificationSink{hub}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notifier.NewWebhookSink(cfg.WebhookURL))
	}
	notifierSvc := notifier.NewMultiSink(sinks...)

	// Postgres deployments share the database across coordinator instances,
	// so the per-swap lock has to live there too. The in-memory locker only
	// suffices for the single-process badger setup.
	var lockerSvc ports.SwapLocker = inmemorylocker.NewSwapLocker()
	if pool := db.PgPool(repoSvc); pool != nil {
		lockerSvc = pglocker.NewSwapLocker(pool)
	}

	coordinator := application.NewCoordinator(repoSvc, lockerSvc, notifierSvc, cfg.QueueSize)
	coordinator.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapters := make([]ports.ChainAdapter, 0, len(cfg.Chains))
	batchSize := uint64(0)
	for _, chainCfg := range cfg.Chains {
		adapter, err := evm.NewAdapter(ctx, evm.Options{
			ChainID:       chainCfg.ChainID,
			RPCURL:        chainCfg.RPCURL,
			Contract:      chainCfg.Contract,
			Confirmations: chainCfg.Confirmations,
		})
		if err != nil {
			log.WithError(err).Fatalf("failed to connect to chain %s", chainCfg.ChainID)
		}
		adapters = append(adapters, adapter)
		if chainCfg.BatchSize > batchSize {
			batchSize = chainCfg.BatchSize
		}
	}

	monitor := application.NewMonitor(repoSvc, coordinator, adapters, application.MonitorOptions{
		PollInterval: cfg.PollInterval,
		BatchSize:    batchSize,
	})
	if len(adapters) > 0 {
		if err := monitor.Start(ctx); err != nil {
			log.WithError(err).Fatal("failed to start event monitor")
		}
	}

	schedulerSvc := scheduler.NewScheduler()
	schedulerSvc.Start()
	if err := schedulerSvc.ScheduleExpirySweep(cfg.ExpiryInterval, func() {
		if err := coordinator.CheckExpiry(ctx, time.Now().UTC()); err != nil {
			log.WithError(err).Error("expiry sweep failed")
		}
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule expiry sweep")
	}

	webSvc := web.NewService(cfg.HTTPPort, coordinator, monitor, schedulerSvc, hub)
	if err := webSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start http server")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	webSvc.Stop()
	schedulerSvc.Stop()
	monitor.Stop()
	coordinator.Stop()
	notifierSvc.Close()
	lockerSvc.Close()
	repoSvc.Close()
	log.Exit(0)
}
