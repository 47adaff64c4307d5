// Package app wires every reconciler component into a single process. New
// builds the dependency graph, Start launches any background work, Run
// serves HTTP, and Close releases resources on shutdown.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/ixqt-ai/cloud-reconciler/internal/http/handlers"
	"github.com/ixqt-ai/cloud-reconciler/internal/platform/gcp"
	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/config"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/engine"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/instance"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/notify"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/restart"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/store"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/writer"
	"github.com/ixqt-ai/cloud-reconciler/internal/server"
)

type App struct {
	Log    *logger.Logger
	Cfg    config.Config
	Router *gin.Engine
	Engine *engine.Engine

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading environment variables...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	table, err := transitions.Load()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load transition table: %w", err)
	}
	log.Info("loaded transition table", "sha256", table.Hash())

	ctx := context.Background()

	storageCfg, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	storageClient, err := gcp.NewStorageClient(ctx, storageCfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	computeClient, err := gcp.NewComputeClient(ctx)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init compute client: %w", err)
	}

	st := store.NewGCSStore(log, storageClient, cfg.Bucket)
	instances := instance.NewGCEAdapter(log, computeClient)

	w := writer.New(st, table, log, cfg.DryRun)

	var notifier notify.Notifier
	if cfg.DiscordWebhookURL != "" {
		notifier = notify.NewDiscord(cfg.DiscordWebhookURL, cfg.DryRun, log)
	} else {
		notifier = notify.Noop{}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	restarter := restart.New(st, instances, w, notifier, log, cfg.Project, cfg.DryRun, hostname)

	engineCfg := engine.Config{
		HeartbeatStaleSec:  cfg.HeartbeatStaleSec,
		RestartingStuckSec: cfg.RestartingStuckSec,
		MarkerMinAgeSec:    engine.DefaultConfig().MarkerMinAgeSec,
	}
	eng := engine.New(st, instances, w, restarter, notifier, log, engineCfg, cfg.Project, cfg.DryRun)

	healthHandler := handlers.NewHealthHandler()
	reconcileHandler := handlers.NewReconcileHandler(eng, log)
	router := server.NewRouter(server.RouterConfig{
		HealthHandler:    healthHandler,
		ReconcileHandler: reconcileHandler,
	})

	return &App{
		Log:    log,
		Cfg:    cfg,
		Router: router,
		Engine: eng,
	}, nil
}

// Start exists for symmetry with Run/Close; the reconciler has no
// background worker to launch, every reconciliation is request-driven.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	_, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
