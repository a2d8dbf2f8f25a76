package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/cleanup"
	"github.com/xandeum/ingestor/pkg/config"
	"github.com/xandeum/ingestor/pkg/credits"
	"github.com/xandeum/ingestor/pkg/ingest"
	"github.com/xandeum/ingestor/pkg/rpcclient"
	"github.com/xandeum/ingestor/pkg/scheduler"
	"github.com/xandeum/ingestor/pkg/snapshot"
	"github.com/xandeum/ingestor/pkg/store"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

type httpServer interface {
	Serve(context.Context, chan struct{}) error
}

type workerStarterStopper interface {
	Run() error
	Stop() error
}

type App struct {
	logger  *zap.Logger
	server  httpServer
	workers []workerStarterStopper
	cleanup func()
}

func (a *App) AddWorker(w workerStarterStopper) {
	a.logger.Debug("registering background worker",
		zap.String("type", fmt.Sprintf("%T", w)))
	a.workers = append(a.workers, w)
}

func (a *App) SetCleanupFn(cleanup func()) {
	a.cleanup = cleanup
}

func (a *App) Run() error {
	if a.cleanup != nil {
		defer a.cleanup()
	}

	for _, w := range a.workers {
		if err := w.Run(); err != nil {
			return err
		}
		a.logger.Info("background worker started",
			zap.String("type", fmt.Sprintf("%T", w)))
		defer w.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.server.Serve(ctx, nil)
}

func createApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	app.SetCleanupFn(func() {
		st.Close()
	})

	rpc := rpcclient.New(cfg.RPCTimeout)
	creditsClient := credits.New(cfg.CreditsURL, cfg.CreditsTimeout)

	cycle := ingest.New(st, rpc, cfg, logger)
	snapshotComputer := snapshot.New(st, cfg.Seeds, cfg, logger)
	cleanupEngine := cleanup.New(st, cfg.CleanupTables, logger)

	sched := scheduler.New(cfg, version, st, cycle, snapshotComputer, creditsClient, st, cleanupEngine, rpc, logger)
	app.AddWorker(sched)

	health := &healthService{scheduler: sched}
	bindAddr := fmt.Sprintf(":%d", cfg.HealthCheckPort)
	api := NewApiServer(bindAddr, "/", logger)
	api.HandleFunc(http.MethodGet, "/health", health.HandleHealth)
	app.server = api

	return app, nil
}

func main() {
	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()
	logger.Info("application starting: ingestor")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	app, err := createApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	if err := app.Run(); err != nil {
		panic(err)
	}
}
