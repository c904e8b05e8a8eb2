package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ignite/drip-engine/internal/bootstrap"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	once := flag.Bool("once", false, "run a single dispatch sweep and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	bootstrap.ConfigureLogging(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required for the standalone worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	d := cfg.Dispatcher
	dispatcher := worker.NewDripDispatcher(app.Drip, app.Suppression, app.Renderer, app.Sender,
		distlock.NewLock(app.Redis, app.DB, "drip-dispatch", worker.DispatchLockTTL),
		worker.DispatcherConfig{
			PollInterval:    d.PollInterval(),
			BatchSize:       d.BatchSize,
			MaxSendAttempts: d.MaxSendAttempts,
			SendTimeout:     d.SendTimeout(),
		})

	if *once {
		stats, err := dispatcher.RunOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep finished", "due", stats.Due, "sent", stats.Sent, "failed", stats.Failed)
		return
	}

	recoverer := worker.NewStuckEnrollmentRecoverer(app.Drip,
		distlock.NewLock(app.Redis, app.DB, "drip-recovery", 5*time.Minute), d.RecoveryInterval())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); dispatcher.Start(ctx) }()
	go func() { defer wg.Done(); recoverer.Start(ctx) }()
	logger.Info("worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}
