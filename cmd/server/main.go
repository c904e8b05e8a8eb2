package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/drip-engine/internal/api"
	"github.com/ignite/drip-engine/internal/bootstrap"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	withWorker := flag.Bool("with-worker", false, "also run the drip dispatcher in this process")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Without a database the store lives in this process, so the dispatcher
	// has to run here too.
	if *withWorker || app.DB == nil {
		startWorkers(ctx, app)
	}

	srv := api.NewServer(app.Drip, app.Suppression, app.Signer,
		api.NewHealthChecker(app.DB, app.Redis),
		api.SNSOptions{AutoConfirm: cfg.Suppression.AutoConfirmSNS, TopicARNs: cfg.Suppression.SNSTopicARNs})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Routes(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

func startWorkers(ctx context.Context, app *bootstrap.App) {
	var dispatchLock, recoveryLock distlock.DistLock
	if app.DB != nil || app.Redis != nil {
		dispatchLock = distlock.NewLock(app.Redis, app.DB, "drip-dispatch", worker.DispatchLockTTL)
		recoveryLock = distlock.NewLock(app.Redis, app.DB, "drip-recovery", 5*time.Minute)
	}
	d := app.Config.Dispatcher
	go worker.NewDripDispatcher(app.Drip, app.Suppression, app.Renderer, app.Sender, dispatchLock,
		worker.DispatcherConfig{
			PollInterval:    d.PollInterval(),
			BatchSize:       d.BatchSize,
			MaxSendAttempts: d.MaxSendAttempts,
			SendTimeout:     d.SendTimeout(),
		}).Start(ctx)
	go worker.NewStuckEnrollmentRecoverer(app.Drip, recoveryLock, d.RecoveryInterval()).Start(ctx)
}
