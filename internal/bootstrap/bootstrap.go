// Package bootstrap builds the shared runtime graph used by cmd/server and
// cmd/worker from a loaded Config.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/cache"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/repository/memory"
	"github.com/ignite/drip-engine/internal/repository/postgres"
	"github.com/ignite/drip-engine/internal/sending"
	"github.com/ignite/drip-engine/internal/service/drip"
	"github.com/ignite/drip-engine/internal/service/suppression"
)

// App is the wired set of dependencies. DB and Redis are nil when not
// configured.
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Redis       *redis.Client
	Drip        *drip.Service
	Suppression *suppression.Service
	Signer      *mailing.UnsubscribeSigner
	Renderer    *mailing.Renderer
	Sender      sending.Sender
}

// ConfigureLogging applies the log section of cfg to the default logger.
func ConfigureLogging(cfg *config.Config) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
}

// New connects to the configured backends and builds the services. Without
// a database URL the in-memory store is used, which suits local runs only:
// state is per process.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.With("component", "bootstrap")
	app := &App{Config: cfg}

	var (
		dripRepo drip.Repository
		suppRepo suppression.Repository
	)
	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.DB = db
		dripRepo = postgres.NewDripRepo(db)
		suppRepo = postgres.NewSuppressionRepo(db)
		log.Info("connected to database")
	} else {
		store := memory.New()
		dripRepo, suppRepo = store, store
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	var suppOpts []suppression.Option
	if cfg.Redis.URL != "" {
		client, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Redis = client
		suppOpts = append(suppOpts, suppression.WithCache(cache.NewSuppressionCache(client, cfg.Redis.SuppressionTTL())))
		log.Info("connected to redis")
	}

	app.Drip = drip.NewService(dripRepo,
		drip.WithStuckThreshold(cfg.Dispatcher.StuckThreshold()),
		drip.WithRecoveryBatch(cfg.Dispatcher.RecoveryBatch))
	app.Suppression = suppression.NewService(suppRepo, suppOpts...)
	app.Signer = mailing.NewUnsubscribeSigner(cfg.App.UnsubscribeSecret, cfg.App.URL)
	app.Renderer = mailing.NewRenderer(app.Signer, mailing.Sender{
		FromName:  cfg.App.FromName,
		FromEmail: cfg.App.FromEmail,
		ReplyTo:   cfg.App.ReplyTo,
	})

	if cfg.SES.Enabled {
		ses, err := sending.NewSESSender(ctx, sending.SESConfig{
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			Region:           cfg.SES.Region,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Sender = ses
		log.Info("SES sender ready", "region", cfg.SES.Region)
	} else {
		app.Sender = sending.NewLogSender()
		log.Warn("SES not configured, emails will only be logged")
	}
	return app, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Accept a bare host:port as well.
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
