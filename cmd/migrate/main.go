package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/repository/postgres"
	"github.com/ignite/drip-engine/migrations"
)

// Usage: migrate [--list] [dir]
// Without dir the embedded migrations are applied.
func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	var src fs.FS = migrations.FS
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			src = os.DirFS(a)
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping", "error", err)
		os.Exit(1)
	}

	if listOnly {
		tables, err := postgres.ListTables(ctx, db)
		if err != nil {
			logger.Error("list tables", "error", err)
			os.Exit(1)
		}
		for _, t := range tables {
			fmt.Println(" ", t)
		}
		fmt.Printf("Total: %d tables\n", len(tables))
		return
	}

	applied, err := postgres.Migrate(ctx, db, src)
	for _, m := range applied {
		state := "already applied"
		if m.Applied {
			state = "OK"
		}
		fmt.Printf("  %s ... %s\n", m.Name, state)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "files", len(applied))
}
