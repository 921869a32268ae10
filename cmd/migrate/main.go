// Command migrate applies or reports the credential store schema.
//
//	migrate          apply pending migrations
//	migrate -status  list applied and pending migrations
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/diagnosis/reservaja/pkg/config"
	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/pkg/logger"
)

func main() {
	status := flag.Bool("status", false, "print migration status instead of migrating")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *status {
		err = database.MigrationStatus(ctx, pool)
	} else {
		err = database.Migrate(ctx, pool)
	}
	if err != nil {
		logger.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Migrations complete")
}
