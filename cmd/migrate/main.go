package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opentrusty/subsites/internal/config"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	if cfg.Store.Driver != config.DriverPostgres {
		fmt.Fprintf(os.Stderr, "Migrations need STORE_DRIVER=%s\n", config.DriverPostgres)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.MigrateUp(ctx); err != nil {
		slog.Error("migration failed", logger.Error(err))
		os.Exit(1)
	}
	fmt.Println("Migration successful.")
}
