package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/opentrusty/subsites/internal/config"
	"github.com/opentrusty/subsites/internal/seed"
	"github.com/opentrusty/subsites/internal/store/postgres"
)

func main() {
	seedFile := flag.String("seed", "", "seed file to apply after cleaning")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		fmt.Fprintf(os.Stderr, "clean-db needs STORE_DRIVER=%s\n", config.DriverPostgres)
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
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Cleaning database...")
	if err := db.Truncate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Cleared all tables")

	if *seedFile == "" {
		return
	}
	fmt.Printf("Applying seed %s...\n", *seedFile)
	err = seed.LoadFile(ctx, *seedFile, seed.Target{
		Tenants: postgres.NewTenantRepository(db),
		Users:   postgres.NewUserRepository(db),
		Groups:  postgres.NewGrantRepository(db),
		Records: postgres.NewRecordRepository(db),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Seed applied")
}
