// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/storage"
)

func main() {
	var (
		action  = flag.String("action", "up", "Migration action: up, down, version, force")
		steps   = flag.Int("steps", 1, "Number of migrations to roll back with -action=down")
		version = flag.Int("version", -1, "Version to record with -action=force")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	migrator := storage.NewMigrator(cfg.Database.Postgres.URL(), cfg.Database.MigrationsPath)
	if err := run(migrator, *action, *steps, *version); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}
}

func run(m *storage.Migrator, action string, steps, version int) error {
	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Printf("Rolling back %d Postgres migration(s)...", steps)
		if err := m.Down(steps); err != nil {
			return err
		}
		log.Println("Postgres migrations rolled back successfully")

	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", v, dirty)

	case "force":
		if version < 0 {
			return fmt.Errorf("-version is required with -action=force")
		}
		if err := m.Force(version); err != nil {
			return err
		}
		log.Printf("Postgres migration version forced to %d", version)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
