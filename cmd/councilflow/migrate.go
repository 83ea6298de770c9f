package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/config"
	"github.com/BaSui01/councilflow/store"
)

// runMigrate handles the migrate command and its subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateStep(subargs, func(m *store.Migrator) error { return m.Up() })
	case "down":
		runMigrateStep(subargs, func(m *store.Migrator) error { return m.Down() })
	case "version":
		runMigrateVersion(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  councilflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  councilflow migrate up
  councilflow migrate up --config /etc/councilflow/config.yaml
  councilflow migrate down
  councilflow migrate version`)
}

// createMigrator opens the configured database and builds a migrator on it.
func createMigrator(fs *flag.FlagSet, args []string) (*store.Migrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == "" {
		return nil, fmt.Errorf("no database configured")
	}

	db, err := store.Open(cfg.Database, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return store.NewMigrator(db, cfg.Database.Driver)
}

func runMigrateStep(args []string, step func(*store.Migrator) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	if err := step(migrator); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func runMigrateVersion(args []string) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get version: %v\n", err)
		os.Exit(1)
	}
	if version == 0 && !dirty {
		fmt.Println("No migrations applied")
		return
	}
	fmt.Printf("Version: %d (dirty: %v)\n", version, dirty)
}
