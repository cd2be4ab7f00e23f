package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/Skryldev/authdb/config"
	"github.com/Skryldev/authdb/db"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	if err := run(args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// run returns instead of exiting so the store and migrator are closed.
func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	command := args[0]
	if command == "reset" {
		if !confirm("reset will destroy every user record") {
			return nil
		}
		store, err := db.Open(cfg.DBConfig())
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer store.Close()
		if err := store.ResetForTesting(context.Background()); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		slog.Info("migrations: store reset", "driver", cfg.Driver)
		return nil
	}

	m, err := db.NewMigrator(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up failed: %w", err)
		}
		slog.Info("migrations: up completed")

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("down: invalid steps argument %q", args[1])
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("down failed: %w", err)
		}
		slog.Info("migrations: down completed", "steps", steps)

	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("version failed: %w", err)
		}
		fmt.Printf("version: %d  dirty: %v\n", v, dirty)

	case "force":
		if len(args) < 2 {
			return errors.New("force: version argument required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("force: invalid version %q", args[1])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		slog.Info("migrations: forced", "version", v)

	case "drop":
		if !confirm("drop will destroy all tables") {
			return nil
		}
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		slog.Info("migrations: all tables dropped")

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func confirm(warning string) bool {
	fmt.Fprintf(os.Stderr, "WARNING: %s. Type 'yes' to confirm:\n", warning)
	var answer string
	fmt.Scanln(&answer)
	if answer != "yes" {
		fmt.Println("aborted")
		return false
	}
	return true
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate <command> [args]

Commands:
  up           Apply all pending migrations
  down [N]     Rollback N migrations (default: 1)
  version      Print current migration version
  force <V>    Force set migration version (bypass dirty state)
  drop         Drop all tables (dev only)
  reset        Drop all tables and migrate up again (dev only)

Environment (also read from .env):
  AUTHDB_DRIVER   sqlite3 (default), postgres or mysql
  DATABASE_URL    Store DSN (default: a.db)`)
}
