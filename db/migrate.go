package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsFS holds one directory of versioned migrations per driver name.
//
//go:embed migrations
var migrationsFS embed.FS

// NewMigrator returns a golang-migrate instance over the embedded migrations
// for driverName. It opens its own connection to dsn; Close on the returned
// Migrate releases it.
func NewMigrator(driverName, dsn string) (*migrate.Migrate, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	drv.Register()

	src, err := iofs.New(migrationsFS, "migrations/"+drv.Name())
	if err != nil {
		return nil, fmt.Errorf("authdb/db: migration source: %w", err)
	}

	sqldb, err := sql.Open(drv.Name(), dsn)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("authdb/db: migration open: %w", err)
	}

	dbDrv, err := migrationDriver(drv.Name(), sqldb)
	if err != nil {
		_ = sqldb.Close()
		_ = src.Close()
		return nil, fmt.Errorf("authdb/db: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, drv.Name(), dbDrv)
	if err != nil {
		_ = dbDrv.Close()
		_ = src.Close()
		return nil, fmt.Errorf("authdb/db: migration init: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

func migrationDriver(name string, sqldb *sql.DB) (database.Driver, error) {
	switch name {
	case "sqlite3":
		return migratesqlite.WithInstance(sqldb, &migratesqlite.Config{})
	case "postgres":
		return migratepostgres.WithInstance(sqldb, &migratepostgres.Config{})
	case "mysql":
		return migratemysql.WithInstance(sqldb, &migratemysql.Config{})
	}
	return nil, fmt.Errorf("no migrations for driver %q", name)
}

// Migrate applies every pending migration. An up-to-date schema is success.
func (d *DB) Migrate(ctx context.Context) error {
	err := d.withMigrator(ctx, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("authdb/db: migrate: %w", err)
	}
	return nil
}

// ResetForTesting drops every table in the store, including the migration
// bookkeeping, then migrates again. All records are lost. It exists for
// tests and local development and is never called implicitly.
//
// A sqlite3 ":memory:" DSN cannot be reset: the migrator opens its own
// connection and would see a different database.
func (d *DB) ResetForTesting(ctx context.Context) error {
	if err := d.withMigrator(ctx, (*migrate.Migrate).Drop); err != nil {
		return fmt.Errorf("authdb/db: reset: drop: %w", err)
	}
	// Drop removed the version table; a fresh migrator recreates it.
	if err := d.Migrate(ctx); err != nil {
		return fmt.Errorf("authdb/db: reset: %w", err)
	}
	slog.WarnContext(ctx, "authdb/db: store reset", "driver", d.driver.Name())
	return nil
}

func (d *DB) withMigrator(ctx context.Context, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := NewMigrator(d.driver.Name(), d.cfg.DSN)
	if err != nil {
		return err
	}
	defer m.Close()

	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	return fn(m)
}

// migrateLogger routes golang-migrate output through slog.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf("authdb/db: migrate: "+format, v...))
}

func (migrateLogger) Verbose() bool { return false }
