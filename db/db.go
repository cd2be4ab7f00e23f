// Package db owns the connection to the credential store. It is a thin,
// SQL-first wrapper around *sql.DB: every statement is explicit, every
// error is mapped to a sentinel, and the schema is only ever changed through
// Migrate or ResetForTesting.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultPath is the file-backed SQLite store used when no DSN is configured.
const DefaultPath = "a.db"

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening the store.
type Config struct {
	// DSN is the driver-specific data-source name. For sqlite3 this is a
	// file path such as DefaultPath.
	DSN string

	// DriverName is "sqlite3", "postgres" or "mysql". It selects both the
	// database/sql driver and the SQL dialect.
	DriverName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Default statement timeout applied when the context has no deadline.
	// Zero means no default timeout.
	DefaultTimeout time.Duration

	// Hooks executed around every statement. Nil entries are skipped.
	Hooks []Hook
}

// ─────────────────────────────────────────────────────────────────────────────
// DB — the store handle
// ─────────────────────────────────────────────────────────────────────────────

// DB is the single shared handle to the store. It is constructed explicitly
// with Open or Wrap and torn down explicitly with Close; nothing is opened
// lazily behind the caller's back.
type DB struct {
	sqldb  *sql.DB
	cfg    Config
	driver Driver
	hooks  hookChain
	errMap ErrorMapper
}

// Open opens the store described by cfg and verifies connectivity with Ping.
// It never touches the schema; call Migrate or ResetForTesting for that.
func Open(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("authdb/db: DSN must not be empty")
	}
	if cfg.DriverName == "" {
		return nil, fmt.Errorf("authdb/db: DriverName must not be empty")
	}
	drv, err := LookupDriver(cfg.DriverName)
	if err != nil {
		return nil, err
	}
	drv.Register()

	sqldb, err := sql.Open(drv.Name(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("authdb/db: open: %w", err)
	}

	d, err := Wrap(sqldb, cfg)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("authdb/db: ping: %w", err)
	}

	return d, nil
}

// Wrap adopts an already opened *sql.DB. cfg.DriverName still selects the
// dialect and error mapper; cfg.DSN is only needed for Migrate and
// ResetForTesting.
func Wrap(sqldb *sql.DB, cfg Config) (*DB, error) {
	drv, err := LookupDriver(cfg.DriverName)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return &DB{
		sqldb:  sqldb,
		cfg:    cfg,
		driver: drv,
		hooks:  newHookChain(cfg.Hooks),
		errMap: ChainMapper(drv.ErrorMapper(), DefaultErrorMapper()),
	}, nil
}

// Raw returns the underlying *sql.DB.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// Dialect returns the driver whose placeholder and RETURNING rules apply to
// statements sent through this handle.
func (d *DB) Dialect() Driver { return d.driver }

// SetErrorMapper replaces the error mapper installed by Open.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections. Safe to call multiple times.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the store is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.applyDefaultTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// Stats returns pool statistics.
func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// ─────────────────────────────────────────────────────────────────────────────
// Query execution helpers
// ─────────────────────────────────────────────────────────────────────────────

// Exec executes a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := d.applyDefaultTimeout(ctx)
	defer cancel()
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	res, err := d.sqldb.ExecContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query that returns rows. The caller MUST close the rows.
// The default timeout is not applied here because it would cancel the
// context while the caller is still iterating.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	rows, err := d.sqldb.QueryContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
// Scan on the returned Row yields ErrNotFound when nothing matched. The
// default timeout runs until Scan, so callers must always call it.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *Row {
	ctx, cancel := d.applyDefaultTimeout(ctx)
	start := time.Now()
	d.hooks.Before(ctx, query, args)
	raw := d.sqldb.QueryRowContext(ctx, query, args...)
	return &Row{
		raw:    raw,
		errMap: d.errMap,
		hooks:  d.hooks,
		ctx:    ctx,
		query:  query,
		args:   args,
		start:  start,
		cancel: cancel,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (d *DB) applyDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.DefaultTimeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.DefaultTimeout)
}

func (d *DB) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return d.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row — wraps *sql.Row to translate errors uniformly
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the unified error mapper.
// Hooks see the statement once Scan knows its outcome.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
	hooks  hookChain
	ctx    context.Context
	query  string
	args   []any
	start  time.Time
	cancel context.CancelFunc
}

// Scan copies columns from the matched row into dest values.
func (r *Row) Scan(dest ...any) error {
	if r.cancel != nil {
		defer r.cancel()
	}
	err := r.raw.Scan(dest...)
	if err != nil {
		err = r.errMap.Map(err)
	}
	r.hooks.After(r.ctx, r.query, r.args, time.Since(r.start), err)
	return err
}
