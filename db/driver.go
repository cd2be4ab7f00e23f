// Package db — driver.go
// Pluggable driver layer. Each adapter knows how to build its DSN, how the
// database spells bind parameters, and whether INSERT ... RETURNING works.
package db

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Driver interface
// ─────────────────────────────────────────────────────────────────────────────

// Driver encapsulates database-specific behaviour.
type Driver interface {
	// Name returns the name passed to sql.Register, e.g. "sqlite3".
	Name() string

	// DSN converts structured options into a driver DSN string.
	DSN(opts DriverOptions) (string, error)

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string

	// Returning reports whether INSERT ... RETURNING is supported. Drivers
	// without it fall back to sql.Result.LastInsertId.
	Returning() bool

	// ErrorMapper returns a mapper tuned to this driver's error types.
	ErrorMapper() ErrorMapper

	// Register ensures the driver is registered with database/sql.
	// Implementations must be idempotent.
	Register()
}

// DriverOptions carries common connection parameters in a driver-agnostic
// form. DSN() converts them to the driver's native format.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Extra holds driver-specific key/value parameters.
	Extra map[string]string
}

// ─────────────────────────────────────────────────────────────────────────────
// Driver registry
// ─────────────────────────────────────────────────────────────────────────────

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver adds a Driver to the registry. Panics on a duplicate name.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[d.Name()]; ok {
		panic(fmt.Sprintf("authdb/db: driver %q already registered", d.Name()))
	}
	drivers[d.Name()] = d
}

// ReplaceDriver upserts a driver in the registry.
func ReplaceDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// LookupDriver returns the registered Driver by name or an error.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("authdb/db: driver %q not registered", name)
	}
	return d, nil
}

// OpenWithDriver opens a DB using a registered Driver and structured options.
//
//	store, err := db.OpenWithDriver("sqlite3", db.DriverOptions{
//	    Database: db.DefaultPath,
//	    Extra:    map[string]string{"_foreign_keys": "on"},
//	}, db.Config{})
func OpenWithDriver(driverName string, driverOpts DriverOptions, cfg Config) (*DB, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}

	dsn, err := drv.DSN(driverOpts)
	if err != nil {
		return nil, fmt.Errorf("authdb/db: DSN construction failed: %w", err)
	}

	cfg.DriverName = drv.Name()
	cfg.DSN = dsn
	return Open(cfg)
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite driver adapter (mattn/go-sqlite3)
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteDriver is the default, file-backed store.
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", fmt.Errorf("sqlite3 driver: Database (file path) is required")
	}
	if len(o.Extra) == 0 {
		return o.Database, nil
	}
	return "file:" + o.Database + "?" + joinExtra(o.Extra, "=", "&"), nil
}

func (SQLiteDriver) Placeholder(int) string   { return "?" }
func (SQLiteDriver) Returning() bool          { return true }
func (SQLiteDriver) ErrorMapper() ErrorMapper { return mapperOf(mapSQLiteError) }
func (SQLiteDriver) Register()                { /* mattn/go-sqlite3 self-registers */ }

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (lib/pq)
// ─────────────────────────────────────────────────────────────────────────────

// PostgresDriver is the lib/pq adapter.
type PostgresDriver struct{}

func (PostgresDriver) Name() string { return "postgres" }

func (PostgresDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("postgres driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, port, o.User, o.Password, o.Database, sslMode,
	)
	if len(o.Extra) > 0 {
		dsn += " " + joinExtra(o.Extra, "=", " ")
	}
	return dsn, nil
}

func (PostgresDriver) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (PostgresDriver) Returning() bool          { return true }
func (PostgresDriver) ErrorMapper() ErrorMapper { return mapperOf(mapPQError) }
func (PostgresDriver) Register()                { /* lib/pq self-registers */ }

// ─────────────────────────────────────────────────────────────────────────────
// MySQL driver adapter (go-sql-driver/mysql)
// ─────────────────────────────────────────────────────────────────────────────

// MySQLDriver is the go-sql-driver/mysql adapter.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("mysql driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		o.User, o.Password, o.Host, port, o.Database)
	if len(o.Extra) > 0 {
		dsn += "&" + joinExtra(o.Extra, "=", "&")
	}
	return dsn, nil
}

func (MySQLDriver) Placeholder(int) string   { return "?" }
func (MySQLDriver) Returning() bool          { return false }
func (MySQLDriver) ErrorMapper() ErrorMapper { return mapperOf(mapMySQLError) }
func (MySQLDriver) Register()                { /* go-sql-driver/mysql self-registers */ }

// ─────────────────────────────────────────────────────────────────────────────
// Built-in registration
// ─────────────────────────────────────────────────────────────────────────────

func init() {
	RegisterDriver(SQLiteDriver{})
	RegisterDriver(PostgresDriver{})
	RegisterDriver(MySQLDriver{})
}

// joinExtra renders Extra in key order so DSNs are stable.
func joinExtra(extra map[string]string, kv, sep string) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+kv+extra[k])
	}
	return strings.Join(parts, sep)
}

// ─────────────────────────────────────────────────────────────────────────────
// DSNFromEnv
// ─────────────────────────────────────────────────────────────────────────────

// DSNFromEnv returns DATABASE_URL, or an error when it is unset.
func DSNFromEnv() (string, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return "", fmt.Errorf("authdb/db: DATABASE_URL environment variable not set")
	}
	return dsn, nil
}
