// db/db_test.go — tests for the store handle.
// Uses a temp-file SQLite database; no external services required.
//
// Run:  go test ./db/... -v -race
package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Skryldev/authdb/db"
	_ "github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

func testConfig(t *testing.T) db.Config {
	t.Helper()
	return db.Config{
		DSN:        filepath.Join(t.TempDir(), "auth.db"),
		DriverName: "sqlite3",
		Hooks: []db.Hook{
			db.NewLogHook(db.LogHookConfig{LogArgs: true}),
		},
	}
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(testConfig(t))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func insertUser(t *testing.T, q db.Querier, email string) {
	t.Helper()
	_, err := q.Exec(context.Background(),
		`INSERT INTO users (email, hashed_password) VALUES (?, ?)`, email, "hash")
	if err != nil {
		t.Fatalf("insert %s: %v", email, err)
	}
}

func countUsers(t *testing.T, d *db.DB) int {
	t.Helper()
	var n int
	if err := d.QueryRow(context.Background(), `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Open / Ping
// ─────────────────────────────────────────────────────────────────────────────

func TestOpen(t *testing.T) {
	d := newTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if d.Dialect().Name() != "sqlite3" {
		t.Fatalf("unexpected dialect %q", d.Dialect().Name())
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := db.Open(db.Config{DSN: "", DriverName: "sqlite3"})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := db.Open(db.Config{DSN: "x", DriverName: "oracle"})
	if err == nil {
		t.Fatal("expected error for unregistered driver")
	}
}

func TestOpen_DoesNotTouchSchema(t *testing.T) {
	d, err := db.Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	var name string
	err = d.QueryRow(context.Background(),
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&name)
	if !db.IsNotFound(err) {
		t.Fatalf("expected no users table before Migrate, got %q, %v", name, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Migrate / ResetForTesting
// ─────────────────────────────────────────────────────────────────────────────

func TestMigrate_Idempotent(t *testing.T) {
	d := newTestDB(t)
	insertUser(t, d, "keep@test.com")

	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if n := countUsers(t, d); n != 1 {
		t.Fatalf("migrate must not lose data, got %d rows", n)
	}
}

func TestResetForTesting_EmptiesStore(t *testing.T) {
	d := newTestDB(t)
	insertUser(t, d, "a@test.com")
	insertUser(t, d, "b@test.com")

	if err := d.ResetForTesting(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := countUsers(t, d); n != 0 {
		t.Fatalf("expected empty store after reset, got %d rows", n)
	}

	// The schema is usable again straight away.
	insertUser(t, d, "c@test.com")
	if n := countUsers(t, d); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestResetForTesting_SurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	insertUser(t, first, "old@test.com")
	_ = first.Close()

	second, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if err := second.ResetForTesting(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := countUsers(t, second); n != 0 {
		t.Fatalf("records survived re-initialisation: %d", n)
	}
}

func TestResetForTesting_CanceledContext(t *testing.T) {
	d := newTestDB(t)
	insertUser(t, d, "stay@test.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.ResetForTesting(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if n := countUsers(t, d); n != 1 {
		t.Fatalf("canceled reset must not drop data, got %d rows", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Exec / QueryRow / Query
// ─────────────────────────────────────────────────────────────────────────────

func TestExec_Insert(t *testing.T) {
	d := newTestDB(t)

	res, err := d.Exec(context.Background(),
		`INSERT INTO users (email, hashed_password) VALUES (?, ?)`, "alice@test.com", "h")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}
}

func TestQueryRow_NotFound(t *testing.T) {
	d := newTestDB(t)

	var email string
	err := d.QueryRow(context.Background(), `SELECT email FROM users WHERE id = ?`, 99999).Scan(&email)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_MultipleRows(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	for _, email := range []string{"a@q.com", "b@q.com", "c@q.com"} {
		insertUser(t, d, email)
	}

	rows, err := d.Query(ctx, `SELECT email FROM users ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			t.Fatalf("scan: %v", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	if len(emails) != 3 || emails[0] != "a@q.com" {
		t.Fatalf("unexpected rows: %v", emails)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecTx
// ─────────────────────────────────────────────────────────────────────────────

func TestExecTx_Commit(t *testing.T) {
	d := newTestDB(t)

	err := d.ExecTx(context.Background(), func(tx *db.Tx) error {
		insertUser(t, tx, "dave@tx.com")
		return nil
	})
	if err != nil {
		t.Fatalf("tx commit: %v", err)
	}
	if n := countUsers(t, d); n != 1 {
		t.Fatalf("expected 1 committed row, got %d", n)
	}
}

func TestExecTx_RollbackOnError(t *testing.T) {
	d := newTestDB(t)
	sentinelErr := errors.New("intentional failure")

	err := d.ExecTx(context.Background(), func(tx *db.Tx) error {
		insertUser(t, tx, "eve@rollback.com")
		return sentinelErr
	})
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("expected sentinelErr, got %v", err)
	}
	if n := countUsers(t, d); n != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", n)
	}
}

func TestExecTx_RollbackOnPanic(t *testing.T) {
	d := newTestDB(t)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = d.ExecTx(context.Background(), func(tx *db.Tx) error {
			insertUser(t, tx, "panic@tx.com")
			panic("test panic")
		})
	}()

	if n := countUsers(t, d); n != 0 {
		t.Fatalf("expected 0 rows after panic, got %d", n)
	}
}

func TestTx_Dialect(t *testing.T) {
	d := newTestDB(t)
	_ = d.ExecTx(context.Background(), func(tx *db.Tx) error {
		if tx.Dialect().Name() != "sqlite3" {
			t.Fatalf("unexpected tx dialect %q", tx.Dialect().Name())
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping (SQLite)
// ─────────────────────────────────────────────────────────────────────────────

func TestErrorMapper_DuplicateKey(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	insert := func() error {
		_, err := d.Exec(ctx,
			`INSERT INTO users (id, email, hashed_password) VALUES (?, ?, ?)`, 1, "dup@test.com", "h")
		return err
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := insert()
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	var dbErr *db.DBError
	if !errors.As(err, &dbErr) || dbErr.Cause == nil {
		t.Fatalf("expected *DBError with cause, got %T", err)
	}
}

func TestErrorMapper_NotNull(t *testing.T) {
	d := newTestDB(t)

	_, err := d.Exec(context.Background(),
		`INSERT INTO users (email, hashed_password) VALUES (?, NULL)`, "nohash@test.com")
	if !db.IsNotNullViolation(err) {
		t.Fatalf("expected ErrNotNullViolation, got %v", err)
	}
}

func TestChainMapper_PassesUnknownErrorsThrough(t *testing.T) {
	plain := errors.New("something else")
	m := db.ChainMapper(db.SQLiteDriver{}.ErrorMapper(), db.DefaultErrorMapper())

	if got := m.Map(plain); got != plain {
		t.Fatalf("expected error unchanged, got %v", got)
	}
	if m.Map(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
}

func TestContextCancellation(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Exec(ctx, `SELECT 1`)
	if err != nil && !db.IsTimeout(err) {
		t.Fatalf("expected ErrTimeout for canceled context, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Hooks
// ─────────────────────────────────────────────────────────────────────────────

type countingHook struct {
	before int
	after  int
	errs   int
}

func (h *countingHook) BeforeQuery(_ context.Context, _ string, _ []any) { h.before++ }
func (h *countingHook) AfterQuery(_ context.Context, _ string, _ []any, _ time.Duration, err error) {
	h.after++
	if err != nil {
		h.errs++
	}
}

// deadlineHook records whether each statement ran under a deadline.
type deadlineHook struct {
	deadlines []bool
	errs      []error
}

func (h *deadlineHook) BeforeQuery(ctx context.Context, _ string, _ []any) {
	_, ok := ctx.Deadline()
	h.deadlines = append(h.deadlines, ok)
}

func (h *deadlineHook) AfterQuery(_ context.Context, _ string, _ []any, _ time.Duration, err error) {
	h.errs = append(h.errs, err)
}

type panickingHook struct{}

func (panickingHook) BeforeQuery(context.Context, string, []any) { panic("before") }
func (panickingHook) AfterQuery(context.Context, string, []any, time.Duration, error) {
	panic("after")
}

func TestHooks_CalledOnExec(t *testing.T) {
	hook := &countingHook{}
	cfg := testConfig(t)
	cfg.Hooks = []db.Hook{nil, panickingHook{}, hook}

	d, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	_, _ = d.Exec(ctx, `SELECT 1`)
	_, _ = d.Exec(ctx, `SELECT * FROM no_such_table`)

	if hook.before != 2 || hook.after != 2 {
		t.Fatalf("hook not called: before=%d after=%d", hook.before, hook.after)
	}
	if hook.errs != 1 {
		t.Fatalf("expected 1 failed statement, got %d", hook.errs)
	}
}

func TestQueryRow_HookSeesScanOutcome(t *testing.T) {
	hook := &deadlineHook{}
	cfg := testConfig(t)
	cfg.DefaultTimeout = time.Minute
	cfg.Hooks = []db.Hook{hook}

	d, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var id int64
	err = d.QueryRow(context.Background(), `SELECT id FROM users WHERE id = ?`, 1).Scan(&id)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if len(hook.errs) != 1 || !db.IsNotFound(hook.errs[0]) {
		t.Fatalf("hook did not see the mapped miss: %v", hook.errs)
	}
	if len(hook.deadlines) != 1 || !hook.deadlines[0] {
		t.Fatalf("QueryRow ran without the default timeout: %v", hook.deadlines)
	}
}

func TestQueryRow_HookSeesFailure(t *testing.T) {
	hook := &deadlineHook{}
	cfg := testConfig(t)
	cfg.Hooks = []db.Hook{hook}

	d, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	var n int
	if err := d.QueryRow(context.Background(), `SELECT COUNT(*) FROM users`).Scan(&n); err == nil {
		t.Fatal("expected error without a users table")
	}
	if len(hook.errs) != 1 || hook.errs[0] == nil {
		t.Fatalf("hook did not see the failure: %v", hook.errs)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Drivers
// ─────────────────────────────────────────────────────────────────────────────

func TestDriverDSN(t *testing.T) {
	tests := []struct {
		driver string
		opts   db.DriverOptions
		want   string
	}{
		{"sqlite3", db.DriverOptions{Database: "a.db"}, "a.db"},
		{"sqlite3", db.DriverOptions{
			Database: "a.db",
			Extra:    map[string]string{"_journal_mode": "WAL", "_busy_timeout": "5000"},
		}, "file:a.db?_busy_timeout=5000&_journal_mode=WAL"},
		{"postgres", db.DriverOptions{Host: "localhost", User: "app", Password: "pw", Database: "auth"},
			"host=localhost port=5432 user=app password=pw dbname=auth sslmode=disable"},
		{"mysql", db.DriverOptions{Host: "db", User: "app", Password: "pw", Database: "auth"},
			"app:pw@tcp(db:3306)/auth?parseTime=true"},
	}
	for _, tt := range tests {
		drv, err := db.LookupDriver(tt.driver)
		if err != nil {
			t.Fatalf("lookup %s: %v", tt.driver, err)
		}
		got, err := drv.DSN(tt.opts)
		if err != nil {
			t.Fatalf("%s DSN: %v", tt.driver, err)
		}
		if got != tt.want {
			t.Fatalf("%s DSN = %q, want %q", tt.driver, got, tt.want)
		}
	}
}

func TestDriverDSN_MissingDatabase(t *testing.T) {
	for _, name := range []string{"sqlite3", "postgres", "mysql"} {
		drv, _ := db.LookupDriver(name)
		if _, err := drv.DSN(db.DriverOptions{}); err == nil {
			t.Fatalf("%s: expected error for empty options", name)
		}
	}
}

func TestDriverPlaceholders(t *testing.T) {
	if got := (db.PostgresDriver{}).Placeholder(3); got != "$3" {
		t.Fatalf("postgres placeholder = %q", got)
	}
	if got := (db.SQLiteDriver{}).Placeholder(3); got != "?" {
		t.Fatalf("sqlite placeholder = %q", got)
	}
	if (db.MySQLDriver{}).Returning() {
		t.Fatal("mysql must fall back to LastInsertId")
	}
}

func TestOpenWithDriver(t *testing.T) {
	d, err := db.OpenWithDriver("sqlite3", db.DriverOptions{
		Database: filepath.Join(t.TempDir(), "drv.db"),
		Extra:    map[string]string{"_busy_timeout": "1000"},
	}, db.Config{})
	if err != nil {
		t.Fatalf("open with driver: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
