// main.go — walks the credential store through its whole life cycle the
// way a calling auth service would:
//
//  1. Configuration and structured logging
//  2. Opening the store and bringing the schema up to date
//  3. AddUser with a bcrypt hash computed by the caller
//  4. FindUserBy email
//  5. UpdateUser with a caller-minted session id
//  6. Not-found and invalid-field handling
//  7. Update of an unknown id (a no-op)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skryldev/authdb/config"
	"github.com/Skryldev/authdb/db"
	"github.com/Skryldev/authdb/models"
	"github.com/Skryldev/authdb/repo"

	// Blank-import the drivers so they self-register with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	slog.Info("all steps completed")
}

// run returns instead of exiting so the deferred Close always runs.
func run() error {
	// ── 0. Configuration and logger ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// ── 1. Store ──────────────────────────────────────────────────────────
	store, err := db.Open(cfg.DBConfig(cfg.LogHook(logger)))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	if cfg.ResetOnStart {
		if err := store.ResetForTesting(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	} else if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	slog.Info("store ready", "driver", cfg.Driver, "dsn", cfg.DSN)

	users := repo.NewUserRepoWithLogger(store, logger)

	// ── 2. AddUser ────────────────────────────────────────────────────────
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct horse battery staple"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	alice, err := users.AddUser(ctx, "alice@example.com", string(hashed))
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	slog.Info("added user", "id", alice.ID, "email", alice.Email)

	// ── 3. FindUserBy ─────────────────────────────────────────────────────
	found, err := users.FindUserBy(ctx, models.Attrs{models.FieldEmail: "alice@example.com"})
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.HashedPassword), []byte("correct horse battery staple")); err != nil {
		return fmt.Errorf("stored hash does not verify: %w", err)
	}
	slog.Info("found user", "id", found.ID)

	// ── 4. UpdateUser ─────────────────────────────────────────────────────
	sessionID := uuid.NewString()
	if err := users.UpdateUser(ctx, alice.ID, models.Attrs{models.FieldSessionID: sessionID}); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	bySession, err := users.FindUserBy(ctx, models.Attrs{models.FieldSessionID: sessionID})
	if err != nil {
		return fmt.Errorf("find by session: %w", err)
	}
	slog.Info("session stored", "id", bySession.ID)

	// Logging out clears the session again.
	if err := users.UpdateUser(ctx, alice.ID, models.Attrs{models.FieldSessionID: nil}); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	// ── 5. Error handling ─────────────────────────────────────────────────
	_, err = users.FindUserBy(ctx, models.Attrs{models.FieldEmail: "nobody@example.com"})
	switch {
	case db.IsNotFound(err):
		slog.Info("correctly handled not-found")
	case err != nil:
		slog.Error("unexpected error", "err", err)
	}

	err = users.UpdateUser(ctx, alice.ID, models.Attrs{
		models.FieldResetToken:   uuid.NewString(),
		models.Field("nickname"): "al",
	})
	if errors.Is(err, repo.ErrInvalidField) {
		slog.Info("correctly rejected unknown field", "err", err)
	}

	// ── 6. Unknown id ─────────────────────────────────────────────────────
	if err := users.UpdateUser(ctx, 999_999, models.Attrs{models.FieldResetToken: uuid.NewString()}); err != nil {
		slog.Error("update of unknown id failed", "err", err)
	}
	return nil
}
