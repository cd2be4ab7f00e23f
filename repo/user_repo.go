package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Skryldev/authdb/db"
	"github.com/Skryldev/authdb/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrInvalidField is returned when a filter or change names a column the
	// users table does not have.
	ErrInvalidField = errors.New("repo/user: invalid field")

	// ErrImmutableField is returned when an update tries to change id.
	ErrImmutableField = errors.New("repo/user: field is immutable")

	// ErrInvalidValue is returned when a value has the wrong type for its
	// column, or is nil for a required column.
	ErrInvalidValue = errors.New("repo/user: invalid value")
)

// ─────────────────────────────────────────────────────────────────────────────
// UserRepository
// ─────────────────────────────────────────────────────────────────────────────

// UserRepository is the access object for stored users.
type UserRepository interface {
	// AddUser persists a new user and returns it with its assigned ID.
	// Emails are not checked for duplicates.
	AddUser(ctx context.Context, email, hashedPassword string) (*models.User, error)

	// FindUserBy returns the first user, by id, matching every entry of
	// filter. A nil value matches NULL. db.ErrNotFound is returned when no
	// user matches.
	FindUserBy(ctx context.Context, filter models.Attrs) (*models.User, error)

	// UpdateUser applies changes to the user with the given id in a single
	// commit. Invalid changes are rejected before anything is written.
	// Updating a missing id is a no-op.
	UpdateUser(ctx context.Context, id int64, changes models.Attrs) error
}

// userRepo is the production implementation backed by a db.Querier.
type userRepo struct {
	q      db.Querier
	logger *slog.Logger
}

// NewUserRepo returns a UserRepository backed by q.
// q can be a *db.DB or *db.Tx; both satisfy db.Querier.
func NewUserRepo(q db.Querier) UserRepository {
	return &userRepo{q: q, logger: slog.Default()}
}

// NewUserRepoWithLogger is NewUserRepo with an explicit logger.
func NewUserRepoWithLogger(q db.Querier, logger *slog.Logger) UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &userRepo{q: q, logger: logger}
}

const userColumns = "id, email, hashed_password, session_id, reset_token"

// ─────────────────────────────────────────────────────────────────────────────
// AddUser
// ─────────────────────────────────────────────────────────────────────────────

func (r *userRepo) AddUser(ctx context.Context, email, hashedPassword string) (*models.User, error) {
	d := r.q.Dialect()
	insert := fmt.Sprintf(
		"INSERT INTO users (email, hashed_password) VALUES (%s, %s)",
		d.Placeholder(1), d.Placeholder(2))

	if d.Returning() {
		u, err := scanUser(r.q.QueryRow(ctx, insert+" RETURNING "+userColumns, email, hashedPassword))
		if err != nil {
			return nil, fmt.Errorf("repo/user: add: %w", err)
		}
		return u, nil
	}

	res, err := r.q.Exec(ctx, insert, email, hashedPassword)
	if err != nil {
		return nil, fmt.Errorf("repo/user: add: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("repo/user: add: last insert id: %w", err)
	}
	return &models.User{ID: id, Email: email, HashedPassword: hashedPassword}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// FindUserBy
// ─────────────────────────────────────────────────────────────────────────────

func (r *userRepo) FindUserBy(ctx context.Context, filter models.Attrs) (*models.User, error) {
	where, args, err := whereClause(r.q.Dialect(), filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + userColumns + " FROM users" + where + " ORDER BY id LIMIT 1"

	u, err := scanUser(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("repo/user: find: %w", err)
	}
	return u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// UpdateUser
// ─────────────────────────────────────────────────────────────────────────────

func (r *userRepo) UpdateUser(ctx context.Context, id int64, changes models.Attrs) error {
	d := r.q.Dialect()
	set, args, err := setClause(d, changes)
	if err != nil {
		return err
	}
	if set == "" {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = %s", set, d.Placeholder(len(args)))

	err = r.inTx(ctx, func(q db.Querier) error {
		var found int64
		lookup := "SELECT id FROM users WHERE id = " + d.Placeholder(1)
		if err := q.QueryRow(ctx, lookup, id).Scan(&found); err != nil {
			if db.IsNotFound(err) {
				r.logger.DebugContext(ctx, "repo/user: update of unknown user ignored", "id", id)
				return nil
			}
			return err
		}
		_, err := q.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("repo/user: update: %w", err)
	}
	return nil
}

// txRunner is implemented by *db.DB. A *db.Tx is already a unit of work.
type txRunner interface {
	ExecTx(ctx context.Context, fn func(*db.Tx) error, opts ...db.TxOptions) error
}

func (r *userRepo) inTx(ctx context.Context, fn func(db.Querier) error) error {
	if runner, ok := r.q.(txRunner); ok {
		return runner.ExecTx(ctx, func(tx *db.Tx) error { return fn(tx) })
	}
	return fn(r.q)
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL construction — column names only ever come from models.Field constants
// ─────────────────────────────────────────────────────────────────────────────

func whereClause(d db.Driver, filter models.Attrs) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for _, f := range filter.Keys() {
		if !f.Valid() {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
		v, err := columnValue(f, filter[f])
		if err != nil {
			return "", nil, err
		}
		if isNull(v) {
			conds = append(conds, string(f)+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, string(f)+" = "+d.Placeholder(len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// setClause validates every change before returning, so a bad key late in
// the map can never leave earlier columns written.
func setClause(d db.Driver, changes models.Attrs) (string, []any, error) {
	sets := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	for _, f := range changes.Keys() {
		switch {
		case !f.Valid():
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidField, f)
		case f == models.FieldID:
			return "", nil, fmt.Errorf("%w: %q", ErrImmutableField, f)
		}
		v, err := columnValue(f, changes[f])
		if err != nil {
			return "", nil, err
		}
		if isNull(v) && !f.Nullable() {
			return "", nil, fmt.Errorf("%w: %q must not be null", ErrInvalidValue, f)
		}
		args = append(args, v)
		sets = append(sets, string(f)+" = "+d.Placeholder(len(args)))
	}
	return strings.Join(sets, ", "), args, nil
}

// columnValue converts a caller-supplied value into a driver argument.
func columnValue(f models.Field, v any) (any, error) {
	if f == models.FieldID {
		switch id := v.(type) {
		case int:
			return int64(id), nil
		case int32:
			return int64(id), nil
		case int64:
			return id, nil
		}
		return nil, fmt.Errorf("%w: %q wants an integer, got %T", ErrInvalidValue, f, v)
	}
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return s, nil
	case *string:
		return NullString(s), nil
	case sql.NullString:
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q wants a string, got %T", ErrInvalidValue, f, v)
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	ns, ok := v.(sql.NullString)
	return ok && !ns.Valid
}

// ─────────────────────────────────────────────────────────────────────────────
// scanUser — centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row *db.Row) (*models.User, error) {
	var (
		u                     models.User
		sessionID, resetToken sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &sessionID, &resetToken); err != nil {
		return nil, err
	}
	u.SessionID = StringPtr(sessionID)
	u.ResetToken = StringPtr(resetToken)
	return &u, nil
}

var _ UserRepository = (*userRepo)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Null helpers
// ─────────────────────────────────────────────────────────────────────────────

// NullString converts *string to sql.NullString for optional columns.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts a scanned sql.NullString back to *string.
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
