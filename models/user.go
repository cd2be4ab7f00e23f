package models

import (
	"fmt"
	"slices"
)

// User represents a row in the "users" table.
// Fields map 1-to-1 with columns. SessionID and ResetToken are nil when the
// column is NULL.
type User struct {
	ID             int64
	Email          string
	HashedPassword string
	SessionID      *string
	ResetToken     *string
}

// Field names a column of the users table. Only the constants below are
// valid; anything else is rejected before SQL is built.
type Field string

const (
	FieldID             Field = "id"
	FieldEmail          Field = "email"
	FieldHashedPassword Field = "hashed_password"
	FieldSessionID      Field = "session_id"
	FieldResetToken     Field = "reset_token"
)

var fields = []Field{FieldID, FieldEmail, FieldHashedPassword, FieldSessionID, FieldResetToken}

// Fields returns every column in table order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// Valid reports whether f is a column of the users table.
func (f Field) Valid() bool {
	return slices.Contains(fields, f)
}

// Nullable reports whether the column accepts NULL.
func (f Field) Nullable() bool {
	return f == FieldSessionID || f == FieldResetToken
}

func (f Field) String() string { return string(f) }

// ParseField converts caller input into a Field.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("models: unknown user field %q", s)
	}
	return f, nil
}

// Attrs maps columns to values. It is used both as an equality filter and
// as a set of changes. Values are int64 (or any Go int) for FieldID, string
// or *string for the text columns, and nil for NULL.
type Attrs map[Field]any

// Keys returns the keys of a in table order; unknown keys come last,
// sorted by name, so SQL built from Attrs is deterministic.
func (a Attrs) Keys() []Field {
	out := make([]Field, 0, len(a))
	for _, f := range fields {
		if _, ok := a[f]; ok {
			out = append(out, f)
		}
	}
	var unknown []Field
	for f := range a {
		if !f.Valid() {
			unknown = append(unknown, f)
		}
	}
	slices.Sort(unknown)
	return append(out, unknown...)
}
