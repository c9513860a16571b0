// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a row already exists.
	ErrConflict = errors.New("already exists")
)

// constraintViolation reports the violated constraint when err is a
// PostgreSQL error with the given SQLSTATE.
func constraintViolation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isUniqueViolation(err error) (string, bool) {
	return constraintViolation(err, pgerrcode.UniqueViolation)
}

func isForeignKeyViolation(err error) (string, bool) {
	return constraintViolation(err, pgerrcode.ForeignKeyViolation)
}
