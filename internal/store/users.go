// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// CreateUser inserts a user. A taken username yields USERNAME_TAKEN.
func (s *Store) CreateUser(ctx context.Context, username, role string) (User, error) {
	u := User{Username: username, Role: role}
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO users (username, role) VALUES ($1, $2) RETURNING id, created_at`,
		username, role).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return User{}, oops.Code("USERNAME_TAKEN").With("username", username).
				Wrapf(ErrConflict, "username %q is taken", username)
		}
		return User{}, oops.Code("USER_CREATE_FAILED").With("username", username).Wrap(err)
	}
	return u, nil
}

// GetUser returns the user with id.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	u := User{ID: id}
	err := s.q(ctx).QueryRow(ctx,
		`SELECT username, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.Username, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return User{}, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}
	return u, nil
}
