// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package auth

import (
	"context"
	"strconv"
)

// User roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Principal is the authenticated caller of a request or session.
type Principal struct {
	UserID   int64
	Username string
	Role     string
}

// ID returns the user ID in decimal form.
func (p Principal) ID() string {
	return strconv.FormatInt(p.UserID, 10)
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
