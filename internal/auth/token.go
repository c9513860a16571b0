// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest HMAC secret accepted.
const MinSecretLength = 32

// Token verification errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the JWT payload issued to users.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLeeway allows clock skew when validating time claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// WithCacheTTL caches verified tokens for up to d. Zero disables caching.
func WithCacheTTL(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.cacheTTL = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	key      []byte
	leeway   time.Duration
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	cache    *ttlcache.Cache[string, Principal]
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("AUTH_SECRET_INVALID").
			Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}

	v := &Verifier{
		key:    []byte(secret),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.cacheTTL > 0 {
		v.cache = ttlcache.New[string, Principal](
			ttlcache.WithTTL[string, Principal](v.cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, Principal](),
		)
		go v.cache.Start()
	}
	return v, nil
}

// Verify validates token and returns its principal.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, oops.Code("UNAUTHORIZED").Wrapf(ErrUnauthorized, "missing token")
	}

	if v.cache != nil {
		if item := v.cache.Get(token); item != nil {
			return item.Value(), nil
		}
	}

	now := v.now()
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		v.logger.DebugContext(ctx, "token rejected", "error", err)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return Principal{}, oops.Code("UNAUTHORIZED").Wrapf(ErrUnauthorized, "invalid token: %v", err)
	}

	uid := claims.UserID
	if uid == 0 && claims.Subject != "" {
		uid, _ = strconv.ParseInt(claims.Subject, 10, 64)
	}
	if uid <= 0 {
		return Principal{}, oops.Code("UNAUTHORIZED").Wrapf(ErrUnauthorized, "token has no user id")
	}

	p := Principal{UserID: uid, Username: claims.Username, Role: claims.Role}
	if p.Role == "" {
		p.Role = RoleMember
	}

	if v.cache != nil {
		ttl := v.cacheTTL
		if remaining := claims.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
		if ttl > 0 {
			v.cache.Set(token, p, ttl)
		}
	}
	return p, nil
}

// Close stops the cache janitor.
func (v *Verifier) Close() {
	if v.cache != nil {
		v.cache.Stop()
	}
}

// Issuer signs HS256 tokens. It backs the token command and tests.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an issuer whose tokens expire after ttl.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("AUTH_SECRET_INVALID").
			Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, oops.Code("AUTH_TTL_INVALID").Errorf("token ttl must be positive")
	}
	return &Issuer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for p.
func (i *Issuer) Issue(p Principal) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:   p.UserID,
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user_id", p.UserID).Wrap(err)
	}
	return signed, nil
}
