// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package auth

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Rate limiting configuration.
const (
	// LockoutDuration is how long a client is locked out after too many
	// rejected tokens. Failures older than this are forgotten.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of rejected tokens that triggers a lockout.
	LockoutThreshold = 7
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Failures         int
	IsLockedOut      bool
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the rate limit state based on failure count.
// lockedUntil is the current lockout timestamp (nil if not locked).
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) RateLimitResult {
	result := RateLimitResult{Failures: failures}
	if lockedUntil != nil && lockedUntil.After(now) {
		result.IsLockedOut = true
		result.LockoutRemaining = lockedUntil.Sub(now)
	}
	return result
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := now.Add(LockoutDuration)
	return &lockout
}

type attempts struct {
	failures    int
	lockedUntil *time.Time
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithThrottleClock overrides the time source.
func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(t *Throttle) {
		t.now = now
	}
}

// Throttle counts rejected tokens per client key and locks a client out
// once it reaches LockoutThreshold. Entries expire LockoutDuration after
// the last failure.
type Throttle struct {
	mu      sync.Mutex
	now     func() time.Time
	entries *ttlcache.Cache[string, attempts]
}

// NewThrottle creates a throttle. Call Stop to release its janitor.
func NewThrottle(opts ...ThrottleOption) *Throttle {
	t := &Throttle{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.entries = ttlcache.New[string, attempts](
		ttlcache.WithTTL[string, attempts](LockoutDuration),
		ttlcache.WithDisableTouchOnHit[string, attempts](),
	)
	go t.entries.Start()
	return t
}

// Check reports whether key is currently locked out.
func (t *Throttle) Check(key string) RateLimitResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.get(key)
	return CheckFailures(a.failures, a.lockedUntil, t.now())
}

// Failure records a rejected token for key and returns the new state.
func (t *Throttle) Failure(key string) RateLimitResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	a := t.get(key)
	a.failures++
	if a.lockedUntil == nil {
		a.lockedUntil = ComputeLockoutTime(a.failures, now)
	}
	t.entries.Set(key, a, ttlcache.DefaultTTL)
	return CheckFailures(a.failures, a.lockedUntil, now)
}

// Success forgets key's failures.
func (t *Throttle) Success(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(key)
}

// Stop halts the expiry janitor.
func (t *Throttle) Stop() {
	t.entries.Stop()
}

func (t *Throttle) get(key string) attempts {
	item := t.entries.Get(key)
	if item == nil {
		return attempts{}
	}
	a := item.Value()
	if a.lockedUntil != nil && !a.lockedUntil.After(t.now()) {
		return attempts{}
	}
	return a
}
