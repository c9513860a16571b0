// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package auth authenticates API and WebSocket callers.
//
// Callers present an HS256 bearer token. A Verifier checks the signature
// and expiry and yields a Principal, optionally caching verified tokens
// for a short TTL. An Issuer signs tokens for the CLI and tests.
//
// A Throttle counts rejected tokens per client and locks a client out for
// LockoutDuration once it reaches LockoutThreshold.
//
// The Principal travels in the request context; see WithPrincipal and
// FromContext.
package auth
