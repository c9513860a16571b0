// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import "errors"

var (
	// ErrQueueFull means a session's send queue had no room for a payload.
	ErrQueueFull = errors.New("session send queue full")

	// ErrSessionClosed means the session no longer accepts payloads.
	ErrSessionClosed = errors.New("session closed")

	// ErrProtocol marks a client frame the session cannot accept.
	ErrProtocol = errors.New("protocol error")

	// ErrTransportClosed is returned by a Transport after an orderly close.
	ErrTransportClosed = errors.New("transport closed")

	// ErrDispatcherClosed is returned by Join after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
