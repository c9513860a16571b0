// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package bus connects TaskPulse to an external publish/subscribe broker.
//
// A Link owns one listening connection through a Driver and multiplexes it
// across any number of in-process subscriptions. The Link, not its callers,
// is responsible for reconnecting with backoff and for re-establishing every
// topic after a reconnect. Delivery is at-most-once: messages published while
// the listener is down are not replayed.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrBrokerUnavailable is returned by Publish when the broker could not be
	// reached within the retry budget.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrPayloadTooLarge is returned by drivers for payloads beyond the broker
	// limit. It is never retried.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrConnectionLost is returned by Listener.Receive when the connection dropped.
	ErrConnectionLost = errors.New("broker connection lost")

	// ErrLinkClosed is returned by Subscribe after Close.
	ErrLinkClosed = errors.New("link closed")
)

// Message is a payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Driver adapts a concrete broker.
type Driver interface {
	// Dial opens a new listening connection.
	Dial(ctx context.Context) (Listener, error)
	// Publish sends payload on topic. Implementations do not retry.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Close releases publisher resources.
	Close() error
}

// Listener is a single listening connection. It is used from one goroutine.
type Listener interface {
	Listen(ctx context.Context, topic string) error
	Unlisten(ctx context.Context, topic string) error
	// Receive blocks for the next message. It returns ctx.Err() when ctx is
	// cancelled and the listener stays usable; any other error means the
	// connection is gone.
	Receive(ctx context.Context) (Message, error)
	Close() error
}
