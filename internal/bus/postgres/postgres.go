// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package postgres implements the bus over PostgreSQL LISTEN/NOTIFY.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/bus"
)

// MaxPayload is the largest NOTIFY payload PostgreSQL accepts with the
// default configuration.
const MaxPayload = 7999

const closeTimeout = 5 * time.Second

// execer is the subset of pgxpool.Pool used to publish.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// conn is the subset of *pgx.Conn used by a listener.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Driver publishes through a pool and listens on dedicated connections.
type Driver struct {
	pool execer
	dial func(ctx context.Context) (conn, error)
}

var _ bus.Driver = (*Driver)(nil)

// New creates a driver. Publishes go through pool; each listener is a new
// connection built from connConfig, outside the pool so it can hold
// LISTEN state.
func New(pool execer, connConfig *pgx.ConnConfig) *Driver {
	return &Driver{
		pool: pool,
		dial: func(ctx context.Context) (conn, error) {
			return pgx.ConnectConfig(ctx, connConfig.Copy())
		},
	}
}

// Dial opens a listening connection.
func (d *Driver) Dial(ctx context.Context) (bus.Listener, error) {
	c, err := d.dial(ctx)
	if err != nil {
		return nil, oops.Code("LISTENER_CONNECT_FAILED").Wrap(err)
	}
	return &listener{conn: c}, nil
}

// Publish sends a NOTIFY through the pool.
func (d *Driver) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > MaxPayload {
		return oops.With("topic", topic).With("size", len(payload)).Wrap(bus.ErrPayloadTooLarge)
	}
	if _, err := d.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload)); err != nil {
		return oops.Code("NOTIFY_FAILED").With("topic", topic).Wrap(err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (d *Driver) Close() error {
	return nil
}

type listener struct {
	conn conn
}

func (l *listener) Listen(ctx context.Context, topic string) error {
	if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		return oops.With("topic", topic).Wrap(err)
	}
	return nil
}

func (l *listener) Unlisten(ctx context.Context, topic string) error {
	if _, err := l.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		return oops.With("topic", topic).Wrap(err)
	}
	return nil
}

// Receive waits for a notification. A cancelled ctx interrupts the wait
// through a read deadline, which leaves the connection usable.
func (l *listener) Receive(ctx context.Context) (bus.Message, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return bus.Message{}, ctx.Err()
		}
		return bus.Message{}, oops.Wrap(fmt.Errorf("%w: %w", bus.ErrConnectionLost, err))
	}
	return bus.Message{Topic: n.Channel, Payload: []byte(n.Payload)}, nil
}

func (l *listener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := l.conn.Close(ctx); err != nil {
		return oops.With("operation", "close listener connection").Wrap(err)
	}
	return nil
}
