// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package memory is an in-process bus driver for single-node deployments
// and tests. A Broker can sever its connections or refuse service to
// exercise reconnect behaviour.
package memory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/bus"
)

const listenerBuffer = 1024

// Broker is a process-local pub/sub broker.
type Broker struct {
	mu        sync.Mutex
	listeners map[*listener]struct{}
	down      bool
	dials     int
}

// NewBroker creates an available broker.
func NewBroker() *Broker {
	return &Broker{listeners: make(map[*listener]struct{})}
}

// Driver returns a bus.Driver backed by b.
func (b *Broker) Driver() *Driver {
	return &Driver{broker: b}
}

// SetAvailable toggles the broker. While unavailable, dials and publishes
// fail and existing connections are dropped.
func (b *Broker) SetAvailable(ok bool) {
	b.mu.Lock()
	b.down = !ok
	b.mu.Unlock()
	if !ok {
		b.DropConnections()
	}
}

// DropConnections severs every open listener.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	dropped := make([]*listener, 0, len(b.listeners))
	for l := range b.listeners {
		dropped = append(dropped, l)
		delete(b.listeners, l)
	}
	b.mu.Unlock()

	for _, l := range dropped {
		l.shutdown()
	}
}

// Subscribers returns how many open listeners are listening on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for l := range b.listeners {
		if _, ok := l.topics[topic]; ok {
			n++
		}
	}
	return n
}

// Dials returns the number of successful dials so far.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Publish delivers payload to every listener on topic. A listener whose
// buffer is full misses the message.
func (b *Broker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return oops.Code("BROKER_DOWN").With("topic", topic).Wrap(bus.ErrConnectionLost)
	}

	msg := bus.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for l := range b.listeners {
		if _, ok := l.topics[topic]; !ok {
			continue
		}
		select {
		case l.msgs <- msg:
		default:
		}
	}
	return nil
}

// Driver implements bus.Driver over a Broker.
type Driver struct {
	broker *Broker
}

var _ bus.Driver = (*Driver)(nil)

// Dial opens a new listener on the broker.
func (d *Driver) Dial(_ context.Context) (bus.Listener, error) {
	b := d.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, oops.Code("BROKER_DOWN").Wrap(bus.ErrConnectionLost)
	}

	l := &listener{
		broker: b,
		topics: make(map[string]struct{}),
		msgs:   make(chan bus.Message, listenerBuffer),
		done:   make(chan struct{}),
	}
	b.listeners[l] = struct{}{}
	b.dials++
	return l, nil
}

// Publish publishes on the broker.
func (d *Driver) Publish(_ context.Context, topic string, payload []byte) error {
	return d.broker.Publish(topic, payload)
}

// Close is a no-op; the broker outlives its drivers.
func (d *Driver) Close() error {
	return nil
}

type listener struct {
	broker *Broker
	// topics is guarded by broker.mu.
	topics map[string]struct{}
	msgs   chan bus.Message
	done   chan struct{}
	once   sync.Once
}

func (l *listener) shutdown() {
	l.once.Do(func() { close(l.done) })
}

func (l *listener) Listen(_ context.Context, topic string) error {
	l.broker.mu.Lock()
	defer l.broker.mu.Unlock()

	select {
	case <-l.done:
		return bus.ErrConnectionLost
	default:
	}
	l.topics[topic] = struct{}{}
	return nil
}

func (l *listener) Unlisten(_ context.Context, topic string) error {
	l.broker.mu.Lock()
	defer l.broker.mu.Unlock()

	delete(l.topics, topic)
	return nil
}

func (l *listener) Receive(ctx context.Context) (bus.Message, error) {
	select {
	case msg := <-l.msgs:
		return msg, nil
	case <-l.done:
		return bus.Message{}, bus.ErrConnectionLost
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.broker.mu.Lock()
	delete(l.broker.listeners, l)
	l.broker.mu.Unlock()
	l.shutdown()
	return nil
}
