// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package mqtt implements the bus over an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/bus"
)

const (
	defaultTimeout  = 10 * time.Second
	disconnectQuiet = 250
	listenerBuffer  = 1024
)

var errTimeout = errors.New("mqtt operation timed out")

// Config holds MQTT connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// client is the subset of paho.Client the driver uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Driver publishes through a long-lived client and listens on per-dial clients.
type Driver struct {
	cfg       Config
	newClient func(*paho.ClientOptions) client

	mu  sync.Mutex
	pub client
}

var _ bus.Driver = (*Driver)(nil)

// New creates a driver. No connection is made until first use.
func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QoS > 2 {
		cfg.QoS = 0
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "taskpulse"
	}
	return &Driver{
		cfg: cfg,
		newClient: func(opts *paho.ClientOptions) client {
			return paho.NewClient(opts)
		},
	}
}

func (d *Driver) options(role string) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		SetClientID(fmt.Sprintf("%s-%s-%s", d.cfg.ClientID, role, ulid.Make().String())).
		AddBroker(d.cfg.Broker).
		SetConnectTimeout(d.cfg.Timeout).
		SetWriteTimeout(d.cfg.Timeout).
		SetCleanSession(true)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	return opts
}

// publisher returns the shared publishing client, connecting it on first use.
func (d *Driver) publisher(ctx context.Context) (client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pub != nil && d.pub.IsConnected() {
		return d.pub, nil
	}
	if d.pub == nil {
		opts := d.options("pub").SetAutoReconnect(true)
		d.pub = d.newClient(opts)
	}
	if err := wait(ctx, d.pub.Connect(), d.cfg.Timeout); err != nil {
		return nil, oops.Code("MQTT_CONNECT_FAILED").With("broker", d.cfg.Broker).Wrap(err)
	}
	return d.pub, nil
}

// Publish sends payload on topic.
func (d *Driver) Publish(ctx context.Context, topic string, payload []byte) error {
	c, err := d.publisher(ctx)
	if err != nil {
		return err
	}
	if err := wait(ctx, c.Publish(topic, d.cfg.QoS, false, payload), d.cfg.Timeout); err != nil {
		return oops.Code("MQTT_PUBLISH_FAILED").With("topic", topic).Wrap(err)
	}
	return nil
}

// Dial connects a listening client. Automatic reconnect is disabled because
// the bus.Link owns reconnection and topic recovery.
func (d *Driver) Dial(ctx context.Context) (bus.Listener, error) {
	l := &listener{
		qos:     d.cfg.QoS,
		timeout: d.cfg.Timeout,
		msgs:    make(chan bus.Message, listenerBuffer),
		done:    make(chan struct{}),
	}
	opts := d.options("sub").
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) { l.lost(err) })
	l.client = d.newClient(opts)

	if err := wait(ctx, l.client.Connect(), d.cfg.Timeout); err != nil {
		return nil, oops.Code("MQTT_CONNECT_FAILED").With("broker", d.cfg.Broker).Wrap(err)
	}
	return l, nil
}

// Close disconnects the publishing client.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pub != nil {
		d.pub.Disconnect(disconnectQuiet)
		d.pub = nil
	}
	return nil
}

type listener struct {
	client  client
	qos     byte
	timeout time.Duration
	msgs    chan bus.Message
	done    chan struct{}

	once    sync.Once
	lostErr error
}

// lost marks the connection as gone. lostErr is written before done is
// closed, so readers that see done closed also see the error.
func (l *listener) lost(err error) {
	l.once.Do(func() {
		if err == nil {
			err = bus.ErrConnectionLost
		}
		l.lostErr = err
		close(l.done)
	})
}

func (l *listener) handle(_ paho.Client, m paho.Message) {
	msg := bus.Message{Topic: m.Topic(), Payload: m.Payload()}
	select {
	case l.msgs <- msg:
	case <-l.done:
	}
}

func (l *listener) Listen(ctx context.Context, topic string) error {
	if err := wait(ctx, l.client.Subscribe(topic, l.qos, l.handle), l.timeout); err != nil {
		return oops.Code("MQTT_SUBSCRIBE_FAILED").With("topic", topic).Wrap(err)
	}
	return nil
}

func (l *listener) Unlisten(ctx context.Context, topic string) error {
	if err := wait(ctx, l.client.Unsubscribe(topic), l.timeout); err != nil {
		return oops.Code("MQTT_UNSUBSCRIBE_FAILED").With("topic", topic).Wrap(err)
	}
	return nil
}

func (l *listener) Receive(ctx context.Context) (bus.Message, error) {
	select {
	case msg := <-l.msgs:
		return msg, nil
	case <-l.done:
		return bus.Message{}, fmt.Errorf("%w: %w", bus.ErrConnectionLost, l.lostErr)
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.lost(bus.ErrConnectionLost)
	l.client.Disconnect(disconnectQuiet)
	return nil
}

// wait blocks until tok completes, the timeout passes or ctx ends.
func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error() //nolint:wrapcheck // wrapped by callers
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
