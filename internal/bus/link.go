// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/taskpulse/taskpulse/internal/observability"
)

const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
	defaultPublishRetries   = 3
	defaultPublishBackoff   = 50 * time.Millisecond
	defaultBufferSize       = 256
	reconnectJitterPercent  = 10
)

// LinkOption configures a Link.
type LinkOption func(*linkConfig)

type linkConfig struct {
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	publishRetries   uint64
	publishBackoff   time.Duration
	bufferSize       int
	logger           *slog.Logger
	metrics          *observability.Metrics
}

// WithReconnectConfig sets the exponential backoff bounds for listener reconnection.
func WithReconnectConfig(initial, maxInterval time.Duration) LinkOption {
	return func(c *linkConfig) {
		c.reconnectInitial = initial
		c.reconnectMax = maxInterval
	}
}

// WithPublishRetries sets how many times a failed publish is retried.
func WithPublishRetries(n int, backoff time.Duration) LinkOption {
	return func(c *linkConfig) {
		if n < 0 {
			n = 0
		}
		c.publishRetries = uint64(n)
		c.publishBackoff = backoff
	}
}

// WithBufferSize sets the per-subscription channel capacity.
func WithBufferSize(n int) LinkOption {
	return func(c *linkConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LinkOption {
	return func(c *linkConfig) {
		c.logger = l
	}
}

// WithMetrics records reconnects and drops.
func WithMetrics(m *observability.Metrics) LinkOption {
	return func(c *linkConfig) {
		c.metrics = m
	}
}

// Link is a durable, reconnecting connection to a broker.
type Link struct {
	driver Driver
	cfg    linkConfig
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	// wake is signalled whenever the wanted topic set changes.
	wake      chan struct{}
	connected atomic.Bool
	started   atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscription receives raw payloads for one topic until closed.
type Subscription struct {
	link   *Link
	topic  string
	ch     chan []byte
	closed bool
}

// NewLink creates a Link over driver. Call Start to begin listening.
func NewLink(driver Driver, opts ...LinkOption) *Link {
	cfg := linkConfig{
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
		publishRetries:   defaultPublishRetries,
		publishBackoff:   defaultPublishBackoff,
		bufferSize:       defaultBufferSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Link{
		driver: driver,
		cfg:    cfg,
		logger: cfg.logger.With("component", "bus"),
		subs:   make(map[string]map[*Subscription]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Start spawns the listener goroutine. It returns immediately; the first
// connection is made in the background so a broker outage at boot does not
// prevent startup.
func (l *Link) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return oops.Code("LINK_ALREADY_STARTED").Errorf("link already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Connected reports whether the listener currently holds a live connection.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Subscribe registers interest in topic. The topic is LISTENed on the
// current connection and on every later one until the subscription is closed.
func (l *Link) Subscribe(topic string) (*Subscription, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, oops.Code("LINK_CLOSED").With("topic", topic).Wrap(ErrLinkClosed)
	}
	sub := &Subscription{
		link:  l,
		topic: topic,
		ch:    make(chan []byte, l.cfg.bufferSize),
	}
	set, ok := l.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		l.subs[topic] = set
	}
	set[sub] = struct{}{}
	l.mu.Unlock()

	l.notify()
	return sub, nil
}

// Publish sends payload on topic, retrying transient failures. When the
// retry budget is exhausted the error carries code BROKER_UNAVAILABLE and
// matches ErrBrokerUnavailable.
func (l *Link) Publish(ctx context.Context, topic string, payload []byte) error {
	b := retry.NewExponential(l.cfg.publishBackoff)
	b = retry.WithCappedDuration(l.cfg.reconnectMax, b)
	b = retry.WithMaxRetries(l.cfg.publishRetries, b)

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if err := l.driver.Publish(ctx, topic, payload); err != nil {
			if errors.Is(err, ErrPayloadTooLarge) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrPayloadTooLarge) {
		return oops.Code("PAYLOAD_TOO_LARGE").
			With("topic", topic).
			With("size", len(payload)).
			Wrap(err)
	}
	// The cause is flattened into the message so the driver's own error
	// code does not shadow BROKER_UNAVAILABLE.
	return oops.Code("BROKER_UNAVAILABLE").
		With("topic", topic).
		With("attempts", attempts).
		Wrapf(ErrBrokerUnavailable, "publish failed: %v", err)
}

// Close stops the listener and closes every subscription channel.
func (l *Link) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()

	l.mu.Lock()
	l.closed = true
	for topic, set := range l.subs {
		for sub := range set {
			sub.closed = true
			close(sub.ch)
		}
		delete(l.subs, topic)
	}
	l.mu.Unlock()

	if err := l.driver.Close(); err != nil {
		return oops.With("operation", "close bus driver").Wrap(err)
	}
	return nil
}

// C returns the channel of payloads. It is closed by Close or Link.Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	l := s.link
	l.mu.Lock()
	if s.closed {
		l.mu.Unlock()
		return
	}
	s.closed = true
	if set, ok := l.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(l.subs, s.topic)
		}
	}
	close(s.ch)
	l.mu.Unlock()

	l.notify()
}

func (l *Link) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run keeps a listener connected until ctx is cancelled.
func (l *Link) run(ctx context.Context) {
	defer l.wg.Done()
	defer l.connected.Store(false)

	for {
		listener, err := l.dial(ctx)
		if err != nil {
			return
		}

		l.connected.Store(true)
		l.logger.Info("broker listener connected")
		err = l.serve(ctx, listener)
		l.connected.Store(false)

		if closeErr := listener.Close(); closeErr != nil {
			l.logger.Debug("error closing broker listener", "error", closeErr)
		}
		if ctx.Err() != nil {
			return
		}

		l.logger.Warn("broker listener lost, reconnecting", "error", err)
		l.cfg.metrics.BusReconnected()
	}
}

// dial connects with capped exponential backoff. It only fails when ctx ends.
func (l *Link) dial(ctx context.Context) (Listener, error) {
	b := retry.NewExponential(l.cfg.reconnectInitial)
	b = retry.WithCappedDuration(l.cfg.reconnectMax, b)
	b = retry.WithJitterPercent(reconnectJitterPercent, b)

	var listener Listener
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ln, err := l.driver.Dial(ctx)
		if err != nil {
			l.logger.Warn("broker dial failed", "error", err)
			return retry.RetryableError(err)
		}
		listener = ln
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // only ctx errors reach here
	}
	return listener, nil
}

// serve applies interest changes and routes messages until the listener
// fails or ctx is cancelled. The listening set belongs to this connection,
// so a fresh connection LISTENs each wanted topic exactly once.
func (l *Link) serve(ctx context.Context, listener Listener) error {
	listening := make(map[string]struct{})

	for {
		if err := l.sync(ctx, listener, listening); err != nil {
			return err
		}

		msg, woke, err := l.receive(ctx, listener)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck // shutdown
			}
			if woke {
				continue
			}
			return err
		}
		l.route(msg)
	}
}

// receive waits for one message, giving up early when interest changes.
func (l *Link) receive(ctx context.Context, listener Listener) (Message, bool, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	var woke atomic.Bool
	go func() {
		select {
		case <-l.wake:
			woke.Store(true)
			cancel()
		case <-done:
		}
	}()

	msg, err := listener.Receive(waitCtx)
	close(done)
	return msg, woke.Load(), err
}

func (l *Link) sync(ctx context.Context, listener Listener, listening map[string]struct{}) error {
	want := l.wanted()

	for topic := range want {
		if _, ok := listening[topic]; ok {
			continue
		}
		if err := listener.Listen(ctx, topic); err != nil {
			return oops.Code("LISTEN_FAILED").With("topic", topic).Wrap(err)
		}
		listening[topic] = struct{}{}
		l.logger.Debug("listening", "topic", topic)
	}

	for topic := range listening {
		if _, ok := want[topic]; ok {
			continue
		}
		if err := listener.Unlisten(ctx, topic); err != nil {
			return oops.Code("UNLISTEN_FAILED").With("topic", topic).Wrap(err)
		}
		delete(listening, topic)
		l.logger.Debug("stopped listening", "topic", topic)
	}
	return nil
}

func (l *Link) wanted() map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	want := make(map[string]struct{}, len(l.subs))
	for topic := range l.subs {
		want[topic] = struct{}{}
	}
	return want
}

// route hands msg to every subscription of its topic without blocking.
func (l *Link) route(msg Message) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.subs[msg.Topic] {
		select {
		case sub.ch <- msg.Payload:
		default:
			l.cfg.metrics.BusDropped()
			l.logger.Warn("bus message dropped: subscription buffer full", "topic", msg.Topic)
		}
	}
}
