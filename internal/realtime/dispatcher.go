// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/observability"
)

// Source opens per-topic payload streams. *bus.Link implements it.
type Source interface {
	Subscribe(topic string) (*bus.Subscription, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDispatcherMetrics records session and delivery counts.
func WithDispatcherMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher keeps one bus subscription and one pump goroutine per topic
// that has at least one registered subscriber. Join and Leave are
// serialized so interest in a topic is opened and closed exactly once.
type Dispatcher struct {
	source   Source
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	pumps  map[Topic]*pump
	closed bool
}

type pump struct {
	sub  *bus.Subscription
	done chan struct{}
}

// NewDispatcher creates a dispatcher fanning out payloads from source to
// the subscribers in registry.
func NewDispatcher(source Source, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		source:   source,
		registry: registry,
		pumps:    make(map[Topic]*pump),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Registry returns the registry the dispatcher fans out over.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Join registers sub on topic and opens bus interest in topic if this is
// its first subscriber.
func (d *Dispatcher) Join(topic Topic, sub Subscriber) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return oops.Code("DISPATCHER_CLOSED").With("topic", string(topic)).Wrap(ErrDispatcherClosed)
	}

	_, alreadyOn := d.registry.TopicOf(sub.ID())
	previous, moved := d.registry.Register(topic, sub)
	if moved {
		d.stopIfIdle(previous)
	}

	if _, ok := d.pumps[topic]; !ok {
		bsub, err := d.source.Subscribe(string(topic))
		if err != nil {
			d.registry.Unregister(sub.ID())
			return oops.Code("SUBSCRIBE_FAILED").With("topic", string(topic)).Wrap(err)
		}
		p := &pump{sub: bsub, done: make(chan struct{})}
		d.pumps[topic] = p
		go d.run(topic, p)
		d.logger.Debug("topic opened", "topic", string(topic))
	}

	if !alreadyOn {
		d.metrics.SessionOpened()
	}
	d.metrics.SetTopics(len(d.pumps))
	return nil
}

// Leave unregisters id from topic and closes bus interest in topic once
// nobody is left. It is safe to call after the subscriber was evicted.
func (d *Dispatcher) Leave(topic Topic, id ulid.ULID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if registered, ok := d.registry.TopicOf(id); ok {
		topic = registered
		d.registry.Unregister(id)
		d.metrics.SessionClosed()
	}
	d.stopIfIdle(topic)
}

// Close stops every pump and evicts all remaining subscribers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for topic, p := range d.pumps {
		p.sub.Close()
		<-p.done
		delete(d.pumps, topic)
	}
	for _, topic := range d.registry.Topics() {
		for _, s := range d.registry.Snapshot(topic) {
			if _, ok := d.registry.Unregister(s.ID()); ok {
				d.metrics.SessionClosed()
			}
			s.Evict(ErrDispatcherClosed)
		}
	}
	d.metrics.SetTopics(0)
}

// stopIfIdle must be called with mu held.
func (d *Dispatcher) stopIfIdle(topic Topic) {
	if d.registry.Len(topic) > 0 {
		return
	}
	p, ok := d.pumps[topic]
	if !ok {
		return
	}
	delete(d.pumps, topic)
	p.sub.Close()
	<-p.done
	d.metrics.SetTopics(len(d.pumps))
	d.logger.Debug("topic closed", "topic", string(topic))
}

// run drains one topic's subscription. It never takes mu; stopIfIdle waits
// on done while holding it.
func (d *Dispatcher) run(topic Topic, p *pump) {
	defer close(p.done)
	for payload := range p.sub.C() {
		d.fanout(topic, payload)
	}
}

// fanout delivers one payload to every subscriber of topic except its
// origin. A subscriber that fails is unregistered and evicted; the others
// still receive the payload.
func (d *Dispatcher) fanout(topic Topic, payload []byte) {
	env := DecodeEnvelope(payload)
	origin := env.OriginID()
	body := []byte(env.Body)

	for _, s := range d.registry.Snapshot(topic) {
		id := s.ID()
		if id == origin {
			continue
		}
		err := s.Deliver(body)
		if err == nil {
			d.metrics.Delivered()
			continue
		}

		_, registered := d.registry.Unregister(id)
		if !registered && errors.Is(err, ErrSessionClosed) {
			// Left between the snapshot and the delivery.
			continue
		}
		if registered {
			d.metrics.SessionClosed()
		}
		d.metrics.DeliveryFailed(failureReason(err))
		d.logger.Warn("session delivery failed, evicting",
			"session_id", id.String(),
			"topic", string(topic),
			"error", err)
		s.Evict(oops.Code("SESSION_DELIVERY_FAILED").
			With("session_id", id.String()).
			With("topic", string(topic)).
			Wrap(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return observability.ReasonQueueFull
	case errors.Is(err, ErrSessionClosed):
		return observability.ReasonClosed
	default:
		return observability.ReasonOther
	}
}
