// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Subscriber receives fanout payloads for one topic.
type Subscriber interface {
	// ID identifies the subscriber for the lifetime of the process.
	ID() ulid.ULID
	// Deliver enqueues payload without blocking. An error means the
	// subscriber can no longer keep up and must be evicted.
	Deliver(payload []byte) error
	// Evict tells the subscriber it has been removed from the registry.
	Evict(reason error)
}

// Registry maps topics to the subscribers interested in them. A subscriber
// belongs to at most one topic.
type Registry struct {
	mu     sync.RWMutex
	topics map[Topic]map[ulid.ULID]Subscriber
	index  map[ulid.ULID]Topic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[Topic]map[ulid.ULID]Subscriber),
		index:  make(map[ulid.ULID]Topic),
	}
}

// Register adds sub to topic. If sub was already registered under another
// topic it is moved and the previous topic is returned with moved set.
// Registering twice under the same topic is a no-op.
func (r *Registry) Register(topic Topic, sub Subscriber) (previous Topic, moved bool) {
	id := sub.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.index[id]; ok {
		if prev == topic {
			return prev, false
		}
		r.remove(prev, id)
		previous, moved = prev, true
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[ulid.ULID]Subscriber)
		r.topics[topic] = subs
	}
	subs[id] = sub
	r.index[id] = topic
	return previous, moved
}

// Unregister removes the subscriber with id. It reports the topic it was
// registered under, and false if it was not registered.
func (r *Registry) Unregister(id ulid.ULID) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topic, ok := r.index[id]
	if !ok {
		return "", false
	}
	r.remove(topic, id)
	return topic, true
}

// remove must be called with mu held.
func (r *Registry) remove(topic Topic, id ulid.ULID) {
	delete(r.index, id)
	subs := r.topics[topic]
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// Snapshot returns the subscribers of topic at the time of the call. The
// slice is owned by the caller.
func (r *Registry) Snapshot(topic Topic) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topics[topic]
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Len returns the number of subscribers on topic.
func (r *Registry) Len(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Size returns the number of registered subscribers across all topics.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Topics returns every topic with at least one subscriber, sorted.
func (r *Registry) Topics() []Topic {
	r.mu.RLock()
	out := make([]Topic, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopicOf returns the topic id is registered under.
func (r *Registry) TopicOf(id ulid.ULID) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.index[id]
	return t, ok
}
