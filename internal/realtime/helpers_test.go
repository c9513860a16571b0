// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/bus/memory"
	"github.com/taskpulse/taskpulse/internal/realtime"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fixture wires a link over an in-memory broker to a dispatcher.
type fixture struct {
	broker     *memory.Broker
	link       *bus.Link
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	producer   *realtime.BusProducer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := memory.NewBroker()
	link := bus.NewLink(broker.Driver(),
		bus.WithReconnectConfig(5*time.Millisecond, 20*time.Millisecond),
		bus.WithPublishRetries(2, time.Millisecond))
	require.NoError(t, link.Start(context.Background()))

	registry := realtime.NewRegistry()
	f := &fixture{
		broker:     broker,
		link:       link,
		registry:   registry,
		dispatcher: realtime.NewDispatcher(link, registry),
		producer:   realtime.NewBusProducer(link),
	}
	return f
}

func (f *fixture) close() {
	f.dispatcher.Close()
	_ = f.link.Close()
}

func (f *fixture) waitListening(t *testing.T, topic realtime.Topic) {
	t.Helper()
	require.Eventually(t, func() bool { return f.broker.Subscribers(string(topic)) == 1 }, waitFor, tick)
}

func (f *fixture) publish(t *testing.T, topic realtime.Topic, payload string) {
	t.Helper()
	require.NoError(t, f.link.Publish(context.Background(), string(topic), []byte(payload)))
}

// recorder is a Subscriber that stores everything delivered to it.
type recorder struct {
	id      ulid.ULID
	mu      sync.Mutex
	got     []string
	fail    error
	evicted chan error
	// onDeliver, when set, runs before each delivery.
	onDeliver func()
}

func newRecorder() *recorder {
	return &recorder{id: realtime.NewID(), evicted: make(chan error, 1)}
}

func (r *recorder) ID() ulid.ULID { return r.id }

func (r *recorder) Deliver(payload []byte) error {
	if r.onDeliver != nil {
		r.onDeliver()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, string(payload))
	return nil
}

func (r *recorder) Evict(reason error) {
	select {
	case r.evicted <- reason:
	default:
	}
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func (r *recorder) waitCount(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.messages()) >= n }, waitFor, tick)
}

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport is an in-process Transport. Frames sent by the "client"
// go through inbound; frames written by the session land in outbound.
type fakeTransport struct {
	inbound  chan []byte
	readErr  chan error
	outbound chan []byte
	gate     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	reason    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 16),
		readErr:  make(chan error, 1),
		outbound: make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}
}

// blockWrites makes Write hang until the transport closes.
func (f *fakeTransport) blockWrites() {
	f.gate = make(chan struct{})
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case p := <-f.inbound:
		return p, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closed:
		return nil, errFakeClosed
	}
}

func (f *fakeTransport) Write(payload []byte) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return errFakeClosed
		}
	}
	select {
	case f.outbound <- payload:
		return nil
	case <-f.closed:
		return errFakeClosed
	}
}

func (f *fakeTransport) Ping() error { return nil }

func (f *fakeTransport) Close(reason error) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) closeReason() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case p := <-f.outbound:
		return string(p)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for outbound frame")
		return ""
	}
}

func (f *fakeTransport) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case p := <-f.outbound:
		t.Fatalf("unexpected outbound frame %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}
