// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/bus/memory"
	"github.com/taskpulse/taskpulse/pkg/errutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func startLink(t *testing.T, driver bus.Driver, opts ...bus.LinkOption) *bus.Link {
	t.Helper()
	opts = append([]bus.LinkOption{
		bus.WithReconnectConfig(5*time.Millisecond, 20*time.Millisecond),
		bus.WithPublishRetries(2, time.Millisecond),
	}, opts...)
	link := bus.NewLink(driver, opts...)
	require.NoError(t, link.Start(context.Background()))
	return link
}

func receive(t *testing.T, sub *bus.Subscription) []byte {
	t.Helper()
	select {
	case payload, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return payload
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func assertNothing(t *testing.T, sub *bus.Subscription) {
	t.Helper()
	select {
	case payload := <-sub.C():
		t.Fatalf("unexpected message %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitListening blocks until the broker sees exactly one listener on topic.
func waitListening(t *testing.T, broker *memory.Broker, topic string) {
	t.Helper()
	require.Eventually(t, func() bool { return broker.Subscribers(topic) == 1 }, waitFor, tick)
}

func TestLink_DeliversToSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	sub, err := link.Subscribe("task_updates:42")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:42")

	require.NoError(t, link.Publish(context.Background(), "task_updates:42", []byte("New task: Buy milk")))
	assert.Equal(t, "New task: Buy milk", string(receive(t, sub)))
}

func TestLink_TopicsAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	sub7, err := link.Subscribe("task_updates:7")
	require.NoError(t, err)
	sub8, err := link.Subscribe("task_updates:8")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:7")
	waitListening(t, broker, "task_updates:8")

	require.NoError(t, link.Publish(context.Background(), "task_updates:7", []byte("seven")))

	assert.Equal(t, "seven", string(receive(t, sub7)))
	assertNothing(t, sub8)
}

func TestLink_SharedTopicListensOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	a, err := link.Subscribe("task_updates:1")
	require.NoError(t, err)
	b, err := link.Subscribe("task_updates:1")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:1")

	require.NoError(t, link.Publish(context.Background(), "task_updates:1", []byte("x")))
	assert.Equal(t, "x", string(receive(t, a)))
	assert.Equal(t, "x", string(receive(t, b)))
	assertNothing(t, a)
	assertNothing(t, b)
}

func TestLink_ResubscribesAfterReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	subA, err := link.Subscribe("task_updates:1")
	require.NoError(t, err)
	subB, err := link.Subscribe("task_updates:2")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:1")
	waitListening(t, broker, "task_updates:2")
	require.Equal(t, 1, broker.Dials())

	broker.DropConnections()

	require.Eventually(t, func() bool {
		return broker.Dials() >= 2 &&
			broker.Subscribers("task_updates:1") == 1 &&
			broker.Subscribers("task_updates:2") == 1
	}, waitFor, tick, "every topic should be listened exactly once on the new connection")

	require.NoError(t, link.Publish(context.Background(), "task_updates:1", []byte("one")))
	require.NoError(t, link.Publish(context.Background(), "task_updates:2", []byte("two")))
	assert.Equal(t, "one", string(receive(t, subA)))
	assert.Equal(t, "two", string(receive(t, subB)))
	assertNothing(t, subA)
}

func TestLink_ConnectedTracksBroker(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	require.Eventually(t, link.Connected, waitFor, tick)

	broker.SetAvailable(false)
	require.Eventually(t, func() bool { return !link.Connected() }, waitFor, tick)

	broker.SetAvailable(true)
	require.Eventually(t, link.Connected, waitFor, tick)
}

func TestLink_StartsWhileBrokerDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	broker.SetAvailable(false)
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	sub, err := link.Subscribe("task_updates:3")
	require.NoError(t, err)
	assert.False(t, link.Connected())

	broker.SetAvailable(true)
	waitListening(t, broker, "task_updates:3")

	require.NoError(t, link.Publish(context.Background(), "task_updates:3", []byte("late")))
	assert.Equal(t, "late", string(receive(t, sub)))
}

func TestLink_SubscriptionCloseUnlistens(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())
	defer func() { _ = link.Close() }()

	sub, err := link.Subscribe("task_updates:5")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:5")

	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	require.Eventually(t, func() bool { return broker.Subscribers("task_updates:5") == 0 }, waitFor, tick)
}

func TestLink_CloseClosesSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver())

	sub, err := link.Subscribe("task_updates:9")
	require.NoError(t, err)

	require.NoError(t, link.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.False(t, link.Connected())
	sub.Close()

	_, err = link.Subscribe("task_updates:9")
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrLinkClosed)
	errutil.AssertErrorCode(t, err, "LINK_CLOSED")
}

func TestLink_StartTwiceFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	link := startLink(t, memory.NewBroker().Driver())
	defer func() { _ = link.Close() }()

	err := link.Start(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "LINK_ALREADY_STARTED")
}

func TestLink_PublishBrokerUnavailable(t *testing.T) {
	broker := memory.NewBroker()
	broker.SetAvailable(false)
	link := bus.NewLink(broker.Driver(), bus.WithPublishRetries(2, time.Millisecond))

	err := link.Publish(context.Background(), "task_updates:1", []byte("lost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrBrokerUnavailable)
	errutil.AssertErrorCode(t, err, "BROKER_UNAVAILABLE")
	errutil.AssertErrorContext(t, err, "attempts", 3)
}

// flakyDriver fails the first failures publishes.
type flakyDriver struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	last     []byte
}

func (d *flakyDriver) Dial(context.Context) (bus.Listener, error) {
	return nil, errors.New("not used")
}

func (d *flakyDriver) Publish(_ context.Context, _ string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return d.err
	}
	d.last = payload
	return nil
}

func (d *flakyDriver) Close() error { return nil }

func TestLink_PublishRetriesTransientFailures(t *testing.T) {
	driver := &flakyDriver{failures: 2, err: errors.New("connection reset")}
	link := bus.NewLink(driver, bus.WithPublishRetries(3, time.Millisecond))

	require.NoError(t, link.Publish(context.Background(), "task_updates:1", []byte("eventually")))
	assert.Equal(t, 3, driver.calls)
	assert.Equal(t, "eventually", string(driver.last))
}

func TestLink_PublishPayloadTooLargeNotRetried(t *testing.T) {
	driver := &flakyDriver{failures: 10, err: bus.ErrPayloadTooLarge}
	link := bus.NewLink(driver, bus.WithPublishRetries(3, time.Millisecond))

	err := link.Publish(context.Background(), "task_updates:1", make([]byte, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrPayloadTooLarge)
	errutil.AssertErrorCode(t, err, "PAYLOAD_TOO_LARGE")
	assert.Equal(t, 1, driver.calls)
}

func TestLink_FullSubscriptionDropsInsteadOfBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := memory.NewBroker()
	link := startLink(t, broker.Driver(), bus.WithBufferSize(1))
	defer func() { _ = link.Close() }()

	slow, err := link.Subscribe("task_updates:4")
	require.NoError(t, err)
	fast, err := link.Subscribe("task_updates:4")
	require.NoError(t, err)
	waitListening(t, broker, "task_updates:4")

	require.NoError(t, link.Publish(context.Background(), "task_updates:4", []byte("1")))
	assert.Equal(t, "1", string(receive(t, fast)))
	require.NoError(t, link.Publish(context.Background(), "task_updates:4", []byte("2")))
	assert.Equal(t, "2", string(receive(t, fast)))

	assert.Equal(t, "1", string(receive(t, slow)))
	assertNothing(t, slow)
}
