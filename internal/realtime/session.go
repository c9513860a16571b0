// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/observability"
)

// State is a session lifecycle stage.
type State int32

// Session states. Transitions only move forward.
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig tunes a session.
type SessionConfig struct {
	// SendBuffer bounds the outbound queue.
	SendBuffer int
	// PingPeriod is the keepalive interval. Zero disables pings.
	PingPeriod time.Duration
	// RateLimit caps inbound client messages per second. Zero means no limit.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultSessionConfig returns the built-in session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBuffer: 256,
		PingPeriod: 54 * time.Second,
		RateLimit:  10,
		RateBurst:  20,
	}
}

// Session is one connected client bound to one topic for its lifetime.
type Session struct {
	id         ulid.ULID
	principal  auth.Principal
	topic      Topic
	transport  Transport
	dispatcher *Dispatcher
	producer   Producer
	cfg        SessionConfig
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics

	state atomic.Int32

	mu     sync.Mutex
	send   chan []byte
	closed bool

	evictOnce sync.Once
	evicted   chan struct{}
	evictErr  error
}

// NewSession creates a session in the Connecting state. Run registers it.
func NewSession(transport Transport, principal auth.Principal, topic Topic, h *Hub) *Session {
	cfg := h.cfg
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSessionConfig().SendBuffer
	}

	limit, burst := cfg.RateLimit, cfg.RateBurst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	id := NewID()
	return &Session{
		id:         id,
		principal:  principal,
		topic:      topic,
		transport:  transport,
		dispatcher: h.dispatcher,
		producer:   h.producer,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger: h.logger.With(
			"session_id", id.String(),
			"user_id", principal.UserID,
			"topic", string(topic)),
		metrics: h.metrics,
		send:    make(chan []byte, cfg.SendBuffer),
		evicted: make(chan struct{}),
	}
}

// ID implements Subscriber.
func (s *Session) ID() ulid.ULID {
	return s.id
}

// Topic returns the topic the session is bound to.
func (s *Session) Topic() Topic {
	return s.topic
}

// Principal returns the authenticated user.
func (s *Session) Principal() auth.Principal {
	return s.principal
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Deliver implements Subscriber. It never blocks.
func (s *Session) Deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Evict implements Subscriber. The session closes with reason.
func (s *Session) Evict(reason error) {
	s.evictOnce.Do(func() {
		s.evictErr = reason
		close(s.evicted)
	})
}

// Close asks a running session to shut down normally.
func (s *Session) Close() {
	s.Evict(nil)
}

// Run registers the session and serves it until the client disconnects,
// the session is evicted, or ctx is cancelled. A normal disconnect returns
// nil.
func (s *Session) Run(ctx context.Context) error {
	if err := s.dispatcher.Join(s.topic, s); err != nil {
		s.setClosed()
		_ = s.transport.Close(err)
		return oops.Code("SESSION_JOIN_FAILED").
			With("session_id", s.id.String()).
			With("topic", string(s.topic)).
			Wrap(err)
	}
	s.state.Store(int32(StateActive))
	s.logger.Info("session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.closer(gctx, cancel) })

	err := g.Wait()
	s.setClosed()

	if err != nil {
		s.logger.Info("session closed", "error", err)
		return err
	}
	s.logger.Info("session closed")
	return nil
}

// closer waits for a stop condition, then leaves the dispatcher, closes the
// transport so the read loop unblocks, and stops the write loop.
func (s *Session) closer(ctx context.Context, stop context.CancelFunc) error {
	var reason error
	select {
	case <-ctx.Done():
	case <-s.evicted:
		reason = s.evictErr
	}

	s.state.Store(int32(StateClosing))
	s.dispatcher.Leave(s.topic, s.id)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	closeReason := reason
	if closeReason == nil {
		closeReason = context.Cause(ctx)
		if errors.Is(closeReason, context.Canceled) {
			closeReason = nil
		}
	}
	if err := s.transport.Close(closeReason); err != nil {
		s.logger.Debug("error closing transport", "error", err)
	}
	stop()
	return reason
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		payload, err := s.transport.Read()
		if err != nil {
			switch {
			case s.stopping(ctx):
				return nil
			case errors.Is(err, ErrTransportClosed):
				// The peer went away; a nil return alone would not stop the group.
				s.Close()
				return nil
			case errors.Is(err, ErrProtocol):
				return oops.Code("PROTOCOL_ERROR").
					With("session_id", s.id.String()).
					Wrap(err)
			default:
				return oops.Code("TRANSPORT_FAILED").
					With("session_id", s.id.String()).
					Wrap(err)
			}
		}

		if !s.limiter.Allow() {
			s.metrics.ClientDropped()
			s.logger.Warn("client message dropped: rate limit exceeded")
			continue
		}

		body := "Client " + s.principal.ID() + ": " + string(payload)
		s.producer.PublishBroadcast(ctx, s.topic, s.id, body)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if s.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(s.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-s.send:
			if err := s.transport.Write(payload); err != nil {
				if s.stopping(ctx) {
					return nil
				}
				return oops.Code("TRANSPORT_FAILED").
					With("session_id", s.id.String()).
					With("operation", "write").
					Wrap(err)
			}
		case <-tick:
			if err := s.transport.Ping(); err != nil {
				if s.stopping(ctx) {
					return nil
				}
				return oops.Code("TRANSPORT_FAILED").
					With("session_id", s.id.String()).
					With("operation", "ping").
					Wrap(err)
			}
		}
	}
}

// stopping reports whether an I/O error is a consequence of shutdown.
func (s *Session) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || s.State() >= StateClosing
}

func (s *Session) setClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
}
