// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"context"
	"log/slog"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/observability"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSessionConfig sets per-session tuning.
func WithSessionConfig(cfg SessionConfig) HubOption {
	return func(h *Hub) {
		h.cfg = cfg
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithHubMetrics records session activity.
func WithHubMetrics(m *observability.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub accepts client connections and runs them as sessions.
type Hub struct {
	dispatcher *Dispatcher
	producer   Producer
	cfg        SessionConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHub creates a hub over dispatcher. Client messages are republished
// through producer.
func NewHub(dispatcher *Dispatcher, producer Producer, opts ...HubOption) *Hub {
	h := &Hub{
		dispatcher: dispatcher,
		producer:   producer,
		cfg:        DefaultSessionConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "session")
	return h
}

// Accept serves transport as principal's session on the project's topic.
// It blocks until the session ends.
func (h *Hub) Accept(ctx context.Context, transport Transport, principal auth.Principal, projectID int64) error {
	return NewSession(transport, principal, ProjectTopic(projectID), h).Run(ctx)
}

// Sessions returns the number of registered sessions.
func (h *Hub) Sessions() int {
	return h.dispatcher.Registry().Size()
}

// Close evicts every session and stops fanout.
func (h *Hub) Close() {
	h.dispatcher.Close()
}
