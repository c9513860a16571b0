// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery failure reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonClosed    = "closed"
	ReasonOther     = "other"
)

// Metrics contains custom Prometheus metrics for TaskPulse.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsActive        prometheus.Gauge
	TopicsActive          prometheus.Gauge
	DeliveriesTotal       prometheus.Counter
	DeliveryFailuresTotal *prometheus.CounterVec
	EvictionsTotal        prometheus.Counter
	PublishFailuresTotal  *prometheus.CounterVec
	BusReconnectsTotal    prometheus.Counter
	BusDroppedTotal       prometheus.Counter
	ClientDroppedTotal    prometheus.Counter
	RemindersTotal        prometheus.Counter
	RequestsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers custom TaskPulse metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpulse_sessions_active",
			Help: "Number of client sessions currently registered",
		}),
		TopicsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpulse_topics_active",
			Help: "Number of topics with at least one registered session",
		}),
		DeliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_deliveries_total",
			Help: "Total number of events enqueued to client sessions",
		}),
		DeliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_delivery_failures_total",
				Help: "Total number of failed session deliveries by reason",
			},
			[]string{"reason"},
		),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_evictions_total",
			Help: "Total number of sessions evicted after a failed delivery",
		}),
		PublishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_publish_failures_total",
				Help: "Total number of events that could not be published, by kind",
			},
			[]string{"kind"},
		),
		BusReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_bus_reconnects_total",
			Help: "Total number of broker listener reconnections",
		}),
		BusDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_bus_dropped_total",
			Help: "Total number of bus messages dropped because a topic buffer was full",
		}),
		ClientDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_client_messages_dropped_total",
			Help: "Total number of inbound client messages dropped by the rate limiter",
		}),
		RemindersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_reminders_total",
			Help: "Total number of due-task reminders published",
		}),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_http_requests_total",
				Help: "Total number of API requests by method and status",
			},
			[]string{"method", "status"},
		),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.TopicsActive,
		m.DeliveriesTotal,
		m.DeliveryFailuresTotal,
		m.EvictionsTotal,
		m.PublishFailuresTotal,
		m.BusReconnectsTotal,
		m.BusDroppedTotal,
		m.ClientDroppedTotal,
		m.RemindersTotal,
		m.RequestsTotal,
	)

	return m
}

// SessionOpened records a session joining a topic.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

// SessionClosed records a session leaving its topic.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

// SetTopics sets the number of topics with interest.
func (m *Metrics) SetTopics(n int) {
	if m != nil {
		m.TopicsActive.Set(float64(n))
	}
}

// Delivered records a successful enqueue to a session.
func (m *Metrics) Delivered() {
	if m != nil {
		m.DeliveriesTotal.Inc()
	}
}

// DeliveryFailed records a failed enqueue and the resulting eviction.
func (m *Metrics) DeliveryFailed(reason string) {
	if m != nil {
		m.DeliveryFailuresTotal.WithLabelValues(reason).Inc()
		m.EvictionsTotal.Inc()
	}
}

// PublishFailed records an event the producer could not hand to the bus.
func (m *Metrics) PublishFailed(kind string) {
	if m != nil {
		m.PublishFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// BusReconnected records a broker listener reconnect.
func (m *Metrics) BusReconnected() {
	if m != nil {
		m.BusReconnectsTotal.Inc()
	}
}

// BusDropped records a bus message dropped on a full topic buffer.
func (m *Metrics) BusDropped() {
	if m != nil {
		m.BusDroppedTotal.Inc()
	}
}

// ClientDropped records an inbound client message dropped by rate limiting.
func (m *Metrics) ClientDropped() {
	if m != nil {
		m.ClientDroppedTotal.Inc()
	}
}

// ReminderPublished records a reminder handed to the producer.
func (m *Metrics) ReminderPublished() {
	if m != nil {
		m.RemindersTotal.Inc()
	}
}

// Request records a completed API request.
func (m *Metrics) Request(method, status string) {
	if m != nil {
		m.RequestsTotal.WithLabelValues(method, status).Inc()
	}
}
