// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/observability"
)

// Producer publishes events for fanout. Failures are logged and counted,
// never returned: a state change that already committed is not undone
// because its notification could not be sent.
type Producer interface {
	PublishTaskEvent(ctx context.Context, projectID int64, ev TaskEvent)
	PublishBroadcast(ctx context.Context, topic Topic, origin ulid.ULID, body string)
}

// Publisher sends raw payloads on a topic. *bus.Link implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TaskEvent describes a change to a task.
type TaskEvent struct {
	Kind      Kind
	TaskID    int64
	Title     string
	Completed bool
	DueDate   time.Time
}

type reminderBody struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	TaskID    int64  `json:"task_id"`
	TaskTitle string `json:"task_title"`
	DueDate   string `json:"due_date"`
	ProjectID int64  `json:"project_id"`
}

// Body renders the client-facing text for the event.
func (e TaskEvent) Body(projectID int64) (string, error) {
	switch e.Kind {
	case KindTaskCreated:
		return "New task: " + e.Title, nil
	case KindTaskUpdated:
		return "Task updated: " + e.Title, nil
	case KindTaskToggled:
		return fmt.Sprintf("Task status changed: %s -> %t", e.Title, e.Completed), nil
	case KindTaskDeleted:
		return "Task deleted: " + e.Title, nil
	case KindCommentAdded:
		return "New comment on " + e.Title, nil
	case KindReminder:
		data, err := json.Marshal(reminderBody{
			Type:      string(KindReminder),
			Message:   "Reminder: " + e.Title + " is due",
			TaskID:    e.TaskID,
			TaskTitle: e.Title,
			DueDate:   e.DueDate.UTC().Format(time.RFC3339),
			ProjectID: projectID,
		})
		if err != nil {
			return "", oops.Code("EVENT_MARSHAL_FAILED").With("kind", string(e.Kind)).Wrap(err)
		}
		return string(data), nil
	default:
		return "", oops.Code("EVENT_KIND_UNKNOWN").With("kind", string(e.Kind)).Errorf("unknown event kind")
	}
}

// ProducerOption configures a BusProducer.
type ProducerOption func(*BusProducer)

// WithProducerLogger sets the logger.
func WithProducerLogger(l *slog.Logger) ProducerOption {
	return func(p *BusProducer) {
		p.logger = l
	}
}

// WithProducerMetrics counts publish failures.
func WithProducerMetrics(m *observability.Metrics) ProducerOption {
	return func(p *BusProducer) {
		p.metrics = m
	}
}

// BusProducer publishes enveloped events through a Publisher.
type BusProducer struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewBusProducer creates a producer publishing through p.
func NewBusProducer(p Publisher, opts ...ProducerOption) *BusProducer {
	bp := &BusProducer{publisher: p}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	bp.logger = bp.logger.With("component", "producer")
	return bp
}

// PublishTaskEvent implements Producer.
func (p *BusProducer) PublishTaskEvent(ctx context.Context, projectID int64, ev TaskEvent) {
	if err := p.PublishTask(ctx, projectID, ev); err != nil {
		p.fail(ctx, ev.Kind, err)
	}
}

// PublishTask is PublishTaskEvent with the error returned.
func (p *BusProducer) PublishTask(ctx context.Context, projectID int64, ev TaskEvent) error {
	body, err := ev.Body(projectID)
	if err != nil {
		return err
	}
	return p.publish(ctx, ProjectTopic(projectID), NewEnvelope(ev.Kind, ulid.ULID{}, body))
}

// PublishBroadcast implements Producer.
func (p *BusProducer) PublishBroadcast(ctx context.Context, topic Topic, origin ulid.ULID, body string) {
	if err := p.publish(ctx, topic, NewEnvelope(KindBroadcast, origin, body)); err != nil {
		p.fail(ctx, KindBroadcast, err)
	}
}

func (p *BusProducer) publish(ctx context.Context, topic Topic, env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	//nolint:wrapcheck // the link already returns coded errors
	return p.publisher.Publish(ctx, string(topic), payload)
}

func (p *BusProducer) fail(ctx context.Context, kind Kind, err error) {
	p.metrics.PublishFailed(string(kind))
	p.logger.WarnContext(ctx, "event publish failed", "kind", string(kind), "error", err)
}
