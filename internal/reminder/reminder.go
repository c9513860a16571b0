// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package reminder publishes a reminder to its project for every open task
// that is due, on a cron schedule.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/observability"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
)

// parser accepts standard five-field specs with an optional leading
// seconds field, plus descriptors such as @daily.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Source finds due tasks. *store.Store implements it.
type Source interface {
	OverdueTasks(ctx context.Context, now time.Time) ([]store.Task, error)
}

// Publisher sends one reminder. *realtime.BusProducer implements it.
type Publisher interface {
	PublishTask(ctx context.Context, projectID int64, ev realtime.TaskEvent) error
}

// Result summarises one scan.
type Result struct {
	Due    int
	Sent   int
	Failed int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics counts published reminders.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the time source for the due cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs reminder scans.
type Scheduler struct {
	source    Source
	publisher Publisher
	spec      string
	schedule  cron.Schedule
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// ParseSchedule validates a cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, oops.Code("INVALID_SCHEDULE").With("schedule", spec).Wrap(err)
	}
	return sched, nil
}

// New creates a Scheduler firing on spec, evaluated in UTC.
func New(source Source, publisher Publisher, spec string, opts ...Option) (*Scheduler, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		source:    source,
		publisher: publisher,
		spec:      spec,
		schedule:  sched,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "reminders")
	return s, nil
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// RunOnce publishes a reminder for every open task due now. A failed
// publish is counted and the scan continues; the first failure is
// returned alongside the result.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	tasks, err := s.source.OverdueTasks(ctx, s.now())
	if err != nil {
		return Result{}, oops.Code("REMINDER_SCAN_FAILED").Wrap(err)
	}

	res := Result{Due: len(tasks)}
	var errs []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := s.publisher.PublishTask(ctx, t.ProjectID, realtime.TaskEvent{
			Kind:    realtime.KindReminder,
			TaskID:  t.ID,
			Title:   t.Title,
			DueDate: t.DueDate,
		})
		if err != nil {
			res.Failed++
			s.metrics.PublishFailed(string(realtime.KindReminder))
			s.logger.WarnContext(ctx, "reminder publish failed",
				"task_id", t.ID, "project_id", t.ProjectID, "error", err)
			errs = append(errs, err)
			continue
		}
		res.Sent++
		s.metrics.ReminderPublished()
	}

	s.logger.InfoContext(ctx, "reminder scan finished",
		"due", res.Due, "sent", res.Sent, "failed", res.Failed)
	if len(errs) > 0 {
		return res, oops.Code("REMINDER_PUBLISH_FAILED").
			With("failed", res.Failed).
			Wrapf(errs[0], "%d of %d reminders not sent", res.Due-res.Sent, res.Due)
	}
	return res, nil
}

// Run fires RunOnce on the schedule until ctx is cancelled, then waits for
// a running scan to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		//nolint:errcheck // RunOnce logs its own failures
		_, _ = s.RunOnce(ctx)
	}))

	s.logger.InfoContext(ctx, "reminder scheduler started",
		"schedule", s.spec, "next", s.Next(s.now()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("reminder scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
