// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package task implements project, board, task, and comment operations.
// Every successful task mutation is published to the project's topic after
// the store has committed it.
package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
)

// ErrForbidden is returned when the caller may not act on a project.
var ErrForbidden = errors.New("forbidden")

// ErrInvalid is returned when input fails validation.
var ErrInvalid = errors.New("invalid input")

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	CreateProject(ctx context.Context, name, description string, ownerID int64) (store.Project, error)
	GetProject(ctx context.Context, id int64) (store.Project, error)
	ListProjects(ctx context.Context, userID int64) ([]store.Project, error)
	AddMember(ctx context.Context, projectID, userID int64, role string) (store.Member, error)
	SetMemberRole(ctx context.Context, projectID, userID int64, role string) error
	MemberRole(ctx context.Context, projectID, userID int64) (string, error)

	CreateBoard(ctx context.Context, projectID int64, name string) (store.Board, error)
	ListBoards(ctx context.Context, projectID int64) ([]store.Board, error)

	CreateTask(ctx context.Context, in store.TaskInput) (store.Task, error)
	GetTask(ctx context.Context, id int64) (store.Task, error)
	ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error)
	PatchTask(ctx context.Context, id int64, p store.TaskPatch) (store.Task, error)
	ReplaceTask(ctx context.Context, id int64, in store.TaskInput) (store.Task, error)
	ToggleTask(ctx context.Context, id int64) (store.Task, error)
	DeleteTask(ctx context.Context, id int64) (store.Task, error)
	TasksDueOn(ctx context.Context, userID int64, day time.Time) ([]store.Task, error)

	AddComment(ctx context.Context, taskID, userID int64, content string) (store.Comment, error)
	ListComments(ctx context.Context, taskID int64) ([]store.Comment, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for due-today queries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Service implements the task-management operations.
type Service struct {
	store    Store
	producer realtime.Producer
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(st Store, producer realtime.Producer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		producer: producer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "tasks")
	return s
}

// check validates v against its struct tags.
func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return oops.Code("VALIDATION_FAILED").Wrapf(ErrInvalid, "%v", err)
	}
	return nil
}

// authorize requires p to be a member of projectID. Admins pass.
func (s *Service) authorize(ctx context.Context, p auth.Principal, projectID int64, msg string) error {
	if p.IsAdmin() {
		return nil
	}
	if _, err := s.store.MemberRole(ctx, projectID, p.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("FORBIDDEN").
				With("project_id", projectID).
				With("user_id", p.UserID).
				Wrapf(ErrForbidden, "%s", msg)
		}
		return err
	}
	return nil
}
