// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package task

import (
	"context"
	"time"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Input is the body of a task creation or full update.
type Input struct {
	Title          string    `json:"title" validate:"required,max=200"`
	Description    string    `json:"description" validate:"max=10000"`
	DueDate        time.Time `json:"due_date" validate:"required"`
	ProjectID      int64     `json:"project_id" validate:"required,gt=0"`
	BoardID        *int64    `json:"board_id" validate:"omitempty,gt=0"`
	Priority       string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssignedUserID *int64    `json:"assigned_user_id" validate:"omitempty,gt=0"`
}

func (in Input) toStore() store.TaskInput {
	return store.TaskInput{
		Title:          in.Title,
		Description:    in.Description,
		DueDate:        in.DueDate,
		ProjectID:      in.ProjectID,
		BoardID:        in.BoardID,
		Priority:       in.Priority,
		AssignedUserID: in.AssignedUserID,
	}
}

// Patch is the body of a partial update. Absent fields are unchanged.
type Patch struct {
	Title          *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description    *string    `json:"description" validate:"omitempty,max=10000"`
	DueDate        *time.Time `json:"due_date"`
	BoardID        *int64     `json:"board_id" validate:"omitempty,gt=0"`
	Priority       *string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssignedUserID *int64     `json:"assigned_user_id" validate:"omitempty,gt=0"`
	Completed      *bool      `json:"completed"`
}

// Query selects tasks for List.
type Query struct {
	Completed      *bool
	ProjectID      int64  `validate:"gte=0"`
	BoardID        int64  `validate:"gte=0"`
	Priority       string `validate:"omitempty,oneof=low medium high"`
	AssignedUserID int64  `validate:"gte=0"`
	Search         string `validate:"max=200"`
	SortBy         string `validate:"omitempty,oneof=due_date priority created_at"`
	SortOrder      string `validate:"omitempty,oneof=asc desc"`
	Limit          int    `validate:"gte=1,lte=100"`
	Offset         int    `validate:"gte=0"`
}

// CommentInput is the body of a new comment.
type CommentInput struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// Create stores a task in a project p belongs to and announces it.
func (s *Service) Create(ctx context.Context, p auth.Principal, in Input) (store.Task, error) {
	if err := s.check(in); err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, p, in.ProjectID, "no access to project"); err != nil {
		return store.Task{}, err
	}
	t, err := s.store.CreateTask(ctx, in.toStore())
	if err != nil {
		return store.Task{}, err
	}
	s.announce(ctx, realtime.KindTaskCreated, t)
	return t, nil
}

// Get returns a task.
func (s *Service) Get(ctx context.Context, id int64) (store.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns the tasks matching q. A zero limit means the default page.
func (s *Service) List(ctx context.Context, q Query) ([]store.Task, error) {
	if q.Limit == 0 {
		q.Limit = store.DefaultTaskLimit
	}
	if err := s.check(q); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, store.TaskFilter{
		Completed:      q.Completed,
		ProjectID:      q.ProjectID,
		BoardID:        q.BoardID,
		Priority:       q.Priority,
		AssignedUserID: q.AssignedUserID,
		Search:         q.Search,
		SortBy:         q.SortBy,
		Descending:     q.SortOrder == "desc",
		Limit:          q.Limit,
		Offset:         q.Offset,
	})
}

// Patch applies a partial update. An empty patch is not announced.
func (s *Service) Patch(ctx context.Context, id int64, in Patch) (store.Task, error) {
	if err := s.check(in); err != nil {
		return store.Task{}, err
	}
	patch := store.TaskPatch(in)
	t, err := s.store.PatchTask(ctx, id, patch)
	if err != nil {
		return store.Task{}, err
	}
	if !patch.Empty() {
		s.announce(ctx, realtime.KindTaskUpdated, t)
	}
	return t, nil
}

// Replace overwrites every writable field of a task. Moving the task to
// another project requires access to that project, and both projects are
// told about the change.
func (s *Service) Replace(ctx context.Context, p auth.Principal, id int64, in Input) (store.Task, error) {
	if err := s.check(in); err != nil {
		return store.Task{}, err
	}
	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	moved := current.ProjectID != in.ProjectID
	if moved {
		if err := s.authorize(ctx, p, in.ProjectID, "no access to target project"); err != nil {
			return store.Task{}, err
		}
	}
	t, err := s.store.ReplaceTask(ctx, id, in.toStore())
	if err != nil {
		return store.Task{}, err
	}
	if moved {
		left := t
		left.ProjectID = current.ProjectID
		s.announce(ctx, realtime.KindTaskUpdated, left)
	}
	s.announce(ctx, realtime.KindTaskUpdated, t)
	return t, nil
}

// Toggle flips a task's completion flag.
func (s *Service) Toggle(ctx context.Context, id int64) (store.Task, error) {
	t, err := s.store.ToggleTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	s.announce(ctx, realtime.KindTaskToggled, t)
	return t, nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id int64) (store.Task, error) {
	t, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	s.announce(ctx, realtime.KindTaskDeleted, t)
	return t, nil
}

// DueToday returns p's open tasks due on the current UTC day.
func (s *Service) DueToday(ctx context.Context, p auth.Principal) ([]store.Task, error) {
	return s.store.TasksDueOn(ctx, p.UserID, s.now())
}

// AddComment records a comment by p on a task in a project p belongs to.
func (s *Service) AddComment(ctx context.Context, p auth.Principal, taskID int64, in CommentInput) (store.Comment, error) {
	if err := s.check(in); err != nil {
		return store.Comment{}, err
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := s.authorize(ctx, p, t.ProjectID, "no access to this task"); err != nil {
		return store.Comment{}, err
	}
	c, err := s.store.AddComment(ctx, taskID, p.UserID, in.Content)
	if err != nil {
		return store.Comment{}, err
	}
	s.announce(ctx, realtime.KindCommentAdded, t)
	return c, nil
}

// Comments returns the comments on a task.
func (s *Service) Comments(ctx context.Context, taskID int64) ([]store.Comment, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, taskID)
}

func (s *Service) announce(ctx context.Context, kind realtime.Kind, t store.Task) {
	s.producer.PublishTaskEvent(ctx, t.ProjectID, realtime.TaskEvent{
		Kind:      kind,
		TaskID:    t.ID,
		Title:     t.Title,
		Completed: t.Completed,
		DueDate:   t.DueDate,
	})
}
