// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import "time"

// Member roles within a project.
const (
	MemberOwner  = "owner"
	MemberEditor = "editor"
	MemberViewer = "viewer"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// User is an account that tokens are issued for.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups boards and tasks.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a user's membership in a project.
type Member struct {
	ProjectID int64     `json:"project_id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	AddedAt   time.Time `json:"added_at"`
}

// Board is a named column of tasks within a project.
type Board struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ProjectID int64     `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskInput carries every writable task field.
type TaskInput struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	DueDate        time.Time `json:"due_date"`
	ProjectID      int64     `json:"project_id"`
	BoardID        *int64    `json:"board_id"`
	Priority       string    `json:"priority"`
	AssignedUserID *int64    `json:"assigned_user_id"`
}

// Task is a stored task.
type Task struct {
	ID int64 `json:"id"`
	TaskInput
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskPatch holds the fields of a partial update. Nil fields are left
// unchanged.
type TaskPatch struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	DueDate        *time.Time `json:"due_date"`
	BoardID        *int64     `json:"board_id"`
	Priority       *string    `json:"priority"`
	AssignedUserID *int64     `json:"assigned_user_id"`
	Completed      *bool      `json:"completed"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.BoardID == nil && p.Priority == nil && p.AssignedUserID == nil &&
		p.Completed == nil
}

// Task list sort columns.
const (
	SortDueDate   = "due_date"
	SortPriority  = "priority"
	SortCreatedAt = "created_at"
)

// TaskFilter narrows ListTasks. Zero-valued fields do not filter.
type TaskFilter struct {
	Completed      *bool
	ProjectID      int64
	BoardID        int64
	Priority       string
	AssignedUserID int64
	Search         string
	SortBy         string
	Descending     bool
	Limit          int
	Offset         int
}

// Comment is a note left on a task.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
