// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

const taskColumns = `id, title, description, due_date, completed, project_id, board_id, priority, assigned_user_id, created_at`

// Task list paging bounds.
const (
	DefaultTaskLimit = 20
	MaxTaskLimit     = 100
)

// sortExpressions whitelists ORDER BY expressions. Priority sorts by rank
// rather than by name.
var sortExpressions = map[string]string{
	SortDueDate:   "due_date",
	SortPriority:  "CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END",
	SortCreatedAt: "created_at",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.DueDate, &t.Completed,
		&t.ProjectID, &t.BoardID, &t.Priority, &t.AssignedUserID, &t.CreatedAt)
	return t, err
}

// taskWriteError maps constraint violations from an insert or update of a
// task to NOT_FOUND codes for the referenced row.
func taskWriteError(err error, code string, in TaskInput) error {
	constraint, ok := isForeignKeyViolation(err)
	if !ok {
		return oops.Code(code).With("project_id", in.ProjectID).Wrap(err)
	}
	switch constraint {
	case "tasks_board_id_fkey":
		return oops.Code("BOARD_NOT_FOUND").With("board_id", deref(in.BoardID)).Wrap(ErrNotFound)
	case "tasks_assigned_user_id_fkey":
		return oops.Code("USER_NOT_FOUND").With("user_id", deref(in.AssignedUserID)).Wrap(ErrNotFound)
	default:
		return oops.Code("PROJECT_NOT_FOUND").With("project_id", in.ProjectID).Wrap(ErrNotFound)
	}
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func taskNotFound(id int64) error {
	return oops.Code("TASK_NOT_FOUND").With("task_id", id).Wrap(ErrNotFound)
}

// CreateTask inserts a task. Priority defaults to medium.
func (s *Store) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	t, err := scanTask(s.q(ctx).QueryRow(ctx,
		`INSERT INTO tasks (title, description, due_date, project_id, board_id, priority, assigned_user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+taskColumns,
		in.Title, in.Description, in.DueDate, in.ProjectID, in.BoardID, in.Priority, in.AssignedUserID))
	if err != nil {
		return Task{}, taskWriteError(err, "TASK_CREATE_FAILED", in)
	}
	return t, nil
}

// GetTask returns the task with id.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(s.q(ctx).QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, taskNotFound(id)
	}
	if err != nil {
		return Task{}, oops.Code("TASK_GET_FAILED").With("task_id", id).Wrap(err)
	}
	return t, nil
}

// ListTasks returns the tasks matching f. Search is a case-insensitive
// substring match on the title.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Completed != nil {
		add("completed = $%d", *f.Completed)
	}
	if f.ProjectID != 0 {
		add("project_id = $%d", f.ProjectID)
	}
	if f.BoardID != 0 {
		add("board_id = $%d", f.BoardID)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.AssignedUserID != 0 {
		add("assigned_user_id = $%d", f.AssignedUserID)
	}
	if f.Search != "" {
		add("title ILIKE $%d", "%"+likeEscaper.Replace(f.Search)+"%")
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	if expr, ok := sortExpressions[f.SortBy]; ok {
		sb.WriteString(expr)
		if f.Descending {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString("id")

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultTaskLimit
	}
	limit = min(limit, MaxTaskLimit)
	args = append(args, limit, max(f.Offset, 0))
	fmt.Fprintf(&sb, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryTasks(ctx, "list tasks", sb.String(), args...)
}

// PatchTask applies the non-nil fields of p. An empty patch returns the
// task unchanged.
func (s *Store) PatchTask(ctx context.Context, id int64, p TaskPatch) (Task, error) {
	if p.Empty() {
		return s.GetTask(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Title != nil {
		set("title", *p.Title)
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.DueDate != nil {
		set("due_date", *p.DueDate)
	}
	if p.BoardID != nil {
		set("board_id", *p.BoardID)
	}
	if p.Priority != nil {
		set("priority", *p.Priority)
	}
	if p.AssignedUserID != nil {
		set("assigned_user_id", *p.AssignedUserID)
	}
	if p.Completed != nil {
		set("completed", *p.Completed)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), taskColumns)
	t, err := scanTask(s.q(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, taskNotFound(id)
	}
	if err != nil {
		return Task{}, taskWriteError(err, "TASK_UPDATE_FAILED",
			TaskInput{BoardID: p.BoardID, AssignedUserID: p.AssignedUserID})
	}
	return t, nil
}

// ReplaceTask overwrites every writable field of the task.
func (s *Store) ReplaceTask(ctx context.Context, id int64, in TaskInput) (Task, error) {
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	t, err := scanTask(s.q(ctx).QueryRow(ctx,
		`UPDATE tasks SET title = $2, description = $3, due_date = $4, project_id = $5,
		 board_id = $6, priority = $7, assigned_user_id = $8
		 WHERE id = $1 RETURNING `+taskColumns,
		id, in.Title, in.Description, in.DueDate, in.ProjectID, in.BoardID, in.Priority, in.AssignedUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, taskNotFound(id)
	}
	if err != nil {
		return Task{}, taskWriteError(err, "TASK_UPDATE_FAILED", in)
	}
	return t, nil
}

// ToggleTask flips the completion flag and returns the updated task.
func (s *Store) ToggleTask(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(s.q(ctx).QueryRow(ctx,
		`UPDATE tasks SET completed = NOT completed WHERE id = $1 RETURNING `+taskColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, taskNotFound(id)
	}
	if err != nil {
		return Task{}, oops.Code("TASK_UPDATE_FAILED").With("task_id", id).Wrap(err)
	}
	return t, nil
}

// DeleteTask removes the task and returns it as it was.
func (s *Store) DeleteTask(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(s.q(ctx).QueryRow(ctx,
		`DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, taskNotFound(id)
	}
	if err != nil {
		return Task{}, oops.Code("TASK_DELETE_FAILED").With("task_id", id).Wrap(err)
	}
	return t, nil
}

// TasksDueOn returns the open tasks due on the UTC calendar day of day in
// projects userID belongs to.
func (s *Store) TasksDueOn(ctx context.Context, userID int64, day time.Time) ([]Task, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return s.queryTasks(ctx, "list tasks due",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE project_id IN (SELECT project_id FROM project_members WHERE user_id = $1)
		   AND due_date >= $2 AND due_date < $3 AND NOT completed
		 ORDER BY due_date, id`,
		userID, start, start.Add(24*time.Hour))
}

// OverdueTasks returns every open task due at or before now.
func (s *Store) OverdueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	return s.queryTasks(ctx, "list overdue tasks",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE due_date <= $1 AND NOT completed
		 ORDER BY project_id, id`,
		now)
}

func (s *Store) queryTasks(ctx context.Context, operation, query string, args ...any) ([]Task, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, oops.With("operation", operation).Wrap(err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, oops.With("operation", "scan task row").Wrap(err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", operation).Wrap(err)
	}
	return tasks, nil
}
