// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"context"

	"github.com/samber/oops"
)

// AddComment records a comment by userID on taskID.
func (s *Store) AddComment(ctx context.Context, taskID, userID int64, content string) (Comment, error) {
	c := Comment{TaskID: taskID, UserID: userID, Content: content}
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO task_comments (task_id, user_id, content) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		taskID, userID, content).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if constraint, ok := isForeignKeyViolation(err); ok {
			if constraint == "task_comments_user_id_fkey" {
				return Comment{}, oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(ErrNotFound)
			}
			return Comment{}, taskNotFound(taskID)
		}
		return Comment{}, oops.Code("COMMENT_CREATE_FAILED").With("task_id", taskID).Wrap(err)
	}
	return c, nil
}

// ListComments returns the comments on taskID, oldest first.
func (s *Store) ListComments(ctx context.Context, taskID int64) ([]Comment, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT id, task_id, user_id, content, created_at FROM task_comments
		 WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, oops.With("operation", "list comments").With("task_id", taskID).Wrap(err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan comment row").Wrap(err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate comments").Wrap(err)
	}
	return comments, nil
}
