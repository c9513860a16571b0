// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"context"

	"github.com/samber/oops"
)

// CreateBoard inserts a board into projectID.
func (s *Store) CreateBoard(ctx context.Context, projectID int64, name string) (Board, error) {
	b := Board{Name: name, ProjectID: projectID}
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO boards (name, project_id) VALUES ($1, $2) RETURNING id, created_at`,
		name, projectID).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if _, ok := isForeignKeyViolation(err); ok {
			return Board{}, oops.Code("PROJECT_NOT_FOUND").With("project_id", projectID).Wrap(ErrNotFound)
		}
		return Board{}, oops.Code("BOARD_CREATE_FAILED").With("project_id", projectID).Wrap(err)
	}
	return b, nil
}

// ListBoards returns the boards of projectID in creation order.
func (s *Store) ListBoards(ctx context.Context, projectID int64) ([]Board, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT id, name, project_id, created_at FROM boards WHERE project_id = $1 ORDER BY id`,
		projectID)
	if err != nil {
		return nil, oops.With("operation", "list boards").With("project_id", projectID).Wrap(err)
	}
	defer rows.Close()

	boards := []Board{}
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Name, &b.ProjectID, &b.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan board row").Wrap(err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate boards").Wrap(err)
	}
	return boards, nil
}
