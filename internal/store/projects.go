// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// CreateProject inserts a project and records its owner as a member in the
// same transaction.
func (s *Store) CreateProject(ctx context.Context, name, description string, ownerID int64) (Project, error) {
	p := Project{Name: name, Description: description, OwnerID: ownerID}
	err := s.InTx(ctx, func(ctx context.Context) error {
		err := s.q(ctx).QueryRow(ctx,
			`INSERT INTO projects (name, description, owner_id) VALUES ($1, $2, $3)
			 RETURNING id, created_at`,
			name, description, ownerID).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			if _, ok := isForeignKeyViolation(err); ok {
				return oops.Code("USER_NOT_FOUND").With("user_id", ownerID).Wrap(ErrNotFound)
			}
			return oops.Code("PROJECT_CREATE_FAILED").With("name", name).Wrap(err)
		}
		_, err = s.q(ctx).Exec(ctx,
			`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)`,
			p.ID, ownerID, MemberOwner)
		if err != nil {
			return oops.Code("PROJECT_CREATE_FAILED").With("project_id", p.ID).Wrap(err)
		}
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// GetProject returns the project with id.
func (s *Store) GetProject(ctx context.Context, id int64) (Project, error) {
	p := Project{ID: id}
	err := s.q(ctx).QueryRow(ctx,
		`SELECT name, description, owner_id, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.Name, &p.Description, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, oops.Code("PROJECT_NOT_FOUND").With("project_id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return Project{}, oops.Code("PROJECT_GET_FAILED").With("project_id", id).Wrap(err)
	}
	return p, nil
}

// ListProjects returns the projects userID is a member of, oldest first.
func (s *Store) ListProjects(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.created_at
		 FROM projects p JOIN project_members m ON m.project_id = p.id
		 WHERE m.user_id = $1 ORDER BY p.id`, userID)
	if err != nil {
		return nil, oops.With("operation", "list projects").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan project row").Wrap(err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate projects").Wrap(err)
	}
	return projects, nil
}

// AddMember adds userID to projectID with role. An existing membership
// yields MEMBER_EXISTS; a missing project or user yields the matching
// NOT_FOUND code.
func (s *Store) AddMember(ctx context.Context, projectID, userID int64, role string) (Member, error) {
	m := Member{ProjectID: projectID, UserID: userID, Role: role}
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)
		 RETURNING added_at`,
		projectID, userID, role).Scan(&m.AddedAt)
	if err == nil {
		return m, nil
	}
	if _, ok := isUniqueViolation(err); ok {
		return Member{}, oops.Code("MEMBER_EXISTS").
			With("project_id", projectID).
			With("user_id", userID).
			Wrapf(ErrConflict, "user %d is already a member of project %d", userID, projectID)
	}
	if constraint, ok := isForeignKeyViolation(err); ok {
		if constraint == "project_members_user_id_fkey" {
			return Member{}, oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(ErrNotFound)
		}
		return Member{}, oops.Code("PROJECT_NOT_FOUND").With("project_id", projectID).Wrap(ErrNotFound)
	}
	return Member{}, oops.Code("MEMBER_ADD_FAILED").
		With("project_id", projectID).
		With("user_id", userID).
		Wrap(err)
}

// SetMemberRole changes the role of an existing member.
func (s *Store) SetMemberRole(ctx context.Context, projectID, userID int64, role string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE project_members SET role = $3 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID, role)
	if err != nil {
		return oops.Code("MEMBER_UPDATE_FAILED").
			With("project_id", projectID).
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("MEMBER_NOT_FOUND").
			With("project_id", projectID).
			With("user_id", userID).
			Wrap(ErrNotFound)
	}
	return nil
}

// MemberRole returns userID's role in projectID. Non-members yield
// MEMBER_NOT_FOUND.
func (s *Store) MemberRole(ctx context.Context, projectID, userID int64) (string, error) {
	var role string
	err := s.q(ctx).QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("MEMBER_NOT_FOUND").
			With("project_id", projectID).
			With("user_id", userID).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("MEMBER_GET_FAILED").
			With("project_id", projectID).
			With("user_id", userID).
			Wrap(err)
	}
	return role, nil
}
