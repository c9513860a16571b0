// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package task

import (
	"context"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/store"
)

// ProjectInput is the body of a project creation.
type ProjectInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// MemberInput is the body of a membership change.
type MemberInput struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"omitempty,oneof=owner editor viewer"`
}

// RoleInput is the body of a role change.
type RoleInput struct {
	Role string `json:"role" validate:"required,oneof=owner editor viewer"`
}

// BoardInput is the body of a board creation.
type BoardInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	ProjectID int64  `json:"project_id" validate:"required,gt=0"`
}

// CreateProject creates a project owned by p.
func (s *Service) CreateProject(ctx context.Context, p auth.Principal, in ProjectInput) (store.Project, error) {
	if err := s.check(in); err != nil {
		return store.Project{}, err
	}
	return s.store.CreateProject(ctx, in.Name, in.Description, p.UserID)
}

// ListProjects returns the projects p belongs to.
func (s *Service) ListProjects(ctx context.Context, p auth.Principal) ([]store.Project, error) {
	return s.store.ListProjects(ctx, p.UserID)
}

// AddMember adds a user to a project. The role defaults to viewer.
func (s *Service) AddMember(ctx context.Context, projectID int64, in MemberInput) (store.Member, error) {
	if err := s.check(in); err != nil {
		return store.Member{}, err
	}
	if in.Role == "" {
		in.Role = store.MemberViewer
	}
	return s.store.AddMember(ctx, projectID, in.UserID, in.Role)
}

// SetMemberRole changes a member's role.
func (s *Service) SetMemberRole(ctx context.Context, projectID, userID int64, in RoleInput) error {
	if err := s.check(in); err != nil {
		return err
	}
	return s.store.SetMemberRole(ctx, projectID, userID, in.Role)
}

// CreateBoard adds a board to a project.
func (s *Service) CreateBoard(ctx context.Context, in BoardInput) (store.Board, error) {
	if err := s.check(in); err != nil {
		return store.Board{}, err
	}
	return s.store.CreateBoard(ctx, in.ProjectID, in.Name)
}

// ListBoards returns the boards of a project.
func (s *Service) ListBoards(ctx context.Context, projectID int64) ([]store.Board, error) {
	return s.store.ListBoards(ctx, projectID)
}
