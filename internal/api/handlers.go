// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/task"
)

// principal returns the caller set by authenticate.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in task.ProjectInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	project, err := s.deps.Tasks.CreateProject(r.Context(), principal(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Tasks.ListProjects(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in task.MemberInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.deps.Tasks.AddMember(r.Context(), projectID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleSetMemberRole(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in task.RoleInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Tasks.SetMemberRole(r.Context(), projectID, userID, in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Detail{Detail: "Role updated"})
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var in task.BoardInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	board, err := s.deps.Tasks.CreateBoard(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r.URL.Query().Get("project_id"), "project_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	boards, err := s.deps.Tasks.ListBoards(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in task.Input
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Tasks.Create(r.Context(), principal(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q, err := taskQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tasks, err := s.deps.Tasks.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// taskQuery parses the list filters from the query string.
func taskQuery(r *http.Request) (task.Query, error) {
	values := r.URL.Query()
	q := task.Query{
		Priority:  values.Get("priority"),
		Search:    values.Get("search"),
		SortBy:    values.Get("sort_by"),
		SortOrder: values.Get("sort_order"),
	}

	if raw := values.Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return q, invalid("completed must be a boolean")
		}
		q.Completed = &completed
	}

	ints := []struct {
		name string
		dst  *int64
	}{
		{"project_id", &q.ProjectID},
		{"board_id", &q.BoardID},
		{"assigned_user_id", &q.AssignedUserID},
	}
	for _, f := range ints {
		raw := values.Get(f.name)
		if raw == "" {
			continue
		}
		id, err := parseID(raw, f.name)
		if err != nil {
			return q, err
		}
		*f.dst = id
	}

	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, invalid("%s must be an integer", name)
		}
		*dst = n
	}
	return q, nil
}

func (s *Server) handleDueToday(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Tasks.DueToday(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in task.Patch
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Tasks.Patch(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReplaceTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in task.Input
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Tasks.Replace(r.Context(), principal(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ToggleResponse reports a task's new completion state.
type ToggleResponse struct {
	TaskID    int64 `json:"task_id"`
	Completed bool  `json:"completed"`
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Tasks.Toggle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{TaskID: t.ID, Completed: t.Completed})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Tasks.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Detail{Detail: "Task deleted"})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := decodeComment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Tasks.AddComment(r.Context(), principal(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// decodeComment accepts either {"content": "..."} or a bare JSON string.
func decodeComment(r *http.Request) (task.CommentInput, error) {
	var in task.CommentInput
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return in, oops.Code("VALIDATION_FAILED").Wrapf(err, "read request body")
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '"' {
		if err := json.Unmarshal(body, &in.Content); err != nil {
			return in, invalid("malformed comment: %v", err)
		}
		return in, nil
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, invalid("malformed comment: %v", err)
	}
	return in, nil
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	comments, err := s.deps.Tasks.Comments(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}
