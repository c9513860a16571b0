// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package api

import (
	"net/http"

	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/task"
	"github.com/taskpulse/taskpulse/pkg/errutil"
)

// handleWebSocket upgrades the caller and follows the project's task
// updates until the connection ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveSession(w, r, principal(r), projectID)
}

// handleLegacyWebSocket serves the path form that names the user. The
// user must be the authenticated caller.
func (s *Server) handleLegacyWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principal(r)
	if userID != p.UserID {
		s.writeError(w, r, oops.Code("FORBIDDEN").
			With("user_id", userID).
			Wrapf(task.ErrForbidden, "path user does not match token"))
		return
	}
	s.serveSession(w, r, p, projectID)
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request, p auth.Principal, projectID int64) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	transport := realtime.NewWebSocketTransport(conn, s.cfg.WebSocket)
	if err := s.deps.Sessions.Accept(r.Context(), transport, p, projectID); err != nil {
		errutil.LogWarnContext(r.Context(), s.logger, "session ended with error", err)
	}
}
