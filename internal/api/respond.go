// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/pkg/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Detail is the body of responses that carry only a message.
type Detail struct {
	Detail string `json:"detail"`
}

// publicMessages are the client-facing messages for known error codes.
var publicMessages = map[string]string{
	"UNAUTHORIZED":      "Invalid authentication credentials",
	"TOKEN_EXPIRED":     "Token has expired",
	"FORBIDDEN":         "Access denied",
	"USER_NOT_FOUND":    "User not found",
	"PROJECT_NOT_FOUND": "Project not found",
	"BOARD_NOT_FOUND":   "Board not found",
	"TASK_NOT_FOUND":    "Task not found",
	"MEMBER_NOT_FOUND":  "User is not a member of this project",
	"MEMBER_EXISTS":     "User already a member",
	"USERNAME_TAKEN":    "Username already taken",
	"TOO_MANY_ATTEMPTS": "Too many failed authentication attempts",
	"DB_UNAVAILABLE":    "Service temporarily unavailable",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a message safe for clients.
// Internal errors are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errutil.HTTPStatus(err)
	code := errutil.Code(err)

	msg, ok := publicMessages[code]
	switch {
	case status == http.StatusBadRequest:
		msg = err.Error()
	case status >= http.StatusInternalServerError && !ok:
		errutil.LogErrorContext(r.Context(), s.logger, "request failed", err)
		msg = http.StatusText(status)
		code = ""
	case !ok:
		msg = http.StatusText(status)
	}

	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func invalid(format string, args ...any) error {
	return oops.Code("VALIDATION_FAILED").Errorf(format, args...)
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is empty")
		}
		return invalid("malformed request body: %v", err)
	}
	return nil
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	return parseID(chi.URLParam(r, name), name)
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("%s must be a positive integer", name)
	}
	return id, nil
}
