// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package errutil

import "net/http"

// statusByCode maps error codes that reach API clients to HTTP statuses.
var statusByCode = map[string]int{
	"VALIDATION_FAILED":  http.StatusBadRequest,
	"INVALID_TOPIC":      http.StatusBadRequest,
	"UNAUTHORIZED":       http.StatusUnauthorized,
	"TOKEN_EXPIRED":      http.StatusUnauthorized,
	"FORBIDDEN":          http.StatusForbidden,
	"USER_NOT_FOUND":     http.StatusNotFound,
	"PROJECT_NOT_FOUND":  http.StatusNotFound,
	"BOARD_NOT_FOUND":    http.StatusNotFound,
	"TASK_NOT_FOUND":     http.StatusNotFound,
	"MEMBER_NOT_FOUND":   http.StatusNotFound,
	"MEMBER_EXISTS":      http.StatusConflict,
	"USERNAME_TAKEN":     http.StatusConflict,
	"TOO_MANY_ATTEMPTS":  http.StatusTooManyRequests,
	"BROKER_UNAVAILABLE": http.StatusServiceUnavailable,
	"DB_UNAVAILABLE":     http.StatusServiceUnavailable,
}

// HTTPStatus returns the HTTP status for err's code. Errors without a
// mapped code are internal errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := statusByCode[Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
