// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package errutil holds helpers for working with oops errors.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. Oops errors contribute their code and
// context as separate attributes.
func LogError(logger *slog.Logger, msg string, err error) {
	logAt(context.Background(), logger, slog.LevelError, msg, err)
}

// LogWarn is LogError at warn level, for failures the caller recovers from.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logAt(context.Background(), logger, slog.LevelWarn, msg, err)
}

// LogErrorContext is LogError with ctx handed to the logger, so handlers
// can pick up request-scoped attributes.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logAt(ctx, logger, slog.LevelError, msg, err)
}

// LogWarnContext is LogWarn with ctx handed to the logger.
func LogWarnContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logAt(ctx, logger, slog.LevelWarn, msg, err)
}

func logAt(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error) {
	if !logger.Enabled(ctx, level) {
		return
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Log(ctx, level, msg, "error", err)
		return
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if fields := oopsErr.Context(); len(fields) > 0 {
		attrs = append(attrs, "context", fields)
	}
	logger.Log(ctx, level, msg, attrs...)
}

// Code returns the oops error code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	if s, ok := code.(string); ok {
		return s
	}
	return fmt.Sprint(code)
}
