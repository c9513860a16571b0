// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless err is non-nil and carries code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext fails t unless err is an oops error whose context maps
// key to value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	fields := oopsErr.Context()
	if assert.Contains(t, fields, key) {
		assert.Equal(t, value, fields[key])
	}
}
