// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/pkg/errutil"
)

// latestVersion is the highest embedded migration.
const latestVersion = 3

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/tp":   "pgx5://u:p@db:5432/tp",
		"postgresql://u:p@db:5432/tp": "pgx5://u:p@db:5432/tp",
		"pgx5://db/tp":                "pgx5://db/tp",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

func TestNewMigrator_InitFailures(t *testing.T) {
	for _, url := range []string{
		"invalid://url",
		"badscheme://localhost:5432/testdb",
	} {
		t.Run(url, func(t *testing.T) {
			_, err := NewMigrator(url)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
		})
	}
}

// mockMigrate implements migrateIface.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error

	steps  []int
	closed bool
}

func (m *mockMigrate) Up() error   { return m.after(m.upErr) }
func (m *mockMigrate) Down() error { return m.after(m.downErr) }
func (m *mockMigrate) Steps(n int) error {
	m.steps = append(m.steps, n)
	return m.after(m.stepsErr)
}

func (m *mockMigrate) Version() (uint, bool, error) {
	if m.closed {
		return 0, false, errMigratorClosed
	}
	return m.versionVal, m.dirty, m.versionErr
}
func (m *mockMigrate) Force(_ int) error { return m.after(m.forceErr) }
func (m *mockMigrate) Close() (error, error) {
	m.closed = true
	return m.closeSourceErr, m.closeDbErr
}

var errMigratorClosed = errors.New("migrator is closed")

func (m *mockMigrate) after(err error) error {
	if m.closed {
		return errMigratorClosed
	}
	return err
}

func TestMigrator_Operations(t *testing.T) {
	tests := []struct {
		name     string
		mock     *mockMigrate
		run      func(*Migrator) error
		wantCode string
	}{
		{"up", &mockMigrate{}, (*Migrator).Up, ""},
		{"up no change", &mockMigrate{upErr: migrate.ErrNoChange}, (*Migrator).Up, ""},
		{"up failure", &mockMigrate{upErr: errors.New("database locked")}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &mockMigrate{}, (*Migrator).Down, ""},
		{"down no change", &mockMigrate{downErr: migrate.ErrNoChange}, (*Migrator).Down, ""},
		{"down failure", &mockMigrate{downErr: errors.New("constraint")}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
		{"steps", &mockMigrate{}, func(m *Migrator) error { return m.Steps(2) }, ""},
		{"steps no change", &mockMigrate{stepsErr: migrate.ErrNoChange}, func(m *Migrator) error { return m.Steps(-1) }, ""},
		{"steps failure", &mockMigrate{stepsErr: errors.New("bad step")}, func(m *Migrator) error { return m.Steps(5) }, "MIGRATION_STEPS_FAILED"},
		{"force", &mockMigrate{}, func(m *Migrator) error { return m.Force(2) }, ""},
		{"force failure", &mockMigrate{forceErr: errors.New("nope")}, func(m *Migrator) error { return m.Force(2) }, "MIGRATION_FORCE_FAILED"},
		{"force negative", &mockMigrate{}, func(m *Migrator) error { return m.Force(-1) }, "INVALID_VERSION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.mock})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_StepsZeroSkipsMigrate(t *testing.T) {
	mock := &mockMigrate{}
	require.NoError(t, (&Migrator{m: mock}).Steps(0))
	assert.Empty(t, mock.steps)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &mockMigrate{versionVal: 2}}).Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.False(t, dirty)
	})
	t.Run("dirty", func(t *testing.T) {
		_, dirty, err := (&Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}).Version()
		require.NoError(t, err)
		assert.True(t, dirty)
	})
	t.Run("fresh database", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}).Version()
		require.NoError(t, err)
		assert.Equal(t, uint(0), v)
		assert.False(t, dirty)
	})
	t.Run("failure", func(t *testing.T) {
		_, _, err := (&Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}).Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		srcErr    error
		dbErr     error
		component string
	}{
		{"ok", nil, nil, ""},
		{"source", errors.New("source close failed"), nil, "source"},
		{"database", nil, errors.New("db close failed"), "database"},
		{"both", errors.New("source close failed"), errors.New("db close failed"), "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: &mockMigrate{closeSourceErr: tt.srcErr, closeDbErr: tt.dbErr}}).Close()
			if tt.component == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
			if tt.component == "both" {
				assert.Contains(t, err.Error(), "source close failed")
				assert.Contains(t, err.Error(), "db close failed")
			}
		})
	}
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	tests := []struct {
		name        string
		mock        *mockMigrate
		wantPending []uint
		wantApplied []uint
	}{
		{"fresh", &mockMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2, 3}, nil},
		{"partway", &mockMigrate{versionVal: 1}, []uint{2, 3}, []uint{1}},
		{"latest", &mockMigrate{versionVal: latestVersion}, nil, []uint{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}
			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)
		})
	}
}

func TestMigrator_PendingAndAppliedVersionError(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}

	_, err := m.PendingMigrations()
	errutil.AssertErrorContext(t, err, "operation", "get pending migrations")

	_, err = m.AppliedMigrations()
	errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
}

func TestMigrator_Status(t *testing.T) {
	st, err := (&Migrator{m: &mockMigrate{versionVal: 2}}).Status()
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{
		Version: 2,
		Name:    "000002_boards_tasks",
		Applied: []uint{1, 2},
		Pending: []uint{3},
	}, st)

	_, err = (&Migrator{m: &mockMigrate{versionErr: errors.New("down")}}).Status()
	errutil.AssertErrorContext(t, err, "operation", "get migration status")
}

func TestMigrator_MethodsAfterClose(t *testing.T) {
	calls := map[string]func(*Migrator) error{
		"Up":    (*Migrator).Up,
		"Down":  (*Migrator).Down,
		"Steps": func(m *Migrator) error { return m.Steps(1) },
		"Force": func(m *Migrator) error { return m.Force(1) },
		"Version": func(m *Migrator) error {
			_, _, err := m.Version()
			return err
		},
		"PendingMigrations": func(m *Migrator) error {
			_, err := m.PendingMigrations()
			return err
		},
		"AppliedMigrations": func(m *Migrator) error {
			_, err := m.AppliedMigrations()
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			migrator := &Migrator{m: &mockMigrate{}}
			require.NoError(t, migrator.Close())
			assert.Error(t, call(migrator))
		})
	}
}

func TestMigrationName(t *testing.T) {
	tests := []struct {
		version uint
		want    string
	}{
		{1, "000001_initial"},
		{2, "000002_boards_tasks"},
		{3, "000003_task_comments"},
		{0, ""},
		{999, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("version_%d", tt.version), func(t *testing.T) {
			name, err := MigrationName(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	first, err := allMigrationVersions()
	require.NoError(t, err)
	require.Equal(t, []uint{1, 2, 3}, first)

	first[0] = 99999

	second, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, uint(1), second[0])
}
