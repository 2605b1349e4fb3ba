// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeeper/pkg/errutil"
)

// fakeMigrate implements migrateIface for testing.
type fakeMigrate struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSrcErr, closeDBErr            error
	steps                              []int
}

func (f *fakeMigrate) Up() error   { return f.upErr }
func (f *fakeMigrate) Down() error { return f.downErr }
func (f *fakeMigrate) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Force(int) error              { return f.forceErr }
func (f *fakeMigrate) Close() (error, error)        { return f.closeSrcErr, f.closeDBErr }

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@host:5432/db":   "pgx5://u:p@host:5432/db",
		"postgresql://u:p@host:5432/db": "pgx5://u:p@host:5432/db",
		"pgx5://host/db":                "pgx5://host/db",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

func TestNewMigrator_BadScheme(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/testdb")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrator_Up(t *testing.T) {
	t.Run("no change is success", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{upErr: migrate.ErrNoChange}}
		assert.NoError(t, m.Up())
	})

	t.Run("failure is coded", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{upErr: errors.New("database locked")}}
		errutil.AssertErrorCode(t, m.Up(), "MIGRATION_UP_FAILED")
	})
}

func TestMigrator_Down(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{downErr: migrate.ErrNoChange}}
	assert.NoError(t, m.Down())

	m = &Migrator{m: &fakeMigrate{downErr: errors.New("constraint violation")}}
	errutil.AssertErrorCode(t, m.Down(), "MIGRATION_DOWN_FAILED")
}

func TestMigrator_Steps(t *testing.T) {
	t.Run("zero does not touch the database", func(t *testing.T) {
		fake := &fakeMigrate{}
		m := &Migrator{m: fake}
		require.NoError(t, m.Steps(0))
		assert.Empty(t, fake.steps)
	})

	t.Run("passes n through", func(t *testing.T) {
		fake := &fakeMigrate{}
		m := &Migrator{m: fake}
		require.NoError(t, m.Steps(-1))
		assert.Equal(t, []int{-1}, fake.steps)
	})

	t.Run("failure carries step count", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{stepsErr: errors.New("boom")}}
		err := m.Steps(2)
		errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
		errutil.AssertErrorContext(t, err, "steps", 2)
	})
}

func TestMigrator_Version(t *testing.T) {
	t.Run("empty database is version zero", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(0), v)
		assert.False(t, dirty)
	})

	t.Run("reports dirty state", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{version: 2, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("failure is coded", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: errors.New("no connection")}}
		_, _, err := m.Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Force(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{}}
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
	assert.NoError(t, m.Force(1))

	m = &Migrator{m: &fakeMigrate{forceErr: errors.New("boom")}}
	errutil.AssertErrorCode(t, m.Force(1), "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Pending(t *testing.T) {
	all, err := Versions()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	t.Run("everything pending on an empty database", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		pending, err := m.Pending()
		require.NoError(t, err)
		assert.Equal(t, all, pending)
	})

	t.Run("nothing pending at latest", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{version: all[len(all)-1]}}
		pending, err := m.Pending()
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestMigrator_Close(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{}}
	assert.NoError(t, m.Close())

	m = &Migrator{m: &fakeMigrate{closeSrcErr: errors.New("src"), closeDBErr: errors.New("db")}}
	err := m.Close()
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "db")
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_accounts", name)

	name, err = MigrationName(999)
	require.NoError(t, err)
	assert.Empty(t, name)
}
