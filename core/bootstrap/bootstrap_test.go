package bootstrap

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/kopakash/loanbot/core/config"
	coredatabase "github.com/kopakash/loanbot/core/database"
)

func noopLogger(*coreconfig.Config) error { return nil }

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(Options{})
	require.Error(t, err)
}

func TestRunSkipDatabase(t *testing.T) {
	connected := false
	res, err := Run(Options{
		Config:       &coreconfig.Config{},
		SkipDatabase: true,
		LoggerInit:   noopLogger,
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.False(t, connected)
	assert.NoError(t, res.Close())
}

func TestRunConnectsAndMigrates(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")

	migrated := false
	res, err := Run(Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noopLogger,
		Connect:    func(coredatabase.Config) (*sqlx.DB, error) { return db, nil },
		Migrate: func(coredatabase.Config) error {
			migrated = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Same(t, db, res.DB)

	mock.ExpectClose()
	require.NoError(t, res.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunClosesDBWhenMigrationFails(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	_, err = Run(Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noopLogger,
		Connect:    func(coredatabase.Config) (*sqlx.DB, error) { return sqlx.NewDb(raw, "postgres"), nil },
		Migrate:    func(coredatabase.Config) error { return errors.New("boom") },
	})
	require.ErrorContains(t, err, "migrations failed")
	require.NoError(t, mock.ExpectationsWereMet())
}
