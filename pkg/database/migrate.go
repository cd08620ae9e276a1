package database

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/wonny/forge/pkg/logger"
)

// Migrator applies embedded SQL migrations with golang-migrate.
type Migrator struct {
	m      *migrate.Migrate
	logger *logger.Logger
}

// NewMigrator opens the migration source dir inside fsys against databaseURL.
func NewMigrator(databaseURL string, fsys fs.FS, dir string, log *logger.Logger) (*Migrator, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{m: m, logger: log}, nil
}

// MigrationURL rewrites a postgres:// URL to the pgx5:// scheme the migrate driver registers.
func MigrationURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Up applies all pending migrations. No pending migrations is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logVersion("Migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func (m *Migrator) Down(steps int) error {
	if err := m.m.Steps(-steps); err != nil {
		return fmt.Errorf("rollback %d migrations: %w", steps, err)
	}
	m.logVersion("Migrations rolled back")
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (m *Migrator) logVersion(msg string) {
	version, dirty, err := m.m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		m.logger.WithError(err).Warn("Could not read migration version")
		return
	}
	m.logger.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info(msg)
}

// Version returns the applied migration version; 0 means none applied.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
