package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/aiox-platform/quotaguard/internal/config"
	"github.com/aiox-platform/quotaguard/migrations"
)

// MigrationURL returns the golang-migrate database URL for cfg.
func MigrationURL(cfg config.DBConfig) string {
	if cfg.Driver == config.DriverSQLite {
		return SQLiteMigrationURL(cfg.Path)
	}
	return cfg.DSN()
}

func SQLiteMigrationURL(path string) string {
	return "sqlite3://" + path
}

// RunMigrations applies all pending up-migrations embedded for driver.
func RunMigrations(driver, databaseURL string) error {
	var files fs.FS
	switch driver {
	case config.DriverPostgres:
		files = migrations.Postgres()
	case config.DriverSQLite:
		files = migrations.SQLite()
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}

	src, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	ver, dirty, _ := m.Version()
	slog.Info("database migrations applied", "driver", driver, "version", ver, "dirty", dirty)
	return nil
}
