package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/store/wallpaper/postgres/migrations"
)

// runMigrations applies pending schema migrations. golang-migrate takes a
// PostgreSQL advisory lock, so concurrent instances racing at startup are
// safe: one migrates, the rest wait.
func runMigrations(ctx context.Context, connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("No migrations to apply, schema is up to date")
	} else {
		logger.Info("Schema migrations applied")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if !errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("Current schema version", "version", version, "dirty", dirty)
		if dirty {
			logger.Warn("Schema is in dirty state, manual intervention may be required")
		}
	}

	return nil
}

// RunMigrations applies migrations without constructing a store. Used by the
// migrate CLI command.
func RunMigrations(ctx context.Context, cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return runMigrations(ctx, cfg.URL)
}
