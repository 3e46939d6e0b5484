package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending schema migration. It opens a short-lived
// database/sql handle of its own and closes it before returning.
func Migrate(dsn string, logger zerolog.Logger) (uint, error) {
	if dsn == "" {
		return 0, fmt.Errorf("database.dsn is required")
	}

	connConfig, err := migrationConnConfig(dsn)
	if err != nil {
		return 0, err
	}
	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	m, err := newMigrator(db)
	if err != nil {
		return 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	} else if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Msg("no new migrations to apply")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info().Uint("version", version).Msg("database schema up to date")
	return version, nil
}

// migrationConnConfig mirrors the pool settings: simple protocol and no
// statement caches, so migrations are safe behind a transaction pooler.
func migrationConnConfig(dsn string) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	connConfig.StatementCacheCapacity = 0
	connConfig.DescriptionCacheCapacity = 0
	return connConfig, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}
